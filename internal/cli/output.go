// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinweaver.
//
// go-pinweaver is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintLabel prints a newly allocated credential label
func (p *Printer) PrintLabel(label hashtree.Label) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"label":       label.Value(),
			"label_bits":  label.Length(),
			"label_human": label.String(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Credential added with label %d\n", label.Value())
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSecret prints a released high-entropy secret (base64 encoded)
func (p *Printer) PrintSecret(secret []byte) error {
	encoded := base64.StdEncoding.EncodeToString(secret)
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"he_secret": encoded,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints the engine's tree geometry
func (p *Printer) PrintStatus(shape hashtree.Shape, treePath string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"bits_per_level": shape.BitsPerLevel,
			"tree_height":    shape.TreeHeight,
			"num_leaves":     shape.NumLeaves(),
			"tree_path":      treePath,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, "Engine status:")
		fmt.Fprintf(p.writer, "  Bits per level: %d\n", shape.BitsPerLevel)
		fmt.Fprintf(p.writer, "  Tree height:    %d\n", shape.TreeHeight)
		fmt.Fprintf(p.writer, "  Leaf capacity:  %d\n", shape.NumLeaves())
		fmt.Fprintf(p.writer, "  Tree file:      %s\n", treePath)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
