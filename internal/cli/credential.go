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
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/lockout"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver"
	"github.com/jeremyhahn/go-pinweaver/pkg/secret"
)

// addCmd creates a new credential
var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new credential",
	Long: `Add a new credential protected by the secure element.

The PIN is stretched to the element's low-entropy secret; the released
high-entropy secret is generated randomly unless --he-secret is given.
The delay schedule bounds failed attempts, for example:

  pinweaver add --pin 1234 --schedule "5:20s,10:5m,15:forever"`,
	Run: func(cmd *cobra.Command, args []string) {
		pin, _ := cmd.Flags().GetString("pin")
		heSecretB64, _ := cmd.Flags().GetString("he-secret")
		scheduleSpec, _ := cmd.Flags().GetString("schedule")

		pinSecret, err := secret.NewFromString(pin)
		if err != nil {
			handleError(fmt.Errorf("--pin is required"))
			return
		}
		schedule, err := parseSchedule(scheduleSpec)
		if err != nil {
			handleError(fmt.Errorf("invalid schedule: %w", err))
			return
		}
		heSecret, err := resolveHESecret(heSecretB64)
		if err != nil {
			handleError(err)
			return
		}

		printVerbose("Adding credential with %d schedule entries", len(schedule))

		engine, _, err := buildEngine(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		label, err := engine.AddCredential(context.Background(), lockout.AddParams{
			LESecret:      stretchPIN(pinSecret),
			HESecret:      heSecret,
			DelaySchedule: schedule,
		})
		if err != nil {
			handleError(err)
			return
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintLabel(label); err != nil {
			handleError(err)
		}
	},
}

// checkCmd attempts authentication against a credential
var checkCmd = &cobra.Command{
	Use:   "check <label>",
	Short: "Check a credential",
	Long: `Attempt authentication against the credential at the given label.
On success the high-entropy secret is printed base64 encoded. A wrong
PIN advances the element's failure counter; once the delay schedule's
bound is reached further attempts are refused until the cooldown ends.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pin, _ := cmd.Flags().GetString("pin")
		pinSecret, err := secret.NewFromString(pin)
		if err != nil {
			handleError(fmt.Errorf("--pin is required"))
			return
		}

		engine, _, err := buildEngine(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		label, err := parseLabel(args[0], engine.Shape())
		if err != nil {
			handleError(err)
			return
		}

		heSecret, err := engine.CheckCredential(context.Background(), lockout.CheckParams{
			Label:    label,
			LESecret: stretchPIN(pinSecret),
		})
		if err != nil {
			handleError(err)
			return
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintSecret(heSecret); err != nil {
			handleError(err)
		}
	},
}

// removeCmd deletes a credential
var removeCmd = &cobra.Command{
	Use:   "remove <label>",
	Short: "Remove a credential",
	Long:  `Remove the credential at the given label, returning its leaf to the free pool.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine, _, err := buildEngine(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		label, err := parseLabel(args[0], engine.Shape())
		if err != nil {
			handleError(err)
			return
		}

		if err := engine.RemoveCredential(context.Background(), label); err != nil {
			handleError(err)
			return
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintSuccess(fmt.Sprintf("Removed credential %d", label.Value())); err != nil {
			handleError(err)
		}
	},
}

// provisionCmd establishes first-boot state without touching credentials
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision the engine",
	Long: `Establish mutually consistent empty state across the hash tree
mirror, the metadata store, and the secure element. A no-op when a
persisted tree already exists.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine, cfg, err := buildEngine(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintSuccess(fmt.Sprintf(
			"Provisioned %d-leaf tree at %s", engine.Shape().NumLeaves(), cfg.Tree.Path)); err != nil {
			handleError(err)
		}
	},
}

// statusCmd prints the engine's tree geometry
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Run: func(cmd *cobra.Command, args []string) {
		engine, cfg, err := buildEngine(context.Background())
		if err != nil {
			handleError(err)
			return
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintStatus(engine.Shape(), cfg.Tree.Path); err != nil {
			handleError(err)
		}
	},
}

func init() {
	addCmd.Flags().String("pin", "", "low-entropy secret to protect the credential with")
	addCmd.Flags().String("he-secret", "", "high-entropy secret to release on success, base64 (random if omitted)")
	addCmd.Flags().String("schedule", "5:20s,10:5m", "delay schedule as attempts:delay pairs; delay 'forever' blocks permanently")

	checkCmd.Flags().String("pin", "", "low-entropy secret to check")
}

// stretchPIN derives the element's fixed-size low-entropy secret from a
// user PIN and zeroes the PIN afterwards. The element compares secrets
// in constant time; the digest here only normalizes length.
func stretchPIN(pin *secret.Secret) []byte {
	defer pin.Clear()
	sum := sha256.Sum256(pin.Bytes())
	return sum[:]
}

func randomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate high-entropy secret: %w", err)
	}
	return secret, nil
}

func resolveHESecret(encoded string) ([]byte, error) {
	if encoded == "" {
		return randomSecret()
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid --he-secret: %w", err)
	}
	return secret, nil
}

// parseSchedule parses "attempts:delay" pairs separated by commas. The
// delay "forever" maps to a practically unbounded lockout.
func parseSchedule(spec string) (pinweaver.DelaySchedule, error) {
	var schedule pinweaver.DelaySchedule
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("entry %q is not attempts:delay", part)
		}
		attempts, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", part, err)
		}
		var delay time.Duration
		if strings.EqualFold(fields[1], "forever") {
			delay = 100 * 365 * 24 * time.Hour
		} else {
			delay, err = time.ParseDuration(fields[1])
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", part, err)
			}
		}
		schedule = append(schedule, pinweaver.DelayEntry{
			AttemptCount: uint32(attempts),
			Delay:        delay,
		})
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("schedule is empty")
	}
	return schedule, nil
}

func parseLabel(arg string, shape hashtree.Shape) (hashtree.Label, error) {
	value, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return hashtree.Label{}, fmt.Errorf("invalid label %q: %w", arg, err)
	}
	label, err := hashtree.LeafLabel(value, shape.LabelLength())
	if err != nil {
		return hashtree.Label{}, fmt.Errorf("invalid label %q: %w", arg, err)
	}
	return label, nil
}
