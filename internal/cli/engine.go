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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-pinweaver/internal/config"
	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/lockout"
	"github.com/jeremyhahn/go-pinweaver/pkg/logging"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver/sim"
	"github.com/jeremyhahn/go-pinweaver/pkg/storage"
	"github.com/jeremyhahn/go-pinweaver/pkg/storage/file"
)

// loadConfig resolves the effective configuration from the config file
// and the --data-dir override.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.Tree.Path = filepath.Join(dataDir, "tree.cbor")
		cfg.Storage.Path = filepath.Join(dataDir, "metadata")
		cfg.Element.StateFile = filepath.Join(dataDir, "element.cbor")
	}
	return cfg, nil
}

// buildEngine assembles the lockout engine from the resolved configuration.
// The element backend is an in-process simulator speaking the real wire
// protocol over a loopback transport; its sealed state persists across
// invocations through the configured state file.
func buildEngine(ctx context.Context) (*lockout.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := logging.NewWithOptions(level, cfg.Logging.Format)

	var store storage.Store
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		store = storage.NewMemory()
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		store, err = file.New(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Element.StateFile), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create element state directory: %w", err)
	}
	element, err := sim.New(sim.WithStateFile(cfg.Element.StateFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start secure element simulator: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Tree.Path), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create tree directory: %w", err)
	}
	engine, err := lockout.New(ctx, lockout.Config{
		TreePath: cfg.Tree.Path,
		Shape: hashtree.Shape{
			BitsPerLevel: cfg.Tree.BitsPerLevel,
			TreeHeight:   cfg.Tree.Height,
		},
		Store:   store,
		Element: pinweaver.NewClient(pinweaver.NewLoopback(element)),
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}
