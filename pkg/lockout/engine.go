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

// Package lockout implements the credential orchestration engine. It keeps
// three stores mutually consistent: the host's hash tree mirror, the
// persistent metadata lookup table, and the secure element's single trusted
// root digest, with the element as the only source of truth for whether an
// operation really happened.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pinweaver/pkg/correlation"
	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/logging"
	"github.com/jeremyhahn/go-pinweaver/pkg/metrics"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver"
	"github.com/jeremyhahn/go-pinweaver/pkg/storage"
)

// AddParams carries the secrets and lockout schedule for a new credential.
type AddParams struct {
	// LESecret is the low-entropy secret (PIN) checked on every auth.
	LESecret []byte

	// HESecret is the high-entropy secret released on successful auth.
	HESecret []byte

	// DelaySchedule is the lockout schedule the element enforces.
	DelaySchedule pinweaver.DelaySchedule
}

// CheckParams identifies the credential and the attempted secret.
type CheckParams struct {
	Label    hashtree.Label
	LESecret []byte
}

// Config assembles the engine's collaborators. Store and Element are
// required; zero values elsewhere fall back to defaults.
type Config struct {
	// TreePath is the location of the persisted hash tree file.
	TreePath string

	// Shape fixes the tree geometry for first-boot provisioning. The
	// zero value means hashtree.DefaultShape. A previously persisted
	// tree keeps its own shape regardless.
	Shape hashtree.Shape

	// Store is the credential metadata lookup table.
	Store storage.Store

	// Element is the secure element protocol client.
	Element pinweaver.Protocol

	// Logger defaults to logging.DefaultLogger().
	Logger *logging.Logger
}

// Engine is the credential orchestration engine. There is exactly one per
// process, owning its tree, store and element handles exclusively. All
// public operations are mutually exclusive end to end: one lock is held
// from proof computation through the element round trip to persistence, so
// the single-channel element never sees interleaved operations.
type Engine struct {
	mu       sync.Mutex
	tree     *hashtree.Tree
	treePath string
	store    storage.Store
	element  pinweaver.Protocol
	log      *logging.Logger
}

// New constructs the engine, provisioning on first boot: if no tree has
// ever been persisted at TreePath, the metadata store is cleared, the
// element's tree is reset to the configured shape, and a fresh empty mirror
// is persisted. A tree file that exists but cannot be read fails
// construction outright; destroying state that merely failed to parse
// would also destroy the element's matching root.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("lockout: metadata store is required")
	}
	if cfg.Element == nil {
		return nil, fmt.Errorf("lockout: secure element client is required")
	}
	if cfg.TreePath == "" {
		return nil, fmt.Errorf("lockout: tree path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}
	log = log.Named("lockout")

	e := &Engine{
		treePath: cfg.TreePath,
		store:    cfg.Store,
		element:  cfg.Element,
		log:      log,
	}

	started := time.Now()
	tree, err := hashtree.Load(cfg.TreePath)
	switch {
	case err == nil:
		e.tree = tree
		log.Info("loaded persisted hash tree",
			"path", cfg.TreePath,
			"occupied", tree.Shape().NumLeaves()-tree.FreeCount())

	case errors.Is(err, hashtree.ErrNotFound):
		shape := cfg.Shape
		if shape == (hashtree.Shape{}) {
			shape = hashtree.DefaultShape
		}
		if err := e.provision(ctx, shape); err != nil {
			return nil, err
		}
		log.Info("provisioned fresh hash tree",
			"path", cfg.TreePath,
			"bits_per_level", shape.BitsPerLevel,
			"tree_height", shape.TreeHeight)

	default:
		return nil, fmt.Errorf("lockout: failed to load hash tree: %w", err)
	}

	metrics.RecordOperation(metrics.OpProvision, metrics.StatusSuccess, time.Since(started))
	e.updateOccupancy()
	return e, nil
}

// provision establishes a fresh, mutually consistent empty state across
// all three stores.
func (e *Engine) provision(ctx context.Context, shape hashtree.Shape) error {
	if err := e.store.Reset(); err != nil {
		return fmt.Errorf("lockout: failed to reset metadata store: %w", err)
	}
	if err := e.element.ResetTree(ctx, shape); err != nil {
		return fmt.Errorf("lockout: failed to reset secure element tree: %w", err)
	}
	tree, err := hashtree.New(shape)
	if err != nil {
		return fmt.Errorf("lockout: failed to create hash tree: %w", err)
	}
	if err := tree.Store(e.treePath); err != nil {
		return fmt.Errorf("lockout: failed to persist fresh hash tree: %w", err)
	}
	e.tree = tree
	return nil
}

// AddCredential allocates a free leaf, asks the element to create the
// credential there, and records the element's returned digest and metadata
// before persisting the tree. If the element call fails the leaf stays
// free and nothing is written.
func (e *Engine) AddCredential(ctx context.Context, params AddParams) (hashtree.Label, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	opID := correlation.GetOrGenerate(ctx)

	label, err := e.tree.GetFreeLeafLabel()
	if err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: tree exhausted", ErrNoFreeLabel))
	}
	hAux, err := e.tree.GetAuxiliaryHashes(label)
	if err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	cred, err := e.element.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:         label,
		HAux:          hAux,
		LESecret:      params.LESecret,
		HESecret:      params.HESecret,
		DelaySchedule: params.DelaySchedule,
	})
	if err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: insert_leaf: %v", ErrInternal, err))
	}

	if err := e.tree.UpdateLeafHash(label, cred.Digest); err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: %v", ErrCorruptedMetadata, err))
	}
	if err := e.tree.MarkOccupied(label); err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: %v", ErrCorruptedMetadata, err))
	}
	if err := e.store.Put(label.Value(), cred.Metadata); err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: metadata write: %v", ErrInternal, err))
	}
	if err := e.tree.Store(e.treePath); err != nil {
		return hashtree.Label{}, e.fail(metrics.OpAdd, started, opID, fmt.Errorf("%w: tree persist: %v", ErrInternal, err))
	}

	e.log.Info("credential added", "operation_id", opID, "label", label.String())
	metrics.RecordOperation(metrics.OpAdd, metrics.StatusSuccess, time.Since(started))
	e.updateOccupancy()
	return label, nil
}

// CheckCredential processes one authentication attempt. Success and failure
// both advance element state, since the failure counter moves either way;
// both outcomes persist the returned digest and metadata before the result
// is reported. A rate-limited attempt mutates nothing.
func (e *Engine) CheckCredential(ctx context.Context, params CheckParams) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	opID := correlation.GetOrGenerate(ctx)

	occupied, err := e.tree.IsOccupied(params.Label)
	if err != nil || !occupied {
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: %s", ErrInvalidLabel, params.Label))
	}
	metadata, err := e.store.Get(params.Label.Value())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: no metadata for %s", ErrInvalidLabel, params.Label))
		}
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: metadata read: %v", ErrInternal, err))
	}
	hAux, err := e.tree.GetAuxiliaryHashes(params.Label)
	if err != nil {
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	result, err := e.element.TryAuth(ctx, params.LESecret, hAux, metadata)
	if err != nil {
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: try_auth: %v", ErrInternal, err))
	}

	switch result.Outcome {
	case pinweaver.OutcomeSuccess, pinweaver.OutcomeFailed:
		if err := e.tree.UpdateLeafHash(params.Label, result.Digest); err != nil {
			return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: %v", ErrCorruptedMetadata, err))
		}
		if err := e.store.Put(params.Label.Value(), result.Metadata); err != nil {
			return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: metadata write: %v", ErrInternal, err))
		}
		if err := e.tree.Store(e.treePath); err != nil {
			return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: tree persist: %v", ErrInternal, err))
		}
		if result.Outcome == pinweaver.OutcomeFailed {
			e.log.Info("credential check failed",
				"operation_id", opID, "label", params.Label.String())
			return nil, e.fail(metrics.OpCheck, started, opID, ErrInvalidSecret)
		}
		e.log.Info("credential check succeeded",
			"operation_id", opID, "label", params.Label.String())
		metrics.RecordOperation(metrics.OpCheck, metrics.StatusSuccess, time.Since(started))
		return result.HESecret, nil

	case pinweaver.OutcomeRateLimited:
		e.log.Info("credential check rate-limited",
			"operation_id", opID,
			"label", params.Label.String(),
			"wait_hint", result.WaitHint.String())
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: retry in %s", ErrTooManyAttempts, result.WaitHint))

	default:
		return nil, e.fail(metrics.OpCheck, started, opID, fmt.Errorf("%w: unexpected auth outcome %d", ErrInternal, result.Outcome))
	}
}

// RemoveCredential deletes the credential at label. On element success the
// metadata entry is removed, the leaf returns to the free pool, and the
// tree is persisted; on element failure nothing local changes and the
// label remains occupied.
func (e *Engine) RemoveCredential(ctx context.Context, label hashtree.Label) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	opID := correlation.GetOrGenerate(ctx)

	occupied, err := e.tree.IsOccupied(label)
	if err != nil || !occupied {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: %s", ErrInvalidLabel, label))
	}
	digest, err := e.tree.GetLeafHash(label)
	if err != nil {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: %v", ErrInvalidLabel, err))
	}
	hAux, err := e.tree.GetAuxiliaryHashes(label)
	if err != nil {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	if err := e.element.RemoveLeaf(ctx, label, digest, hAux); err != nil {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: remove_leaf: %v", ErrInternal, err))
	}

	if err := e.store.Delete(label.Value()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: metadata delete: %v", ErrInternal, err))
	}
	if err := e.tree.DeleteLeaf(label); err != nil {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: %v", ErrInternal, err))
	}
	if err := e.tree.Store(e.treePath); err != nil {
		return e.fail(metrics.OpRemove, started, opID, fmt.Errorf("%w: tree persist: %v", ErrInternal, err))
	}

	e.log.Info("credential removed", "operation_id", opID, "label", label.String())
	metrics.RecordOperation(metrics.OpRemove, metrics.StatusSuccess, time.Since(started))
	e.updateOccupancy()
	return nil
}

// Shape returns the tree geometry of the running engine.
func (e *Engine) Shape() hashtree.Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Shape()
}

// fail records metrics and logs for an operation error, then returns it.
func (e *Engine) fail(operation string, started time.Time, opID string, err error) error {
	e.log.Debug("operation failed",
		"operation", operation,
		"operation_id", opID,
		"error", err.Error())
	metrics.RecordOperation(operation, metrics.StatusError, time.Since(started))
	metrics.RecordError(operation, errorType(err))
	return err
}

func (e *Engine) updateOccupancy() {
	metrics.SetOccupiedLeaves(e.tree.Shape().NumLeaves() - e.tree.FreeCount())
}

// errorType maps an engine error to its metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNoFreeLabel):
		return "no_free_label"
	case errors.Is(err, ErrInvalidLabel):
		return "invalid_label"
	case errors.Is(err, ErrInvalidSecret):
		return "invalid_secret"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrCorruptedMetadata):
		return "corrupted_metadata"
	default:
		return "internal"
	}
}
