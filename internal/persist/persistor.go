// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package persist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/authstate"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// DefaultKey is the storage key used when none is configured. All state for
// one gateway instance lives under a single fixed key.
const DefaultKey = "gatehouse:root"

// finalFlushTimeout bounds the last write during shutdown, when the caller's
// context is already cancelled.
const finalFlushTimeout = 5 * time.Second

// Options configure a Persistor.
type Options struct {
	Store      *authstate.Store
	Engine     Engine
	Key        string
	AppVersion string
	Transforms []Transform
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Persistor mirrors the durable subset of the state store into an engine and
// restores it on startup. Write failures are logged and counted but never
// propagate; persistence must not break the sign-in flow.
type Persistor struct {
	store      *authstate.Store
	engine     Engine
	key        string
	appVersion string
	transforms []Transform
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates a Persistor.
func New(opts Options) (*Persistor, error) {
	if opts.Store == nil {
		return nil, oops.Errorf("state store is required")
	}
	if opts.Engine == nil {
		return nil, oops.Errorf("storage engine is required")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Persistor{
		store:      opts.Store,
		engine:     opts.Engine,
		key:        opts.Key,
		appVersion: opts.AppVersion,
		transforms: opts.Transforms,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}, nil
}

// Rehydrate loads the persisted snapshot into the state store. It never
// fails: missing, unreadable, or incompatible state leaves the store in the
// fresh unauthenticated state, and the gateway starts anyway.
func (p *Persistor) Rehydrate(ctx context.Context) {
	raw, err := p.engine.Load(ctx, p.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.recordRehydration("empty")
			p.logger.DebugContext(ctx, "no persisted state", "engine", p.engine.Name())
			return
		}
		p.recordRehydration("error")
		errutil.LogWarn(p.logger, "could not load persisted state; starting fresh", err)
		return
	}

	for i := len(p.transforms) - 1; i >= 0; i-- {
		raw, err = p.transforms[i].Invert(raw)
		if err != nil {
			p.recordRehydration("discarded")
			errutil.LogWarn(p.logger, "persisted state unreadable; starting fresh", err)
			return
		}
	}

	snap, err := DecodeSnapshot(raw)
	if err != nil {
		p.recordRehydration("discarded")
		errutil.LogWarn(p.logger, "persisted state corrupt; starting fresh", err)
		return
	}

	if !CompatibleAppVersion(snap.AppVersion, p.appVersion) {
		p.recordRehydration("discarded")
		p.logger.WarnContext(ctx, "persisted state from incompatible version; starting fresh",
			"written_by", snap.AppVersion,
			"running", p.appVersion,
		)
		return
	}

	p.store.Rehydrate(snap.State.User, snap.State.IsAuthenticated)
	p.recordRehydration("restored")
	p.logger.InfoContext(ctx, "state rehydrated",
		"engine", p.engine.Name(),
		"authenticated", snap.State.IsAuthenticated,
		"written_at", snap.WrittenAt,
	)
}

// Run mirrors state changes into the engine until ctx is cancelled, then
// writes one final snapshot so shutdown never loses the latest transition.
func (p *Persistor) Run(ctx context.Context) {
	ch := p.store.Watch()
	defer p.store.Unwatch(ch)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			p.Flush(flushCtx)
			cancel()
			return
		case <-ch:
			p.Flush(ctx)
		}
	}
}

// Flush writes the current durable state to the engine. Failures are logged
// at warn level and recorded in metrics; callers are never interrupted.
func (p *Persistor) Flush(ctx context.Context) {
	snap := NewSnapshot(p.store.Snapshot(), p.appVersion)

	data, err := snap.Encode()
	if err != nil {
		p.recordWrite("failure")
		errutil.LogWarn(p.logger, "state write skipped", err)
		return
	}

	for _, tr := range p.transforms {
		data, err = tr.Apply(data)
		if err != nil {
			p.recordWrite("failure")
			errutil.LogWarn(p.logger, "state write skipped", err)
			return
		}
	}

	if err := p.engine.Store(ctx, p.key, data); err != nil {
		p.recordWrite("failure")
		errutil.LogWarn(p.logger, "state write failed", err)
		return
	}

	p.recordWrite("success")
	p.logger.DebugContext(ctx, "state written", "engine", p.engine.Name())
}

// Peek loads and decodes the persisted snapshot without touching the state
// store. Used by inspection commands.
func (p *Persistor) Peek(ctx context.Context) (Snapshot, error) {
	raw, err := p.engine.Load(ctx, p.key)
	if err != nil {
		return Snapshot{}, err
	}
	for i := len(p.transforms) - 1; i >= 0; i-- {
		raw, err = p.transforms[i].Invert(raw)
		if err != nil {
			return Snapshot{}, err
		}
	}
	return DecodeSnapshot(raw)
}

// Reset deletes the persisted snapshot. The in-memory store is untouched.
func (p *Persistor) Reset(ctx context.Context) error {
	if err := p.engine.Delete(ctx, p.key); err != nil {
		return oops.Code("PERSIST_RESET_FAILED").
			With("engine", p.engine.Name()).
			Wrap(err)
	}
	p.logger.InfoContext(ctx, "persisted state removed", "engine", p.engine.Name())
	return nil
}

func (p *Persistor) recordRehydration(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.RehydrationsTotal.WithLabelValues(outcome).Inc()
}

func (p *Persistor) recordWrite(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.StateWritesTotal.WithLabelValues(p.engine.Name(), outcome).Inc()
}
