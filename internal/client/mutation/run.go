package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// Env carries what Run needs from its caller.
type Env struct {
	Log     logging.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

func (e Env) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout > 0 {
		return context.WithTimeout(ctx, e.Timeout)
	}
	return context.WithCancel(ctx)
}

// Steps describes one optimistic mutation.
//
// Apply changes the cache and returns how to undo it. Remote performs the
// backend write. On success Reconcile, if set, publishes authoritative
// state. On failure Recover, if set, replaces the plain revert.
type Steps[T any] struct {
	Kind      string
	Apply     func() (revert func())
	Remote    func(ctx context.Context) (T, error)
	Reconcile func(ctx context.Context, res T)
	Recover   func(ctx context.Context, revert func())

	// Idempotent writes treat common.ErrConflict as success.
	Idempotent bool
	// KeepOnFailure leaves the local change in place when the write fails.
	KeepOnFailure bool
}

// Run executes s: apply locally, write remotely, then reconcile or revert.
// The returned error is the remote failure after the revert has completed.
func Run[T any](ctx context.Context, env Env, s Steps[T]) (T, error) {
	revert := func() {}
	if s.Apply != nil {
		if r := s.Apply(); r != nil {
			revert = r
		}
	}

	rctx, cancel := env.withTimeout(ctx)
	res, err := s.Remote(rctx)
	cancel()

	if err != nil && s.Idempotent && errors.Is(err, common.ErrConflict) {
		env.Log.Info(ctx, "conflict on idempotent write treated as success", "kind", s.Kind, "error", err)
		err = nil
	}

	if err != nil {
		reverted := !s.KeepOnFailure
		switch {
		case s.KeepOnFailure:
			env.Log.Error(ctx, "remote write failed, local change kept", "kind", s.Kind, "error", err)
		case s.Recover != nil:
			s.Recover(ctx, revert)
		default:
			revert()
		}
		env.Metrics.Mutation(s.Kind, err, reverted)
		var zero T
		return zero, fmt.Errorf("%s: %w", s.Kind, transient(err))
	}

	if s.Reconcile != nil {
		s.Reconcile(ctx, res)
	}
	env.Metrics.Mutation(s.Kind, nil, false)
	return res, nil
}

func transient(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrTransient) {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return err
}
