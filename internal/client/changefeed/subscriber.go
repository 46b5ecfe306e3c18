// Package changefeed keeps a live subscription to backend change events for
// the active view and turns them into point reconciliations.
//
// A Subscriber owns at most one logical subscription. Every Open and Close
// bumps an epoch; handlers capture the epoch they were registered under and
// drop events once it is superseded, so a late event from a previous scope
// or an unmounted view is never applied.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// FeedReconciler is the part of feed.Engine driven by post, like, comment
// and poll vote events.
type FeedReconciler interface {
	FetchOne(ctx context.Context, id string, scope models.Scope) error
	Refresh(ctx context.Context, id string) error
	RefreshTarget(ctx context.Context, target string) error
}

// NotificationReconciler is the part of notifications.Reconciler driven by
// connection and notification events addressed to the viewer.
type NotificationReconciler interface {
	ReconcileRequest(ctx context.Context, id string) error
	DropRequest(id string)
	ReconcileNotification(ctx context.Context, id string) error
}

// Subscriber is safe for concurrent use. Close must not be called from a
// reconciler callback.
type Subscriber struct {
	backend backend.Backend
	feed    FeedReconciler
	notes   NotificationReconciler
	log     logging.Logger
	metrics *metrics.Metrics
	retry   failsafe.Executor[any]

	mu     sync.Mutex
	epoch  uint64
	scope  models.Scope
	viewer models.Viewer
	subs   []backend.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Subscriber)

// WithNotifications routes connection and notification events to r.
func WithNotifications(r NotificationReconciler) Option {
	return func(s *Subscriber) { s.notes = r }
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Subscriber) { s.metrics = m } }

// WithRetry tunes retries of failed background reconciliations. Only
// transient failures are retried.
func WithRetry(base, maxDelay time.Duration, maxRetries int) Option {
	return func(s *Subscriber) { s.retry = newRetryExecutor(base, maxDelay, maxRetries) }
}

func New(b backend.Backend, feed FeedReconciler, log logging.Logger, opts ...Option) *Subscriber {
	s := &Subscriber{
		backend: b,
		feed:    feed,
		log:     log,
		retry:   newRetryExecutor(100*time.Millisecond, 2*time.Second, 3),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newRetryExecutor(base, maxDelay time.Duration, maxRetries int) failsafe.Executor[any] {
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(base, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, common.ErrTransient)
		}).
		Build()
	return failsafe.With[any](retry)
}

type route struct {
	kind   backend.Kind
	events []backend.EventType
	handle func(ctx context.Context, ev backend.Event) error
}

// Open tears down any previous subscription and subscribes for scope on
// behalf of viewer. Notification routes are registered only for an
// authenticated viewer.
func (s *Subscriber) Open(ctx context.Context, scope models.Scope, viewer models.Viewer) error {
	s.Close()

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.scope, s.viewer = scope, viewer
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	routes := []route{
		{backend.KindPosts, backend.AllEvents, s.onPost},
		{backend.KindLikes, []backend.EventType{backend.EventInsert, backend.EventDelete}, s.onPostActivity},
		{backend.KindComments, []backend.EventType{backend.EventInsert, backend.EventDelete}, s.onPostActivity},
		{backend.KindPollVotes, backend.AllEvents, s.onPostActivity},
	}
	if s.notes != nil && !viewer.Anonymous() {
		routes = append(routes,
			route{backend.KindConnections, backend.AllEvents, s.onConnection},
			route{backend.KindNotifications, []backend.EventType{backend.EventInsert}, s.onNotification},
		)
	}

	var subs []backend.Subscription
	for _, r := range routes {
		handle := r.handle
		sub, err := s.backend.Subscribe(ctx, r.kind, r.events, func(ev backend.Event) {
			s.dispatch(epoch, ev, handle)
		})
		if err != nil {
			for _, done := range subs {
				_ = s.backend.Unsubscribe(done)
			}
			s.Close()
			return fmt.Errorf("subscribe %s: %w", r.kind, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		for _, sub := range subs {
			_ = s.backend.Unsubscribe(sub)
		}
		return nil
	}
	s.subs = subs
	s.mu.Unlock()

	s.log.Debug(ctx, "change feed opened", "scope", scope.String(), "epoch", epoch)
	return nil
}

// Close unsubscribes, cancels in-flight reconciliations and waits for them
// to return. No event is applied after Close returns.
func (s *Subscriber) Close() {
	s.mu.Lock()
	s.epoch++
	subs := s.subs
	s.subs = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.backend.Unsubscribe(sub); err != nil {
			s.log.Warn(context.Background(), "unsubscribe failed", "subscription", sub.ID(), "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Wait blocks until every reconciliation started so far has finished.
func (s *Subscriber) Wait() { s.wg.Wait() }

// Epoch identifies the current subscription generation.
func (s *Subscriber) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Subscriber) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

func (s *Subscriber) dispatch(epoch uint64, ev backend.Event, handle func(context.Context, backend.Event) error) {
	s.mu.Lock()
	if s.epoch != epoch || s.ctx == nil {
		s.mu.Unlock()
		s.metrics.Dropped("stale_epoch")
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.retry.WithContext(ctx).Run(func() error {
			if !s.current(epoch) {
				return nil
			}
			return handle(ctx, ev)
		})
		if err != nil && ctx.Err() == nil {
			s.log.Warn(ctx, "background reconciliation failed",
				"kind", string(ev.Kind), "type", string(ev.Type), "error", err)
		}
	}()
}

func (s *Subscriber) snapshot() (models.Scope, models.Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope, s.viewer
}

func stringField(row backend.Record, field string) string {
	v, _ := row[field].(string)
	return v
}

func (s *Subscriber) onPost(ctx context.Context, ev backend.Event) error {
	row := ev.Row()
	id := stringField(row, "id")
	if id == "" {
		s.metrics.Dropped("malformed")
		return nil
	}

	var community *string
	switch v := row["community_id"].(type) {
	case nil:
	case string:
		if v != "" {
			community = &v
		}
	default:
		s.metrics.Dropped("malformed")
		return nil
	}

	scope, _ := s.snapshot()
	if !scope.Contains(community) {
		s.metrics.Dropped("scope")
		return nil
	}

	if err := s.feed.FetchOne(ctx, id, scope); err != nil {
		return err
	}
	if original := stringField(row, "original_post_id"); original != "" {
		return s.feed.RefreshTarget(ctx, original)
	}
	return nil
}

func (s *Subscriber) onPostActivity(ctx context.Context, ev backend.Event) error {
	postID := stringField(ev.Row(), "post_id")
	if postID == "" {
		s.metrics.Dropped("malformed")
		return nil
	}
	return s.feed.Refresh(ctx, postID)
}

func (s *Subscriber) onConnection(ctx context.Context, ev backend.Event) error {
	row := ev.Row()
	_, viewer := s.snapshot()
	if stringField(row, "receiver_id") != viewer.ID {
		s.metrics.Dropped("recipient")
		return nil
	}
	id := stringField(row, "id")
	if id == "" {
		s.metrics.Dropped("malformed")
		return nil
	}

	status := models.ConnectionStatus(stringField(row, "status"))
	if ev.Type == backend.EventDelete || (status != "" && status != models.ConnectionPending) {
		s.notes.DropRequest(id)
		return nil
	}
	if ev.Type == backend.EventInsert {
		return s.notes.ReconcileRequest(ctx, id)
	}
	return nil
}

func (s *Subscriber) onNotification(ctx context.Context, ev backend.Event) error {
	_, viewer := s.snapshot()
	if stringField(ev.New, "user_id") != viewer.ID {
		s.metrics.Dropped("recipient")
		return nil
	}
	// Change events carry routing columns only; the row is fetched.
	id := stringField(ev.New, "id")
	if id == "" {
		s.metrics.Dropped("malformed")
		return nil
	}
	return s.notes.ReconcileNotification(ctx, id)
}
