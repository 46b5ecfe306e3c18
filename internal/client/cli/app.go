package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syntaxdrive/ulink-sub002/internal/client/auth"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/memory"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/postgres"
	"github.com/syntaxdrive/ulink-sub002/internal/client/changefeed"
	"github.com/syntaxdrive/ulink-sub002/internal/client/config"
	"github.com/syntaxdrive/ulink-sub002/internal/client/feed"
	"github.com/syntaxdrive/ulink-sub002/internal/client/media"
	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/mutation"
	"github.com/syntaxdrive/ulink-sub002/internal/client/notifications"
	"github.com/syntaxdrive/ulink-sub002/internal/client/snapshot"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

const (
	demoSecret = "demo-secret"
	demoUser   = "u-ada"
)

// App is the interactive client. It is not safe for concurrent use; the
// REPL drives it from one goroutine while the change feed updates the
// stores in the background.
type App struct {
	config  *config.Config
	log     logging.Logger
	out     io.Writer
	reader  *bufio.Reader
	now     func() time.Time
	metrics *metrics.Metrics

	session *auth.Session
	backend backend.Backend
	demo    *memory.Backend

	feed  *feed.Engine
	mut   *mutation.Coordinator
	notes *notifications.Reconciler
	sub   *changefeed.Subscriber
	snap  *snapshot.Persister

	scope   models.Scope
	untrack []func()
	closers []func() error
}

// NewApp connects every component described by c. With an empty
// BackendDSN the app runs against a seeded in-memory backend.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	a := &App{
		config:  c,
		log:     log,
		out:     out,
		reader:  bufio.NewReader(in),
		now:     time.Now,
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	if err := a.openBackend(ctx); err != nil {
		return nil, err
	}

	feedOpts := []feed.Option{
		feed.WithPromoter(feed.PromoteAuthors(c.PromotedAuthors...)),
		feed.WithMetrics(a.metrics),
		feed.WithPageSize(c.FeedPageSize),
		feed.WithFetchTimeout(c.FetchTimeout),
	}
	if c.S3Bucket != "" {
		signer, err := media.NewS3Signer(ctx, media.Options{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("media signer: %w", err)
		}
		feedOpts = append(feedOpts, feed.WithMediaSigner(signer))
	}

	posts := store.NewFeedStore(store.WithStaleAfter(c.StaleAfter))
	comments := store.NewCommentStore()
	noteStore := store.NewNotificationStore(store.WithStaleAfter(c.StaleAfter))

	a.feed = feed.New(a.backend, posts, comments, log, feedOpts...)
	a.mut = mutation.New(a.backend, posts, comments, a.feed, log,
		mutation.WithMetrics(a.metrics), mutation.WithWriteTimeout(c.FetchTimeout))
	a.notes = notifications.New(a.backend, noteStore, log,
		notifications.WithMetrics(a.metrics),
		notifications.WithPageSize(c.NotificationPageSize),
		notifications.WithTimeout(c.FetchTimeout))
	a.sub = changefeed.New(a.backend, a.feed, log,
		changefeed.WithNotifications(a.notes), changefeed.WithMetrics(a.metrics))

	if c.CacheDSN != "" {
		db, err := snapshot.Open(ctx, c.CacheDSN, log)
		if err != nil {
			log.Warn(ctx, "snapshot cache unavailable, starting cold", "error", err)
		} else {
			a.snap = snapshot.NewPersister(db, log, snapshot.WithPassphrase(c.CacheKey))
			a.closers = append(a.closers, db.Close)
		}
	}
	return a, nil
}

func (a *App) openBackend(ctx context.Context) error {
	c := a.config
	if c.BackendDSN == "" {
		secret := c.TokenSecret
		if secret == "" {
			secret = demoSecret
		}
		token := c.AccessToken
		if token == "" {
			var err error
			if token, err = auth.GenerateToken(demoUser, []byte(secret), 24*time.Hour); err != nil {
				return fmt.Errorf("demo token: %w", err)
			}
		}
		a.session = auth.NewSession([]byte(secret), token)
		a.demo = memory.New()
		seedDemo(a.demo, time.Now())
		a.backend = a.demo
		a.syncDemoViewer(ctx)
		a.log.Info(ctx, "running against the in-memory demo backend")
		return nil
	}

	a.session = auth.NewSession([]byte(c.TokenSecret), c.AccessToken)
	b, db, err := postgres.Open(ctx, c.BackendDSN, a.log, postgres.WithViewer(a.session.Viewer))
	if err != nil {
		return err
	}
	a.backend = b
	a.closers = append(a.closers, func() error { b.Close(); return nil }, db.Close)
	return nil
}

// syncDemoViewer mirrors the session into the memory backend, which keeps
// its own notion of the signed-in user.
func (a *App) syncDemoViewer(ctx context.Context) {
	if a.demo == nil {
		return
	}
	v, _ := a.session.Viewer(ctx)
	a.demo.SetViewer(v.ID)
}

func (a *App) viewer(ctx context.Context) models.Viewer {
	v, _ := a.backend.CurrentViewer(ctx)
	return v
}

// Metrics exposes the collectors for the metrics endpoint.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Close tears down the change feed and releases every connection.
func (a *App) Close() {
	if a.sub != nil {
		a.sub.Close()
	}
	if a.mut != nil {
		a.mut.Wait()
	}
	a.stopTracking()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn(context.Background(), "shutdown", "error", err)
	}
}

func (a *App) stopTracking() {
	for _, cancel := range a.untrack {
		cancel()
	}
	a.untrack = nil
}

// openView (re)enters the feed for scope: it restores the snapshot when the
// cache is cold, refetches when the cache is stale, and reopens the change
// feed for the current viewer.
func (a *App) openView(ctx context.Context, scope models.Scope, force bool) error {
	// In-flight reconciliations of the previous view must finish before the
	// store is refilled for the new one.
	a.sub.Close()

	v := a.viewer(ctx)
	posts := a.feed.Posts()
	scopeChanged := scope != a.scope
	a.scope = scope

	a.stopTracking()
	if a.snap != nil {
		key := snapshot.FeedKey(scope, v)
		if scopeChanged || len(posts.Posts()) == 0 {
			ok, err := a.snap.RestoreFeed(ctx, key, posts)
			if err != nil {
				a.log.Warn(ctx, "feed snapshot not restored", "error", err)
			}
			if !ok && scopeChanged {
				posts.Hydrate(nil, time.Time{})
			}
		}
		a.untrack = append(a.untrack, a.snap.TrackFeed(key, posts))
		if !v.Anonymous() {
			if _, err := a.snap.RestoreNotifications(ctx, v, a.notes.Store()); err != nil {
				a.log.Warn(ctx, "notification snapshot not restored", "error", err)
			}
			a.untrack = append(a.untrack, a.snap.TrackNotifications(v, a.notes.Store()))
		}
	} else if scopeChanged {
		posts.Hydrate(nil, time.Time{})
	}

	if force || posts.IsStale() {
		if err := a.feed.FetchAll(ctx, scope, v); err != nil {
			return err
		}
	}
	return a.sub.Open(ctx, scope, v)
}
