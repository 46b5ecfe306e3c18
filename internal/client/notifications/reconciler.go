// Package notifications keeps the pending connection requests and the
// general notifications of the viewer in sync with the backend.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/mutation"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// Reconciler is safe for concurrent use.
type Reconciler struct {
	backend  backend.Backend
	store    *store.NotificationStore
	log      logging.Logger
	metrics  *metrics.Metrics
	pageSize int
	timeout  time.Duration
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

// WithPageSize bounds the general notification fetch.
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option { return func(r *Reconciler) { r.timeout = d } }

func New(b backend.Backend, s *store.NotificationStore, log logging.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:  b,
		store:    s,
		log:      log,
		pageSize: common.NotificationPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Store() *store.NotificationStore { return r.store }

func (r *Reconciler) env() mutation.Env {
	return mutation.Env{Log: r.log, Metrics: r.metrics, Timeout: r.timeout}
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Reconciler) viewer(ctx context.Context) (models.Viewer, error) {
	v, ok := r.backend.CurrentViewer(ctx)
	if !ok {
		return models.Viewer{}, common.ErrUnauthorized
	}
	return v, nil
}

func transient(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrTransient) {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return err
}

// Refresh bulk-fetches whichever sequence is stale or cold. With force both
// are refetched.
func (r *Reconciler) Refresh(ctx context.Context, force bool) error {
	g, gctx := errgroup.WithContext(ctx)
	if force || r.store.RequestsStale() {
		g.Go(func() error { return r.FetchRequests(gctx) })
	}
	if force || r.store.GeneralStale() {
		g.Go(func() error { return r.FetchGeneral(gctx) })
	}
	return g.Wait()
}

// FetchRequests replaces the pending connection requests addressed to the
// viewer. On failure the cached sequence is left untouched.
func (r *Reconciler) FetchRequests(ctx context.Context) (err error) {
	defer func(start time.Time) { r.metrics.ObserveFetch("requests", start, err) }(time.Now())

	v, err := r.viewer(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	recs, err := r.backend.List(ctx, backend.KindConnections,
		backend.Where("receiver_id", v.ID).Eq("status", string(models.ConnectionPending)),
		backend.ByCreatedDesc, 0)
	if err != nil {
		return fmt.Errorf("fetch requests: %w", transient(err))
	}

	reqs := make([]models.ConnectionRequest, 0, len(recs))
	for _, rec := range recs {
		req, err := models.ConnectionRequestFromRecord(rec)
		if err != nil {
			r.log.Warn(ctx, "skipping malformed connection request", "error", err)
			continue
		}
		reqs = append(reqs, req)
	}
	r.attachRequesters(ctx, reqs)

	r.store.ReplaceRequests(reqs)
	return nil
}

// attachRequesters fills requester profiles. Missing profiles leave the
// id-only snapshot in place.
func (r *Reconciler) attachRequesters(ctx context.Context, reqs []models.ConnectionRequest) {
	if len(reqs) == 0 {
		return
	}
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.RequesterID)
	}
	recs, err := r.backend.List(ctx, backend.KindProfiles, (&backend.Filter{}).In("id", ids), backend.Order{}, 0)
	if err != nil {
		r.log.Warn(ctx, "requester profiles unavailable", "error", err)
		return
	}
	profiles := make(map[string]models.Profile, len(recs))
	for _, rec := range recs {
		p, err := models.ProfileFromRecord(rec)
		if err != nil {
			continue
		}
		profiles[p.ID] = p
	}
	for i := range reqs {
		if p, ok := profiles[reqs[i].RequesterID]; ok {
			reqs[i].Requester = p
		}
	}
}

// FetchGeneral replaces the general notifications with the most recent
// page for the viewer.
func (r *Reconciler) FetchGeneral(ctx context.Context) (err error) {
	defer func(start time.Time) { r.metrics.ObserveFetch("notifications", start, err) }(time.Now())

	v, err := r.viewer(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	recs, err := r.backend.List(ctx, backend.KindNotifications, backend.Where("user_id", v.ID),
		backend.ByCreatedDesc, r.pageSize)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", transient(err))
	}
	items := make([]models.Notification, 0, len(recs))
	for _, rec := range recs {
		n, err := models.NotificationFromRecord(rec)
		if err != nil {
			r.log.Warn(ctx, "skipping malformed notification", "error", err)
			continue
		}
		items = append(items, n)
	}
	r.store.ReplaceGeneral(items)
	return nil
}

// ReconcileRequest fetches one connection request and prepends it when it
// is still pending for the viewer and not cached yet.
func (r *Reconciler) ReconcileRequest(ctx context.Context, id string) error {
	v, err := r.viewer(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := r.backend.Get(ctx, backend.KindConnections, id)
	if errors.Is(err, common.ErrNotFound) {
		r.DropRequest(id)
		return nil
	}
	if err != nil {
		r.metrics.Reconciled("requests", "error")
		return fmt.Errorf("fetch request %s: %w", id, transient(err))
	}
	req, err := models.ConnectionRequestFromRecord(rec)
	if err != nil {
		return fmt.Errorf("fetch request %s: %w", id, err)
	}
	if req.RecipientID != v.ID || req.Status != models.ConnectionPending {
		r.DropRequest(id)
		return nil
	}

	reqs := []models.ConnectionRequest{req}
	r.attachRequesters(ctx, reqs)
	if r.store.UpsertRequest(reqs[0]) {
		r.metrics.Reconciled("requests", "upserted")
	}
	return nil
}

// DropRequest removes a request answered elsewhere.
func (r *Reconciler) DropRequest(id string) {
	if _, ok := r.store.RemoveRequest(id); ok {
		r.metrics.Reconciled("requests", "removed")
	}
}

// InsertNotification decodes a pushed notification and prepends it unless
// it is already cached.
func (r *Reconciler) InsertNotification(ctx context.Context, rec backend.Record) error {
	n, err := models.NotificationFromRecord(rec)
	if err != nil {
		r.metrics.Dropped("malformed")
		return fmt.Errorf("push notification: %w", err)
	}
	if v, ok := r.backend.CurrentViewer(ctx); !ok || n.RecipientID != v.ID {
		r.metrics.Dropped("recipient")
		return nil
	}
	if r.store.UpsertNotification(n) {
		r.metrics.Reconciled("notifications", "upserted")
	}
	return nil
}

// ReconcileNotification fetches the notification announced by a change
// event and caches it. A notification deleted in the meantime is ignored.
func (r *Reconciler) ReconcileNotification(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := r.backend.Get(ctx, backend.KindNotifications, id)
	if errors.Is(err, common.ErrNotFound) {
		r.metrics.Dropped("missing")
		return nil
	}
	if err != nil {
		r.metrics.Reconciled("notifications", "error")
		return fmt.Errorf("fetch notification %s: %w", id, transient(err))
	}
	return r.InsertNotification(ctx, rec)
}

// Accept accepts a pending request.
func (r *Reconciler) Accept(ctx context.Context, id string) error {
	return r.answer(ctx, id, models.ConnectionAccepted)
}

// Reject rejects a pending request.
func (r *Reconciler) Reject(ctx context.Context, id string) error {
	return r.answer(ctx, id, models.ConnectionRejected)
}

// answer removes the request locally, writes the new status and re-adds the
// request when the write fails.
func (r *Reconciler) answer(ctx context.Context, id string, status models.ConnectionStatus) error {
	if _, err := r.viewer(ctx); err != nil {
		return err
	}
	_, err := mutation.Run(ctx, r.env(), mutation.Steps[struct{}]{
		Kind: "request_" + string(status),
		Apply: func() func() {
			prev, ok := r.store.RemoveRequest(id)
			if !ok {
				return nil
			}
			return func() { r.store.UpsertRequest(prev) }
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.backend.Update(ctx, backend.KindConnections, id, backend.Record{"status": string(status)})
		},
	})
	return err
}

// DeleteMany removes notifications locally and then remotely. A failed
// remote delete is returned but the notifications stay removed.
func (r *Reconciler) DeleteMany(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.viewer(ctx); err != nil {
		return err
	}
	_, err := mutation.Run(ctx, r.env(), mutation.Steps[struct{}]{
		Kind: "delete_notifications",
		Apply: func() func() {
			r.store.RemoveManyNotifications(ids...)
			return nil
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			for _, id := range ids {
				if err := r.backend.Delete(ctx, backend.KindNotifications, id); err != nil && !errors.Is(err, common.ErrConflict) {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		},
		KeepOnFailure: true,
	})
	return err
}

// ClearAll deletes every general notification of the viewer, including
// ones beyond the cached page.
func (r *Reconciler) ClearAll(ctx context.Context) error {
	v, err := r.viewer(ctx)
	if err != nil {
		return err
	}
	_, err = mutation.Run(ctx, r.env(), mutation.Steps[struct{}]{
		Kind: "clear_notifications",
		Apply: func() func() {
			cached := r.store.Notifications()
			ids := make([]string, 0, len(cached))
			for _, n := range cached {
				ids = append(ids, n.ID)
			}
			r.store.RemoveManyNotifications(ids...)
			return nil
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			recs, err := r.backend.List(ctx, backend.KindNotifications, backend.Where("user_id", v.ID), backend.Order{}, 0)
			if err != nil {
				return struct{}{}, err
			}
			for _, rec := range recs {
				id, _ := rec["id"].(string)
				if err := r.backend.Delete(ctx, backend.KindNotifications, id); err != nil && !errors.Is(err, common.ErrConflict) {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		},
		KeepOnFailure: true,
	})
	return err
}

// MarkRead flags notifications as read, reverting the flags of the ones
// whose write failed.
func (r *Reconciler) MarkRead(ctx context.Context, ids ...string) error {
	if _, err := r.viewer(ctx); err != nil {
		return err
	}
	var prev []models.Notification
	for _, id := range ids {
		if n, ok := r.store.Notification(id); ok && !n.Read {
			prev = append(prev, n)
		}
	}
	if len(prev) == 0 {
		return nil
	}

	_, err := mutation.Run(ctx, r.env(), mutation.Steps[[]string]{
		Kind: "mark_read",
		Apply: func() func() {
			for _, n := range prev {
				n.Read = true
				r.store.UpdateNotification(n)
			}
			return func() {
				for _, n := range prev {
					r.store.UpdateNotification(n)
				}
			}
		},
		Remote: func(ctx context.Context) ([]string, error) {
			for _, n := range prev {
				if err := r.backend.Update(ctx, backend.KindNotifications, n.ID, backend.Record{"read": true}); err != nil {
					if errors.Is(err, common.ErrNotFound) {
						continue
					}
					return nil, err
				}
			}
			return nil, nil
		},
	})
	return err
}
