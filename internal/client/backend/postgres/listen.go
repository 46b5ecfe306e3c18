package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// listenConn is the part of *pgx.Conn used for LISTEN.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// connectListener is a seam for tests.
var connectListener = func(ctx context.Context, dsn string) (listenConn, error) {
	return pgx.Connect(ctx, dsn)
}

type subscription struct {
	id     string
	kind   backend.Kind
	events map[backend.EventType]bool
	h      backend.Handler
}

func (s *subscription) ID() string { return s.id }

type changePayload struct {
	Table string         `json:"table"`
	Type  string         `json:"type"`
	New   backend.Record `json:"new"`
	Old   backend.Record `json:"old"`
}

// Subscribe registers h and starts the LISTEN loop on first use.
func (b *Backend) Subscribe(ctx context.Context, kind backend.Kind, events []backend.EventType, h backend.Handler) (backend.Subscription, error) {
	if _, err := lookup(kind); err != nil {
		return nil, err
	}
	if b.dsn == "" {
		return nil, fmt.Errorf("subscribe %s: no listen dsn: %w", kind, common.ErrTransient)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	s := &subscription{
		id:     fmt.Sprintf("%s-%d", kind, b.nextSub),
		kind:   kind,
		events: make(map[backend.EventType]bool, len(events)),
		h:      h,
	}
	for _, e := range events {
		s.events[e] = true
	}
	b.subs[s.id] = s

	if b.cancel == nil {
		lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		b.wg.Add(1)
		go b.listen(lctx)
	}
	return s, nil
}

// Unsubscribe removes sub; the LISTEN loop stops with the last one. It is
// safe to call from a Handler.
func (b *Backend) Unsubscribe(sub backend.Subscription) error {
	b.mu.Lock()
	if _, ok := b.subs[sub.ID()]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s: %w", sub.ID(), common.ErrNotFound)
	}
	delete(b.subs, sub.ID())
	var cancel context.CancelFunc
	if len(b.subs) == 0 && b.cancel != nil {
		cancel, b.cancel = b.cancel, nil
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Close stops the LISTEN loop and drops every subscription.
func (b *Backend) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *Backend) listen(ctx context.Context) {
	defer b.wg.Done()

	for ctx.Err() == nil {
		conn, err := b.reconnect.WithContext(ctx).Get(func() (listenConn, error) {
			c, err := connectListener(ctx, b.dsn)
			if err != nil {
				b.log.Warn(ctx, "listen connect failed", "error", err)
				return nil, err
			}
			if _, err := c.Exec(ctx, "LISTEN "+Channel); err != nil {
				_ = c.Close(context.Background())
				return nil, err
			}
			return c, nil
		})
		if err != nil {
			if ctx.Err() == nil {
				b.log.Error(ctx, "listen gave up reconnecting", "error", err)
			}
			return
		}

		b.log.Debug(ctx, "listening for changes", "channel", Channel)
		err = b.pump(ctx, conn)
		_ = conn.Close(context.Background())
		if err != nil && ctx.Err() == nil {
			b.log.Warn(ctx, "listen connection lost", "error", err)
		}
	}
}

func (b *Backend) pump(ctx context.Context, conn listenConn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := parseNotification(n.Payload)
		if err != nil {
			b.log.Warn(ctx, "dropping malformed change notification", "error", err)
			continue
		}
		b.dispatch(ev)
	}
}

func (b *Backend) dispatch(ev backend.Event) {
	b.mu.Lock()
	var hs []backend.Handler
	for _, s := range b.subs {
		if s.kind == ev.Kind && s.events[ev.Type] {
			hs = append(hs, s.h)
		}
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func parseNotification(payload string) (backend.Event, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return backend.Event{}, fmt.Errorf("%w: %v", common.ErrMalformedRecord, err)
	}
	kind, ok := kindOf(p.Table)
	if !ok {
		return backend.Event{}, fmt.Errorf("%w: unknown table %q", common.ErrMalformedRecord, p.Table)
	}
	ev := backend.Event{Kind: kind, Type: backend.EventType(p.Type), New: p.New, Old: p.Old}
	switch ev.Type {
	case backend.EventInsert, backend.EventUpdate, backend.EventDelete:
	default:
		return backend.Event{}, fmt.Errorf("%w: unknown operation %q", common.ErrMalformedRecord, p.Type)
	}
	if ev.Row() == nil {
		return backend.Event{}, errors.New("change notification without row")
	}
	return ev, nil
}
