package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/cryptox"
	"github.com/syntaxdrive/ulink-sub002/internal/dbx"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

const saveTimeout = 5 * time.Second

var keySalt = []byte("feedcache/snapshot/v1")

// FeedKey addresses the feed snapshot of viewer in scope. Derived fields
// depend on the viewer, so every viewer gets its own snapshot.
func FeedKey(scope models.Scope, viewer models.Viewer) string {
	return "feed/" + viewerKey(viewer) + "/" + scope.String()
}

func requestsKey(viewer models.Viewer) string { return "requests/" + viewerKey(viewer) }
func generalKey(viewer models.Viewer) string  { return "notifications/" + viewerKey(viewer) }

func viewerKey(v models.Viewer) string {
	if v.Anonymous() {
		return "anonymous"
	}
	return v.ID
}

// Persister writes store contents after every full refresh and restores
// them on start so a warm cache is shown before the first fetch finishes.
type Persister struct {
	db  *sql.DB
	log logging.Logger
	key []byte
}

type PersisterOption func(*Persister)

// WithPassphrase seals every payload with a key derived from passphrase.
// Snapshots written without it, or under another passphrase, fail to
// restore and are refetched.
func WithPassphrase(passphrase string) PersisterOption {
	return func(p *Persister) {
		if passphrase != "" {
			p.key = cryptox.DeriveKey([]byte(passphrase), keySalt)
		}
	}
}

func NewPersister(db *sql.DB, log logging.Logger, opts ...PersisterOption) *Persister {
	p := &Persister{db: db, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Persister) encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil || p.key == nil {
		return payload, err
	}
	return cryptox.Seal(payload, p.key)
}

func (p *Persister) decode(payload []byte, v any) error {
	if p.key != nil {
		var err error
		if payload, err = cryptox.Open(payload, p.key); err != nil {
			return err
		}
	}
	return json.Unmarshal(payload, v)
}

func (p *Persister) repo() *SQLiteRepository { return NewSQLiteRepository(p.db) }

// SaveFeed persists the current feed with its freshness stamp.
func (p *Persister) SaveFeed(ctx context.Context, key string, s *store.FeedStore) error {
	payload, err := p.encode(s.Posts())
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	return p.repo().Save(ctx, key, payload, s.LastRefreshed())
}

// RestoreFeed hydrates s from the snapshot under key. It reports false when
// there is nothing to restore.
func (p *Persister) RestoreFeed(ctx context.Context, key string, s *store.FeedStore) (bool, error) {
	payload, at, err := p.repo().Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var posts []models.Post
	if err := p.decode(payload, &posts); err != nil {
		return false, fmt.Errorf("decode feed snapshot: %w", err)
	}
	s.Hydrate(posts, at)
	return true, nil
}

// SaveNotifications persists both notification sequences in one
// transaction.
func (p *Persister) SaveNotifications(ctx context.Context, viewer models.Viewer, s *store.NotificationStore) error {
	reqs, err := p.encode(s.Requests())
	if err != nil {
		return fmt.Errorf("encode requests: %w", err)
	}
	general, err := p.encode(s.Notifications())
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	reqAt, genAt := s.LastRefreshed()

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := NewSQLiteRepository(tx)
		if err := repo.Save(ctx, requestsKey(viewer), reqs, reqAt); err != nil {
			return err
		}
		return repo.Save(ctx, generalKey(viewer), general, genAt)
	})
}

// RestoreNotifications hydrates s from the snapshot of viewer.
func (p *Persister) RestoreNotifications(ctx context.Context, viewer models.Viewer, s *store.NotificationStore) (bool, error) {
	repo := p.repo()
	reqPayload, reqAt, err := repo.Load(ctx, requestsKey(viewer))
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	genPayload, genAt, err := repo.Load(ctx, generalKey(viewer))
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var reqs []models.ConnectionRequest
	if err := p.decode(reqPayload, &reqs); err != nil {
		return false, fmt.Errorf("decode requests snapshot: %w", err)
	}
	var general []models.Notification
	if err := p.decode(genPayload, &general); err != nil {
		return false, fmt.Errorf("decode notifications snapshot: %w", err)
	}
	s.Hydrate(reqs, reqAt, general, genAt)
	return true, nil
}

// TrackFeed saves the feed after every full refresh until cancel is
// called. Search results and restored snapshots are not saved. Failures are
// logged.
func (p *Persister) TrackFeed(key string, s *store.FeedStore) (cancel func()) {
	return s.OnChange(func(c store.Change) {
		if c.Kind != store.ChangeReplaceAll {
			return
		}
		ctx, done := context.WithTimeout(context.Background(), saveTimeout)
		defer done()
		if err := p.SaveFeed(ctx, key, s); err != nil {
			p.log.Warn(ctx, "feed snapshot not saved", "key", key, "error", err)
		}
	})
}

// TrackNotifications saves both notification sequences after either one is
// fully refreshed.
func (p *Persister) TrackNotifications(viewer models.Viewer, s *store.NotificationStore) (cancel func()) {
	return s.OnChange(func(c store.Change) {
		if c.Kind != store.ChangeReplaceAll {
			return
		}
		ctx, done := context.WithTimeout(context.Background(), saveTimeout)
		defer done()
		if err := p.SaveNotifications(ctx, viewer, s); err != nil {
			p.log.Warn(ctx, "notification snapshot not saved", "viewer", viewerKey(viewer), "error", err)
		}
	})
}
