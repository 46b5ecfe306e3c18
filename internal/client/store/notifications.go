package store

import (
	"sync"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Notification domains reported in Change.Domain.
const (
	DomainRequests = "requests"
	DomainGeneral  = "general"
)

// NotificationStore keeps pending connection requests and general
// notifications as two independently refreshed sequences.
type NotificationStore struct {
	mu           sync.RWMutex
	requests     ordered[models.ConnectionRequest]
	general      ordered[models.Notification]
	requestFresh freshness
	generalFresh freshness
	now          func() time.Time
	subs         listeners
}

func NewNotificationStore(opts ...Option) *NotificationStore {
	cfg := config{now: time.Now, staleAfter: common.DefaultStaleAfter}
	for _, o := range opts {
		o(&cfg)
	}
	return &NotificationStore{
		now:          cfg.now,
		requestFresh: freshness{staleAfter: cfg.staleAfter},
		generalFresh: freshness{staleAfter: cfg.staleAfter},
	}
}

func (s *NotificationStore) ReplaceRequests(items []models.ConnectionRequest) {
	s.mu.Lock()
	s.requests.replaceAll(items)
	s.requestFresh.at = s.now()
	ids := keysOf(s.requests.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeReplaceAll, Domain: DomainRequests, IDs: ids})
}

func (s *NotificationStore) ReplaceGeneral(items []models.Notification) {
	s.mu.Lock()
	s.general.replaceAll(items)
	s.generalFresh.at = s.now()
	ids := keysOf(s.general.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeReplaceAll, Domain: DomainGeneral, IDs: ids})
}

// Hydrate restores persisted sequences without re-stamping freshness.
func (s *NotificationStore) Hydrate(reqs []models.ConnectionRequest, reqAt time.Time, general []models.Notification, genAt time.Time) {
	s.mu.Lock()
	s.requests.replaceAll(reqs)
	s.requestFresh.at = reqAt
	s.general.replaceAll(general)
	s.generalFresh.at = genAt
	reqIDs, genIDs := keysOf(s.requests.items), keysOf(s.general.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeHydrate, Domain: DomainRequests, IDs: reqIDs})
	s.subs.emit(Change{Kind: ChangeHydrate, Domain: DomainGeneral, IDs: genIDs})
}

// UpsertRequest prepends r unless a request with the same id is cached.
func (s *NotificationStore) UpsertRequest(r models.ConnectionRequest) bool {
	s.mu.Lock()
	added := s.requests.prependIfAbsent(r)
	s.mu.Unlock()
	if added {
		s.subs.emit(Change{Kind: ChangeUpsert, Domain: DomainRequests, IDs: []string{r.ID}})
	}
	return added
}

// UpsertNotification prepends n unless it is already cached.
func (s *NotificationStore) UpsertNotification(n models.Notification) bool {
	s.mu.Lock()
	added := s.general.prependIfAbsent(n)
	s.mu.Unlock()
	if added {
		s.subs.emit(Change{Kind: ChangeUpsert, Domain: DomainGeneral, IDs: []string{n.ID}})
	}
	return added
}

// UpdateNotification replaces a cached notification in place.
func (s *NotificationStore) UpdateNotification(n models.Notification) bool {
	s.mu.Lock()
	ok := s.general.replace(n)
	s.mu.Unlock()
	if ok {
		s.subs.emit(Change{Kind: ChangeUpsert, Domain: DomainGeneral, IDs: []string{n.ID}})
	}
	return ok
}

// RemoveRequest drops a request and returns it so callers can re-add it.
func (s *NotificationStore) RemoveRequest(id string) (models.ConnectionRequest, bool) {
	s.mu.Lock()
	r, ok := s.requests.get(id)
	if ok {
		s.requests.removeMany(id)
	}
	s.mu.Unlock()
	if ok {
		s.subs.emit(Change{Kind: ChangeRemove, Domain: DomainRequests, IDs: []string{id}})
	}
	return r, ok
}

func (s *NotificationStore) RemoveNotification(id string) {
	s.RemoveManyNotifications(id)
}

// RemoveManyNotifications drops every listed id and returns the removed ones.
func (s *NotificationStore) RemoveManyNotifications(ids ...string) []string {
	s.mu.Lock()
	removed := s.general.removeMany(ids...)
	s.mu.Unlock()
	if len(removed) > 0 {
		s.subs.emit(Change{Kind: ChangeRemove, Domain: DomainGeneral, IDs: removed})
	}
	return removed
}

func (s *NotificationStore) Requests() []models.ConnectionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests.snapshot()
}

func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.general.snapshot()
}

func (s *NotificationStore) Notification(id string) (models.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.general.get(id)
}

func (s *NotificationStore) RequestsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestFresh.stale(s.now())
}

func (s *NotificationStore) GeneralStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generalFresh.stale(s.now())
}

// IsStale reports whether either sequence needs a refetch.
func (s *NotificationStore) IsStale() bool {
	return s.RequestsStale() || s.GeneralStale()
}

func (s *NotificationStore) LastRefreshed() (requests, general time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestFresh.at, s.generalFresh.at
}

func (s *NotificationStore) OnChange(fn func(Change)) (cancel func()) {
	return s.subs.add(fn)
}
