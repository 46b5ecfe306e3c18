package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/memory"
	"github.com/syntaxdrive/ulink-sub002/internal/client/feed"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

var t0 = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

func newFeed(b *memory.Backend) *feed.Engine {
	clock := func() time.Time { return t0 }
	return feed.New(b, store.NewFeedStore(store.WithClock(clock)), store.NewCommentStore(), logging.NewNop(), feed.WithClock(clock))
}

func postRec(id string, community any) backend.Record {
	return backend.Record{"id": id, "author_id": "u2", "body": id, "community_id": community, "created_at": t0}
}

func cached(e *feed.Engine, id string) bool {
	_, ok := e.Posts().Get(id)
	return ok
}

func TestSubscriber_ScopeFilter(t *testing.T) {
	tests := []struct {
		name      string
		scope     models.Scope
		community any
		want      bool
	}{
		{"global view ignores community insert", models.GlobalScope(), "x", false},
		{"community view ignores global insert", models.CommunityScope("y"), nil, false},
		{"community view ignores other community", models.CommunityScope("y"), "x", false},
		{"community view takes its own", models.CommunityScope("x"), "x", true},
		{"global view takes global", models.GlobalScope(), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := memory.New()
			e := newFeed(b)
			s := New(b, e, logging.NewNop())
			require.NoError(t, s.Open(context.Background(), tt.scope, models.Viewer{}))
			defer s.Close()

			_, err := b.Insert(context.Background(), backend.KindPosts, postRec("p1", tt.community))
			require.NoError(t, err)
			s.Wait()

			assert.Equal(t, tt.want, cached(e, "p1"))
		})
	}
}

func TestSubscriber_DuplicateAndLateEventsConverge(t *testing.T) {
	b := memory.New()
	e := newFeed(b)
	s := New(b, e, logging.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	defer s.Close()

	rec, err := b.Insert(ctx, backend.KindPosts, postRec("p1", nil))
	require.NoError(t, err)
	ev := backend.Event{Kind: backend.KindPosts, Type: backend.EventInsert, New: rec}
	b.Emit(ev)
	b.Emit(ev)
	s.Wait()
	require.Len(t, e.Posts().Posts(), 1)

	require.NoError(t, b.Delete(ctx, backend.KindPosts, "p1"))
	s.Wait()
	b.Emit(ev)
	s.Wait()

	assert.Empty(t, e.Posts().Posts(), "an insert replayed after the delete must not resurrect the post")
}

func TestSubscriber_LikeAndCommentEventsRefreshCachedPost(t *testing.T) {
	b := memory.New()
	e := newFeed(b)
	b.Seed(backend.KindPosts, postRec("p1", nil))
	ctx := context.Background()
	require.NoError(t, e.FetchAll(ctx, models.GlobalScope(), models.Viewer{}))

	s := New(b, e, logging.NewNop())
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	defer s.Close()

	_, err := b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u3"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindComments, backend.Record{"post_id": "p1", "author_id": "u3", "body": "hi"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "elsewhere", "user_id": "u3"})
	require.NoError(t, err)
	s.Wait()

	p, _ := e.Posts().Get("p1")
	assert.Equal(t, 1, p.LikeCount)
	assert.Equal(t, 1, p.CommentCount)
	assert.False(t, cached(e, "elsewhere"))
}

func TestSubscriber_RepostInsertRefreshesOriginal(t *testing.T) {
	b := memory.New()
	e := newFeed(b)
	b.Seed(backend.KindPosts, postRec("p1", nil))
	ctx := context.Background()
	require.NoError(t, e.FetchAll(ctx, models.GlobalScope(), models.Viewer{}))

	s := New(b, e, logging.NewNop())
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	defer s.Close()

	_, err := b.Insert(ctx, backend.KindPosts, backend.Record{"id": "r1", "author_id": "u3", "original_post_id": "p1"})
	require.NoError(t, err)
	s.Wait()

	p1, _ := e.Posts().Get("p1")
	assert.Equal(t, 1, p1.RepostCount)
	assert.True(t, cached(e, "r1"))
}

func TestSubscriber_CloseStopsProcessing(t *testing.T) {
	b := memory.New()
	e := newFeed(b)
	s := New(b, e, logging.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	require.Equal(t, 4, b.Subscribers())

	s.Close()
	assert.Zero(t, b.Subscribers())

	_, err := b.Insert(ctx, backend.KindPosts, postRec("p1", nil))
	require.NoError(t, err)
	s.Wait()
	assert.False(t, cached(e, "p1"))
}

func TestSubscriber_StaleEpochIsDropped(t *testing.T) {
	b := memory.New()
	e := newFeed(b)
	s := New(b, e, logging.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	old := s.Epoch()
	require.NoError(t, s.Open(ctx, models.CommunityScope("c1"), models.Viewer{}))
	defer s.Close()

	called := false
	s.dispatch(old, backend.Event{Kind: backend.KindPosts}, func(context.Context, backend.Event) error {
		called = true
		return nil
	})
	s.Wait()
	assert.False(t, called)
	assert.Equal(t, 4, b.Subscribers(), "reopening replaces the previous subscription")
}

type flakyFeed struct {
	mu    sync.Mutex
	calls int
	fails int
}

func (f *flakyFeed) FetchOne(context.Context, string, models.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return common.ErrTransient
	}
	return nil
}

func (f *flakyFeed) Refresh(context.Context, string) error       { return common.ErrConflict }
func (f *flakyFeed) RefreshTarget(context.Context, string) error { return nil }

func TestSubscriber_RetriesTransientFailuresOnly(t *testing.T) {
	b := memory.New()
	f := &flakyFeed{fails: 2}
	s := New(b, f, logging.NewNop(), WithRetry(time.Millisecond, 5*time.Millisecond, 3))
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{}))
	defer s.Close()

	_, err := b.Insert(ctx, backend.KindPosts, postRec("p1", nil))
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)
	s.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 3, f.calls)
}

type fakeNotes struct {
	mu         sync.Mutex
	reconciled []string
	dropped    []string
	notified   []string
}

func (f *fakeNotes) ReconcileRequest(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, id)
	return nil
}

func (f *fakeNotes) DropRequest(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id)
}

func (f *fakeNotes) ReconcileNotification(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

func TestSubscriber_NotificationsForViewerOnly(t *testing.T) {
	b := memory.New()
	notes := &fakeNotes{}
	s := New(b, newFeed(b), logging.NewNop(), WithNotifications(notes))
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, models.GlobalScope(), models.Viewer{ID: "me"}))
	defer s.Close()
	require.Equal(t, 6, b.Subscribers())

	_, err := b.Insert(ctx, backend.KindConnections, backend.Record{"id": "c1", "requester_id": "u2", "receiver_id": "me", "status": "pending"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindConnections, backend.Record{"id": "c2", "requester_id": "u2", "receiver_id": "someone", "status": "pending"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindNotifications, backend.Record{"id": "n1", "user_id": "me", "type": "like"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindNotifications, backend.Record{"id": "n2", "user_id": "someone", "type": "like"})
	require.NoError(t, err)
	b.Emit(backend.Event{Kind: backend.KindNotifications, Type: backend.EventInsert, New: backend.Record{"user_id": "me"}})
	s.Wait()
	require.NoError(t, b.Update(ctx, backend.KindConnections, "c1", backend.Record{"status": "accepted"}))
	s.Wait()

	notes.mu.Lock()
	defer notes.mu.Unlock()
	assert.Equal(t, []string{"c1"}, notes.reconciled)
	assert.Equal(t, []string{"c1"}, notes.dropped)
	assert.Equal(t, []string{"n1"}, notes.notified)
}

func TestSubscriber_AnonymousViewerSkipsNotificationRoutes(t *testing.T) {
	b := memory.New()
	s := New(b, newFeed(b), logging.NewNop(), WithNotifications(&fakeNotes{}))
	require.NoError(t, s.Open(context.Background(), models.GlobalScope(), models.Viewer{}))
	defer s.Close()

	assert.Equal(t, 4, b.Subscribers())
}
