package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBackend_ListFiltersOrdersAndLimits(t *testing.T) {
	b := New()
	community := "c1"
	b.Seed(backend.KindPosts,
		backend.Record{"id": "p1", "author_id": "u1", "body": "old", "created_at": t0},
		backend.Record{"id": "p2", "author_id": "u1", "body": "new", "created_at": t0.Add(time.Hour)},
		backend.Record{"id": "p3", "author_id": "u2", "body": "club", "created_at": t0.Add(2 * time.Hour), "community_id": community},
	)

	got, err := b.List(context.Background(), backend.KindPosts, backend.Where("community_id", nil), backend.ByCreatedDesc, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0]["id"])

	got, err = b.List(context.Background(), backend.KindPosts, backend.Where("community_id", community), backend.ByCreatedDesc, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p3", got[0]["id"])
}

func TestBackend_InsertFillsDefaultsAndDispatches(t *testing.T) {
	b := New(WithClock(func() time.Time { return t0 }))
	var events []backend.Event
	_, err := b.Subscribe(context.Background(), backend.KindLikes, []backend.EventType{backend.EventInsert},
		func(ev backend.Event) { events = append(events, ev) })
	require.NoError(t, err)

	rec, err := b.Insert(context.Background(), backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec["id"])
	assert.Equal(t, t0, rec["created_at"])

	require.Len(t, events, 1)
	assert.Equal(t, backend.EventInsert, events[0].Type)
	assert.Equal(t, "p1", events[0].New["post_id"])
}

func TestBackend_UniqueLikeIsConflict(t *testing.T) {
	b := New()
	ctx := context.Background()
	_, err := b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	require.NoError(t, err)

	_, err = b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestBackend_RepostUniqueIgnoresOriginals(t *testing.T) {
	b := New()
	ctx := context.Background()
	_, err := b.Insert(ctx, backend.KindPosts, backend.Record{"author_id": "u1", "body": "a"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindPosts, backend.Record{"author_id": "u1", "body": "b"})
	require.NoError(t, err)

	_, err = b.Insert(ctx, backend.KindPosts, backend.Record{"author_id": "u1", "original_post_id": "p1"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, backend.KindPosts, backend.Record{"author_id": "u1", "original_post_id": "p1"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestBackend_UpsertReplacesByConflictKey(t *testing.T) {
	b := New()
	ctx := context.Background()
	var types []backend.EventType
	_, err := b.Subscribe(ctx, backend.KindPollVotes, backend.AllEvents, func(ev backend.Event) { types = append(types, ev.Type) })
	require.NoError(t, err)

	require.NoError(t, b.Upsert(ctx, backend.KindPollVotes, backend.Record{"post_id": "p1", "user_id": "u1", "option_index": 0}, "post_id", "user_id"))
	require.NoError(t, b.Upsert(ctx, backend.KindPollVotes, backend.Record{"post_id": "p1", "user_id": "u1", "option_index": 2}, "post_id", "user_id"))

	votes := b.Records(backend.KindPollVotes)
	require.Len(t, votes, 1)
	assert.Equal(t, 2, votes[0]["option_index"])
	assert.Equal(t, []backend.EventType{backend.EventInsert, backend.EventUpdate}, types)
}

func TestBackend_DeleteMissingIsConflict(t *testing.T) {
	b := New()
	err := b.Delete(context.Background(), backend.KindComments, "nope")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestBackend_GetMissingIsNotFound(t *testing.T) {
	b := New()
	_, err := b.Get(context.Background(), backend.KindPosts, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBackend_FailNextIsConsumedOnce(t *testing.T) {
	b := New()
	ctx := context.Background()
	boom := errors.New("boom")
	b.FailNext(OpInsert, backend.KindLikes, boom)

	_, err := b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Records(backend.KindLikes))

	_, err = b.Insert(ctx, backend.KindLikes, backend.Record{"post_id": "p1", "user_id": "u1"})
	assert.NoError(t, err)
	assert.Equal(t, 2, b.Calls(OpInsert, backend.KindLikes))
}

func TestBackend_CanceledContextIsTransient(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.List(ctx, backend.KindPosts, nil, backend.ByCreatedDesc, 0)
	assert.ErrorIs(t, err, common.ErrTransient)
}

func TestBackend_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ctx := context.Background()
	n := 0
	sub, err := b.Subscribe(ctx, backend.KindComments, backend.AllEvents, func(backend.Event) { n++ })
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers())

	require.NoError(t, b.Unsubscribe(sub))
	_, err = b.Insert(ctx, backend.KindComments, backend.Record{"post_id": "p1", "author_id": "u1", "body": "hi"})
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.ErrorIs(t, b.Unsubscribe(sub), common.ErrNotFound)
}

func TestBackend_StoredRecordsAreIsolated(t *testing.T) {
	b := New()
	poll := map[string]any{"options": []any{"a", "b"}, "votes": []any{0, 0}}
	b.Seed(backend.KindPosts, backend.Record{"id": "p1", "author_id": "u1", "poll": poll})

	poll["votes"].([]any)[0] = 9
	got, err := b.Get(context.Background(), backend.KindPosts, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, got["poll"].(map[string]any)["votes"].([]any)[0])
}

func TestBackend_CurrentViewer(t *testing.T) {
	b := New()
	_, ok := b.CurrentViewer(context.Background())
	assert.False(t, ok)

	b.SetViewer("u1")
	v, ok := b.CurrentViewer(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "u1", v.ID)
}
