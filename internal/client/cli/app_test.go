package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdrive/ulink-sub002/internal/client/auth"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/memory"
	"github.com/syntaxdrive/ulink-sub002/internal/client/config"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

func demoConfig(cacheDSN string) *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.CacheDSN = cacheDSN
	return c
}

func newDemoApp(t *testing.T, c *config.Config, input string) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := NewApp(context.Background(), c, logging.NewNop(), strings.NewReader(input), &out)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, &out
}

func recordsWhere(recs []backend.Record, field, value string) []backend.Record {
	var out []backend.Record
	for _, r := range recs {
		if r[field] == value {
			out = append(out, r)
		}
	}
	return out
}

func TestApp_DemoFeedAndLike(t *testing.T) {
	a, out := newDemoApp(t, demoConfig(""), "")
	ctx := context.Background()

	require.NoError(t, a.Feed(ctx, nil))
	assert.Contains(t, out.String(), "[p-welcome] Campus Team")
	assert.Contains(t, out.String(), "likes 2  comments 1")
	assert.NotContains(t, out.String(), "p-club", "community post stays out of the global feed")

	require.NoError(t, a.Like(ctx, []string{"p-welcome"}))
	p, ok := a.feed.Posts().Get("p-welcome")
	require.True(t, ok)
	assert.Equal(t, 3, p.LikeCount)
	assert.True(t, p.LikedByViewer)
	assert.Len(t, recordsWhere(a.demo.Records(backend.KindLikes), "post_id", "p-welcome"), 3)

	assert.EqualError(t, a.Like(ctx, nil), "usage: like <post>")
}

func TestApp_CommunityScope(t *testing.T) {
	a, out := newDemoApp(t, demoConfig(""), "")

	require.NoError(t, a.Feed(context.Background(), []string{"c-robotics"}))
	assert.Contains(t, out.String(), "[p-club] Grace Hopper")
	assert.NotContains(t, out.String(), "p-welcome")
	assert.Equal(t, "(u-ada community:c-robotics)", a.status())
}

func TestApp_ScopeSwitchDropsInFlightReconciliation(t *testing.T) {
	a, _ := newDemoApp(t, demoConfig(""), "")
	ctx := context.Background()
	require.NoError(t, a.Feed(ctx, nil))

	started := make(chan struct{})
	release := make(chan struct{})
	var armed atomic.Bool
	armed.Store(true)
	var releaseOnce sync.Once
	a.demo.SetHook(func(ctx context.Context, op memory.Op, kind backend.Kind) error {
		switch {
		case op == memory.OpGet && kind == backend.KindPosts && armed.CompareAndSwap(true, false):
			close(started)
			// The row arrives whether or not the caller is still waiting.
			select {
			case <-ctx.Done():
			case <-release:
			}
		case op == memory.OpList && kind == backend.KindPosts:
			releaseOnce.Do(func() { close(release) })
		}
		return nil
	})

	_, err := a.demo.Insert(ctx, backend.KindPosts, backend.Record{"author_id": "u-grace", "body": "late global post"})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("global post was never reconciled")
	}

	require.NoError(t, a.Feed(ctx, []string{"c-robotics"}))

	posts := a.feed.Posts().Posts()
	require.NotEmpty(t, posts)
	for _, p := range posts {
		require.NotNil(t, p.CommunityID, "global post %s leaked into the community feed", p.ID)
		assert.Equal(t, "c-robotics", *p.CommunityID)
	}
}

func TestApp_PostNotifiesMentions(t *testing.T) {
	a, out := newDemoApp(t, demoConfig(""), "Reading group @grace\n\n\n")
	ctx := context.Background()
	require.NoError(t, a.Feed(ctx, nil))

	require.NoError(t, a.Post(ctx, nil))
	a.mut.Wait()

	assert.Contains(t, out.String(), "Posted ")
	notes := recordsWhere(a.demo.Records(backend.KindNotifications), "user_id", "u-grace")
	require.Len(t, notes, 1)
	assert.Equal(t, "mention", notes[0]["type"])
}

func TestApp_NotificationsAndAccept(t *testing.T) {
	a, out := newDemoApp(t, demoConfig(""), "")
	ctx := context.Background()

	require.NoError(t, a.Notifications(ctx, nil))
	assert.Contains(t, out.String(), "[r-1] Alan Turing (student, Cambridge) wants to connect")
	assert.Contains(t, out.String(), "[n-1] * mention: Grace mentioned you")

	require.NoError(t, a.Accept(ctx, []string{"r-1"}))
	assert.Empty(t, a.notes.Store().Requests())
	conns := a.demo.Records(backend.KindConnections)
	require.Len(t, conns, 1)
	assert.Equal(t, "accepted", conns[0]["status"])

	require.NoError(t, a.MarkRead(ctx, []string{"n-1"}))
	n, ok := a.notes.Store().Notification("n-1")
	require.True(t, ok)
	assert.True(t, n.Read)
}

func TestApp_LogoutAndLogin(t *testing.T) {
	a, _ := newDemoApp(t, demoConfig(""), "")
	ctx := context.Background()
	require.NoError(t, a.Feed(ctx, nil))

	require.NoError(t, a.Logout(ctx, nil))
	assert.False(t, a.isSignedIn(ctx))
	assert.ErrorIs(t, a.Like(ctx, []string{"p-welcome"}), common.ErrUnauthorized)
	assert.Equal(t, "sign in first (login)", describe(a.Like(ctx, []string{"p-welcome"})))

	assert.Error(t, a.Login(ctx, []string{"garbage"}))
	assert.False(t, a.isSignedIn(ctx))

	token, err := auth.GenerateToken("u-grace", []byte(demoSecret), time.Hour)
	require.NoError(t, err)
	require.NoError(t, a.Login(ctx, []string{token}))
	assert.Equal(t, "u-grace", a.viewer(ctx).ID)

	p, ok := a.feed.Posts().Get("p-welcome")
	require.True(t, ok)
	assert.True(t, p.LikedByViewer, "feed is refetched for the new viewer")
}

func TestApp_WarmStartFromSnapshot(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, _ := newDemoApp(t, demoConfig(dsn), "")
	require.NoError(t, first.Feed(ctx, nil))
	first.Close()

	second, out := newDemoApp(t, demoConfig(dsn), "")
	require.NoError(t, second.Feed(ctx, nil))

	assert.Contains(t, out.String(), "[p-welcome] Campus Team")
	assert.Zero(t, second.demo.Calls(memory.OpList, backend.KindPosts), "fresh snapshot served without a fetch")
}

func TestApp_SearchIsNotSavedAsFeed(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, _ := newDemoApp(t, demoConfig(dsn), "")
	require.NoError(t, first.Feed(ctx, nil))
	require.NoError(t, first.Search(ctx, []string{"semester"}))
	require.Len(t, first.feed.Posts().Posts(), 1)
	first.Close()

	second, out := newDemoApp(t, demoConfig(dsn), "")
	require.NoError(t, second.Feed(ctx, nil))
	assert.Contains(t, out.String(), "[p-poll] Alan Turing", "warm start shows the full feed")

	require.NoError(t, second.Search(ctx, []string{"semester"}))
	require.NoError(t, second.Feed(ctx, nil))
	assert.Greater(t, len(second.feed.Posts().Posts()), 1, "leaving search refetches the feed")
}

func TestApp_Run(t *testing.T) {
	capturePrints(t)
	a, out := newDemoApp(t, demoConfig(""), "like p-welcome\nexit\n")

	a.Run(context.Background())

	assert.Contains(t, out.String(), "Feed client")
	assert.Contains(t, out.String(), "[p-poll] Alan Turing")
	assert.Len(t, recordsWhere(a.demo.Records(backend.KindLikes), "post_id", "p-welcome"), 3)
}
