package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

func usage(s string) error { return errors.New("usage: " + s) }

func (a *App) isSignedIn(ctx context.Context) bool {
	_, ok := a.backend.CurrentViewer(ctx)
	return ok
}

func (a *App) status() string {
	ctx := context.Background()
	s := a.scope.String()
	if v, ok := a.backend.CurrentViewer(ctx); ok {
		s = v.ID + " " + s
	}
	if a.feed.Posts().IsStale() {
		s += " stale"
	}
	return "(" + s + ")"
}

// Run opens the feed and starts the REPL. It blocks until the user exits
// or input ends.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	fmt.Fprintln(a.out, "Feed client (type 'help' for commands)")
	if err := a.openView(ctx, a.scope, false); err != nil {
		fmt.Fprintln(a.out, "Error:", describe(err))
	} else {
		a.printFeed()
	}
	runREPL(ctx, a, a.status, bufio.NewScanner(a.reader))
}

func (a *App) printFeed() {
	posts := a.feed.Posts().Posts()
	if len(posts) == 0 {
		fmt.Fprintln(a.out, "No posts.")
		return
	}
	now := a.now()
	for _, p := range posts {
		writePost(a.out, p, now)
	}
}

func parseScope(args []string) models.Scope {
	if len(args) == 0 || args[0] == "global" {
		return models.GlobalScope()
	}
	return models.CommunityScope(args[0])
}

// Feed switches to a scope and shows it, reusing the cache while fresh.
func (a *App) Feed(ctx context.Context, args []string) error {
	if err := a.openView(ctx, parseScope(args), false); err != nil {
		return err
	}
	a.printFeed()
	return nil
}

// Refresh refetches the current scope regardless of freshness.
func (a *App) Refresh(ctx context.Context, _ []string) error {
	if err := a.openView(ctx, a.scope, true); err != nil {
		return err
	}
	a.printFeed()
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	if err := a.feed.Search(ctx, strings.Join(args, " "), a.scope, a.viewer(ctx)); err != nil {
		return err
	}
	a.printFeed()
	return nil
}

func (a *App) Comments(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("comments <post>")
	}
	if err := a.feed.FetchComments(ctx, args[0]); err != nil {
		return err
	}
	now := a.now()
	for _, c := range a.feed.Comments().Comments(args[0]) {
		writeComment(a.out, c, now)
	}
	return nil
}

// Post asks for a body and optional poll options and publishes them.
func (a *App) Post(ctx context.Context, _ []string) error {
	body, err := GetMultiline(a.reader, "Post text", a.out)
	if err != nil {
		return err
	}
	options, err := GetList(a.reader, "Poll options, or nothing for no poll", a.out)
	if err != nil {
		return err
	}
	draft := models.PostDraft{Body: body, PollOptions: options}
	if !a.scope.IsGlobal() {
		id := a.scope.CommunityID
		draft.CommunityID = &id
	}
	p, err := a.mut.CreatePost(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Posted %s\n", p.ID)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete <post>")
	}
	return a.mut.DeletePost(ctx, args[0])
}

func (a *App) Like(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("like <post>")
	}
	return a.mut.Like(ctx, args[0])
}

func (a *App) Unlike(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("unlike <post>")
	}
	return a.mut.Unlike(ctx, args[0])
}

func (a *App) Repost(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("repost <post> [comment]")
	}
	return a.mut.Repost(ctx, args[0], strings.Join(args[1:], " "))
}

func (a *App) Unrepost(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("unrepost <post>")
	}
	return a.mut.Unrepost(ctx, args[0])
}

func (a *App) Vote(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("vote <post> <option>")
	}
	option, err := strconv.Atoi(args[1])
	if err != nil {
		return usage("vote <post> <option number>")
	}
	return a.mut.Vote(ctx, args[0], option)
}

func (a *App) Comment(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("comment <post> <text>")
	}
	c, err := a.mut.AddComment(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Commented %s\n", c.ID)
	return nil
}

func (a *App) Uncomment(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("uncomment <post> <comment>")
	}
	return a.mut.DeleteComment(ctx, args[0], args[1])
}

// Notifications refreshes stale notification sequences and prints both.
func (a *App) Notifications(ctx context.Context, args []string) error {
	force := len(args) > 0 && args[0] == "refresh"
	if err := a.notes.Refresh(ctx, force); err != nil {
		return err
	}
	now := a.now()
	s := a.notes.Store()
	reqs, general := s.Requests(), s.Notifications()
	if len(reqs) == 0 && len(general) == 0 {
		fmt.Fprintln(a.out, "Nothing new.")
		return nil
	}
	for _, r := range reqs {
		writeRequest(a.out, r, now)
	}
	for _, n := range general {
		writeNotification(a.out, n, now)
	}
	return nil
}

func (a *App) Accept(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("accept <request>")
	}
	return a.notes.Accept(ctx, args[0])
}

func (a *App) Reject(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("reject <request>")
	}
	return a.notes.Reject(ctx, args[0])
}

func (a *App) MarkRead(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("read <notification...>")
	}
	return a.notes.MarkRead(ctx, args...)
}

func (a *App) Dismiss(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("dismiss <notification...>")
	}
	return a.notes.DeleteMany(ctx, args...)
}

func (a *App) ClearNotifications(ctx context.Context, _ []string) error {
	return a.notes.ClearAll(ctx)
}

// Login replaces the access token and reopens the view for the new viewer.
func (a *App) Login(ctx context.Context, args []string) error {
	token := ""
	if len(args) > 0 {
		token = args[0]
	} else {
		var err error
		if token, err = GetSecret(a.reader, "Access token", a.out); err != nil {
			return err
		}
	}
	a.session.SetToken(token)
	a.syncDemoViewer(ctx)
	if !a.isSignedIn(ctx) {
		a.session.SetToken("")
		a.syncDemoViewer(ctx)
		return fmt.Errorf("login: token rejected")
	}
	return a.openView(ctx, a.scope, true)
}

// Logout drops the session; the feed is refetched anonymously.
func (a *App) Logout(ctx context.Context, _ []string) error {
	a.session.SetToken("")
	a.syncDemoViewer(ctx)
	a.notes.Store().Hydrate(nil, time.Time{}, nil, time.Time{})
	return a.openView(ctx, a.scope, true)
}
