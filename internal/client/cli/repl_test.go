package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	signedIn bool
	fail     error

	calls []string
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return f.fail
}

func (f *fakeExec) isSignedIn(context.Context) bool              { return f.signedIn }
func (f *fakeExec) Feed(_ context.Context, a []string) error     { return f.record("feed", a) }
func (f *fakeExec) Refresh(_ context.Context, a []string) error  { return f.record("refresh", a) }
func (f *fakeExec) Search(_ context.Context, a []string) error   { return f.record("search", a) }
func (f *fakeExec) Comments(_ context.Context, a []string) error { return f.record("comments", a) }
func (f *fakeExec) Post(_ context.Context, a []string) error     { return f.record("post", a) }
func (f *fakeExec) Delete(_ context.Context, a []string) error   { return f.record("delete", a) }
func (f *fakeExec) Like(_ context.Context, a []string) error     { return f.record("like", a) }
func (f *fakeExec) Unlike(_ context.Context, a []string) error   { return f.record("unlike", a) }
func (f *fakeExec) Repost(_ context.Context, a []string) error   { return f.record("repost", a) }
func (f *fakeExec) Unrepost(_ context.Context, a []string) error { return f.record("unrepost", a) }
func (f *fakeExec) Vote(_ context.Context, a []string) error     { return f.record("vote", a) }
func (f *fakeExec) Comment(_ context.Context, a []string) error  { return f.record("comment", a) }
func (f *fakeExec) Uncomment(_ context.Context, a []string) error {
	return f.record("uncomment", a)
}
func (f *fakeExec) Notifications(_ context.Context, a []string) error {
	return f.record("notes", a)
}
func (f *fakeExec) Accept(_ context.Context, a []string) error   { return f.record("accept", a) }
func (f *fakeExec) Reject(_ context.Context, a []string) error   { return f.record("reject", a) }
func (f *fakeExec) MarkRead(_ context.Context, a []string) error { return f.record("read", a) }
func (f *fakeExec) Dismiss(_ context.Context, a []string) error  { return f.record("dismiss", a) }
func (f *fakeExec) ClearNotifications(_ context.Context, a []string) error {
	return f.record("clear", a)
}
func (f *fakeExec) Login(_ context.Context, a []string) error {
	f.signedIn = true
	return f.record("login", a)
}
func (f *fakeExec) Logout(_ context.Context, a []string) error {
	f.signedIn = false
	return f.record("logout", a)
}

func capturePrints(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, strings.TrimSpace(fmt.Sprintln(a...)))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	capturePrints(t)

	input := strings.Join([]string{
		"help",
		"login",
		"",
		"f c-robotics",
		"like p1",
		"repost p1 nice one",
		"vote p2 1",
		"comment p1 hello there",
		"n refresh",
		"accept r1",
		"dismiss n1 n2",
		"clear",
		"logout",
		"exit",
		"like never-reached",
	}, "\n")
	exec := &fakeExec{}

	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(strings.NewReader(input)))

	assert.Equal(t, []string{
		"login",
		"feed c-robotics",
		"like p1",
		"repost p1 nice one",
		"vote p2 1",
		"comment p1 hello there",
		"notes refresh",
		"accept r1",
		"dismiss n1 n2",
		"clear",
		"logout",
	}, exec.calls)
}

func TestRunREPL_HelpDependsOnSession(t *testing.T) {
	out := capturePrints(t)

	runREPL(context.Background(), &fakeExec{}, func() string { return "" }, bufio.NewScanner(strings.NewReader("help\n")))
	assert.Contains(t, *out, helpAnonymous)

	*out = nil
	runREPL(context.Background(), &fakeExec{signedIn: true}, func() string { return "" }, bufio.NewScanner(strings.NewReader("help\n")))
	assert.Contains(t, *out, helpSignedIn)
}

func TestRunREPL_ErrorsAndUnknownCommandsKeepLooping(t *testing.T) {
	out := capturePrints(t)
	exec := &fakeExec{fail: errors.New("boom")}

	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("frobnicate\nlike p1\nquit\n")))

	assert.Contains(t, *out, "Unknown command: frobnicate")
	assert.Contains(t, *out, "Error: boom")
	assert.Contains(t, *out, "Bye!")
	assert.Equal(t, []string{"like p1"}, exec.calls)
}
