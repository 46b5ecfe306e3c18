package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a lightweight stub.
type execIface interface {
	isSignedIn(ctx context.Context) bool
	Feed(ctx context.Context, args []string) error
	Refresh(ctx context.Context, args []string) error
	Search(ctx context.Context, args []string) error
	Comments(ctx context.Context, args []string) error
	Post(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Like(ctx context.Context, args []string) error
	Unlike(ctx context.Context, args []string) error
	Repost(ctx context.Context, args []string) error
	Unrepost(ctx context.Context, args []string) error
	Vote(ctx context.Context, args []string) error
	Comment(ctx context.Context, args []string) error
	Uncomment(ctx context.Context, args []string) error
	Notifications(ctx context.Context, args []string) error
	Accept(ctx context.Context, args []string) error
	Reject(ctx context.Context, args []string) error
	MarkRead(ctx context.Context, args []string) error
	Dismiss(ctx context.Context, args []string) error
	ClearNotifications(ctx context.Context, args []string) error
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
}

const (
	helpSignedIn = "Available commands: feed [community|global], refresh, search <text>, comments <post>, " +
		"post, delete <post>, like|unlike <post>, repost <post> [comment], unrepost <post>, vote <post> <option>, " +
		"comment <post> <text>, uncomment <post> <comment>, notes, accept|reject <request>, read <id...>, " +
		"dismiss <id...>, clear, logout, exit"
	helpAnonymous = "Available commands: feed [community|global], refresh, search <text>, comments <post>, login, exit"
)

// runREPL reads commands from scanner until EOF, "exit" or "quit". Handler
// errors are printed and never end the loop.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("feed %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isSignedIn(ctx) {
				printlnFn(helpSignedIn)
			} else {
				printlnFn(helpAnonymous)
			}
		case "feed", "f":
			err = a.Feed(ctx, args)
		case "refresh", "r":
			err = a.Refresh(ctx, args)
		case "search":
			err = a.Search(ctx, args)
		case "comments":
			err = a.Comments(ctx, args)
		case "post":
			err = a.Post(ctx, args)
		case "delete":
			err = a.Delete(ctx, args)
		case "like":
			err = a.Like(ctx, args)
		case "unlike":
			err = a.Unlike(ctx, args)
		case "repost":
			err = a.Repost(ctx, args)
		case "unrepost":
			err = a.Unrepost(ctx, args)
		case "vote":
			err = a.Vote(ctx, args)
		case "comment":
			err = a.Comment(ctx, args)
		case "uncomment":
			err = a.Uncomment(ctx, args)
		case "notes", "n":
			err = a.Notifications(ctx, args)
		case "accept":
			err = a.Accept(ctx, args)
		case "reject":
			err = a.Reject(ctx, args)
		case "read":
			err = a.MarkRead(ctx, args)
		case "dismiss":
			err = a.Dismiss(ctx, args)
		case "clear":
			err = a.ClearNotifications(ctx, args)
		case "login":
			err = a.Login(ctx, args)
		case "logout":
			err = a.Logout(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", describe(err))
		}
	}
}
