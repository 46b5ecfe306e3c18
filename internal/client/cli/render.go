package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// describe turns an error into a message for the user.
func describe(err error) string {
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		return "sign in first (login)"
	case errors.Is(err, common.ErrTransient):
		return "network problem, your change was undone: " + err.Error()
	case errors.Is(err, common.ErrValidation):
		var v *common.ValidationError
		if errors.As(err, &v) {
			return v.Error()
		}
		return err.Error()
	case errors.Is(err, common.ErrNotFound):
		return "not found"
	default:
		return err.Error()
	}
}

func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

func authorName(p models.Post) string {
	if p.Author != nil && p.Author.Name != "" {
		return p.Author.Name
	}
	return p.AuthorID
}

func mark(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func writePost(w io.Writer, p models.Post, now time.Time) {
	var head strings.Builder
	fmt.Fprintf(&head, "[%s] %s, %s", p.ID, authorName(p), ago(now, p.CreatedAt))
	if p.Promoted {
		head.WriteString(" (promoted)")
	}
	if p.CommunityID != nil {
		fmt.Fprintf(&head, " in %s", *p.CommunityID)
	}
	fmt.Fprintln(w, head.String())

	if p.IsRepost() {
		fmt.Fprintf(w, "  reposted %s", p.OriginalPostID)
		if p.RepostComment != "" {
			fmt.Fprintf(w, ": %s", p.RepostComment)
		}
		fmt.Fprintln(w)
	}
	if p.Body != "" {
		for _, line := range strings.Split(p.Body, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	for _, m := range p.Media {
		ref := m.URL
		if ref == "" {
			ref = m.Key
		}
		fmt.Fprintf(w, "  [%s] %s\n", m.Kind, ref)
	}
	if p.Poll != nil {
		for i, opt := range p.Poll.Options {
			chosen := p.ViewerVote != nil && *p.ViewerVote == i
			fmt.Fprintf(w, "  %s %d. %s (%d)\n", mark(chosen, "*", " "), i, opt, p.Poll.Votes[i])
		}
	}
	fmt.Fprintf(w, "  likes %d%s  comments %d  reposts %d%s\n",
		p.LikeCount, mark(p.LikedByViewer, " (you)", ""),
		p.CommentCount,
		p.RepostCount, mark(p.RepostedByViewer, " (you)", ""))
}

func writeComment(w io.Writer, c models.Comment, now time.Time) {
	fmt.Fprintf(w, "  [%s] %s, %s: %s\n", c.ID, c.AuthorID, ago(now, c.CreatedAt), c.Body)
}

func writeRequest(w io.Writer, r models.ConnectionRequest, now time.Time) {
	who := r.Requester.Name
	if who == "" {
		who = r.RequesterID
	}
	details := strings.Join(nonEmpty(r.Requester.Role, r.Requester.University), ", ")
	if details != "" {
		details = " (" + details + ")"
	}
	fmt.Fprintf(w, "[%s] %s%s wants to connect, %s\n", r.ID, who, details, ago(now, r.CreatedAt))
}

func writeNotification(w io.Writer, n models.Notification, now time.Time) {
	fmt.Fprintf(w, "[%s]%s %s: %s, %s\n", n.ID, mark(n.Read, "", " *"), n.Type, n.Content, ago(now, n.CreatedAt))
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
