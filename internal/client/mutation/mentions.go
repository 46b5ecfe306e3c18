package mutation

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

const mentionTimeout = 10 * time.Second

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_.]{1,30})`)

// Mentions returns the distinct handles mentioned in body, in order of
// first appearance, lowercased.
func Mentions(body string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		h := strings.ToLower(strings.TrimRight(m[1], "."))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// extractMentions notifies every mentioned user except the author. It runs
// in the background; failures are logged and never affect the write that
// triggered it.
func (c *Coordinator) extractMentions(ctx context.Context, authorID, body string, data backend.Record) {
	handles := Mentions(body)
	if len(handles) == 0 {
		return
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mentionTimeout)
		defer cancel()

		recs, err := c.backend.List(ctx, backend.KindProfiles, (&backend.Filter{}).In("handle", handles), backend.Order{}, 0)
		if err != nil {
			c.log.Warn(ctx, "mention lookup failed", "error", err)
			return
		}
		for _, r := range recs {
			prof, err := models.ProfileFromRecord(r)
			if err != nil {
				c.log.Warn(ctx, "skipping malformed profile", "error", err)
				continue
			}
			if prof.ID == authorID {
				continue
			}
			_, err = c.backend.Insert(ctx, backend.KindNotifications, backend.Record{
				"user_id": prof.ID,
				"type":    string(models.NotificationMention),
				"content": "You were mentioned",
				"data":    data,
				"read":    false,
			})
			if err != nil {
				c.log.Warn(ctx, "mention notification failed", "user", prof.ID, "error", err)
			}
		}
	}()
}
