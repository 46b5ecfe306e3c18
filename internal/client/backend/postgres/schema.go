package postgres

import (
	"slices"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
)

type table struct {
	name    string
	columns []string
	json    []string
}

func (t table) has(col string) bool    { return slices.Contains(t.columns, col) }
func (t table) isJSON(col string) bool { return slices.Contains(t.json, col) }

var tables = map[backend.Kind]table{
	backend.KindPosts: {
		name:    "posts",
		columns: []string{"id", "author_id", "body", "media", "original_post_id", "repost_comment", "poll", "community_id", "created_at"},
		json:    []string{"media", "poll"},
	},
	backend.KindLikes: {
		name:    "likes",
		columns: []string{"id", "post_id", "user_id", "created_at"},
	},
	backend.KindComments: {
		name:    "comments",
		columns: []string{"id", "post_id", "author_id", "body", "created_at"},
	},
	backend.KindPollVotes: {
		name:    "poll_votes",
		columns: []string{"id", "post_id", "user_id", "option_index", "created_at"},
	},
	backend.KindProfiles: {
		name:    "profiles",
		columns: []string{"id", "name", "handle", "role", "university", "avatar_url"},
	},
	backend.KindConnections: {
		name:    "connections",
		columns: []string{"id", "requester_id", "receiver_id", "status", "read", "created_at"},
	},
	backend.KindNotifications: {
		name:    "notifications",
		columns: []string{"id", "user_id", "type", "content", "data", "read", "created_at"},
		json:    []string{"data"},
	},
}

func kindOf(tableName string) (backend.Kind, bool) {
	for k, t := range tables {
		if t.name == tableName {
			return k, true
		}
	}
	return "", false
}
