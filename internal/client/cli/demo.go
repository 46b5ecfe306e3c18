package cli

import (
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/memory"
)

// seedDemo fills b with a small campus network so the client can be tried
// without a database.
func seedDemo(b *memory.Backend, now time.Time) {
	at := func(ago time.Duration) time.Time { return now.Add(-ago).UTC() }

	b.Seed(backend.KindProfiles,
		backend.Record{"id": demoUser, "name": "Ada Lovelace", "handle": "ada", "role": "student", "university": "UCL"},
		backend.Record{"id": "u-grace", "name": "Grace Hopper", "handle": "grace", "role": "faculty", "university": "Yale"},
		backend.Record{"id": "u-alan", "name": "Alan Turing", "handle": "alan", "role": "student", "university": "Cambridge"},
		backend.Record{"id": "u-staff", "name": "Campus Team", "handle": "campus", "role": "staff"},
	)
	b.Seed(backend.KindPosts,
		backend.Record{"id": "p-welcome", "author_id": "u-staff", "body": "Welcome to the new semester!", "created_at": at(3 * time.Hour)},
		backend.Record{"id": "p-compilers", "author_id": "u-grace", "body": "Office hours moved to Thursday. @ada bring your parser questions.", "created_at": at(40 * time.Minute)},
		backend.Record{"id": "p-poll", "author_id": "u-alan", "body": "Best time for the study group?", "created_at": at(20 * time.Minute),
			"poll": map[string]any{"options": []any{"Morning", "Afternoon", "Evening"}, "votes": []any{0, 0, 0}}},
		backend.Record{"id": "p-repost", "author_id": "u-alan", "original_post_id": "p-compilers", "repost_comment": "Useful!", "created_at": at(10 * time.Minute)},
		backend.Record{"id": "p-club", "author_id": "u-grace", "body": "Robotics club meets tonight.", "community_id": "c-robotics", "created_at": at(5 * time.Minute)},
	)
	b.Seed(backend.KindLikes,
		backend.Record{"post_id": "p-welcome", "user_id": "u-grace"},
		backend.Record{"post_id": "p-welcome", "user_id": "u-alan"},
		backend.Record{"post_id": "p-compilers", "user_id": "u-alan"},
	)
	b.Seed(backend.KindComments,
		backend.Record{"id": "c-1", "post_id": "p-welcome", "author_id": "u-alan", "body": "Glad to be back", "created_at": at(2 * time.Hour)},
	)
	b.Seed(backend.KindPollVotes,
		backend.Record{"post_id": "p-poll", "user_id": "u-grace", "option_index": 2},
	)
	b.Seed(backend.KindConnections,
		backend.Record{"id": "r-1", "requester_id": "u-alan", "receiver_id": demoUser, "status": "pending", "created_at": at(time.Hour)},
	)
	b.Seed(backend.KindNotifications,
		backend.Record{"id": "n-1", "user_id": demoUser, "type": "mention", "content": "Grace mentioned you",
			"data": map[string]any{"post_id": "p-compilers"}, "read": false, "created_at": at(40 * time.Minute)},
	)
}
