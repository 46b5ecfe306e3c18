package common

import "time"

// DefaultStaleAfter is the age after which a cached collection is refetched
// on view (re)entry.
const DefaultStaleAfter = 5 * time.Minute

// Page sizes for bulk fetches.
const (
	FeedPageSize         = 20
	NotificationPageSize = 50
)

// PromotionWindow bounds how long a post from a promoted author stays pinned
// above the rest of the feed.
const PromotionWindow = 24 * time.Hour
