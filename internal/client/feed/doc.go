// Package feed is the synchronization engine for the post cache.
//
// It bulk-fetches a page of posts for a scope, derives aggregate fields
// (likes, comments, reposts, poll tallies, the viewer's own flags) from
// separate backend queries and publishes the result into a store.FeedStore.
// Point reconciliation re-derives one post the same way, which makes it
// idempotent: running it twice, or out of order with other reconciliations,
// converges on the backend's current state.
package feed
