package backend

import (
	"context"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

// Kind names a remote collection.
type Kind string

const (
	KindPosts         Kind = "posts"
	KindLikes         Kind = "likes"
	KindComments      Kind = "comments"
	KindPollVotes     Kind = "poll_votes"
	KindProfiles      Kind = "profiles"
	KindConnections   Kind = "connections"
	KindNotifications Kind = "notifications"
)

// Record is a loosely typed row.
type Record = models.Record

// Order sorts List results by one field.
type Order struct {
	Field string
	Desc  bool
}

// ByCreatedDesc is the recency order used by every feed query.
var ByCreatedDesc = Order{Field: "created_at", Desc: true}

// EventType is the kind of change a subscription reports.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// AllEvents subscribes to every change type.
var AllEvents = []EventType{EventInsert, EventUpdate, EventDelete}

// Event describes one change. New is set for inserts and updates, Old for
// updates and deletes.
type Event struct {
	Kind Kind
	Type EventType
	New  Record
	Old  Record
}

// Row returns whichever side of the change is populated, preferring New.
func (e Event) Row() Record {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// Handler receives change events.
type Handler func(Event)

// Subscription identifies an open change-event stream.
type Subscription interface {
	ID() string
}

// Backend is the remote data store.
type Backend interface {
	// List returns up to limit records of kind matching filter in order.
	// limit <= 0 means no limit.
	List(ctx context.Context, kind Kind, filter *Filter, order Order, limit int) ([]Record, error)

	// Get returns a single record or common.ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) (Record, error)

	// Insert stores fields and returns the authoritative record.
	Insert(ctx context.Context, kind Kind, fields Record) (Record, error)

	Update(ctx context.Context, kind Kind, id string, fields Record) error

	Delete(ctx context.Context, kind Kind, id string) error

	// Upsert inserts fields or, when a record with the same conflictKey
	// values exists, overwrites it.
	Upsert(ctx context.Context, kind Kind, fields Record, conflictKey ...string) error

	Subscribe(ctx context.Context, kind Kind, events []EventType, h Handler) (Subscription, error)

	Unsubscribe(sub Subscription) error

	// CurrentViewer returns the authenticated user; ok is false for an
	// anonymous session.
	CurrentViewer(ctx context.Context) (v models.Viewer, ok bool)
}

// ViewerFunc resolves the authenticated user for implementations that do
// not own a session themselves.
type ViewerFunc func(ctx context.Context) (models.Viewer, bool)

// NoViewer is a ViewerFunc for anonymous sessions.
func NoViewer(context.Context) (models.Viewer, bool) { return models.Viewer{}, false }
