package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const tempIDPrefix = "tmp-"

type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

func (c Comment) Key() string { return c.ID }

// IsTemporary reports whether c is an optimistic placeholder that has not
// been confirmed by the backend yet.
func (c Comment) IsTemporary() bool { return IsTemporaryID(c.ID) }

// NewTempID returns a local identity for an entity not yet confirmed by the
// backend.
func NewTempID() string { return tempIDPrefix + uuid.NewString() }

// IsTemporaryID reports whether id was produced by NewTempID.
func IsTemporaryID(id string) bool { return strings.HasPrefix(id, tempIDPrefix) }

// NewTempComment builds an optimistic placeholder with a local identity.
func NewTempComment(postID, authorID, body string, now time.Time) Comment {
	return Comment{
		ID:        NewTempID(),
		PostID:    postID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now.UTC(),
	}
}

func CommentFromRecord(r Record) (Comment, error) {
	var c Comment
	var err error
	if c.ID, err = requiredString(r, "id"); err != nil {
		return Comment{}, err
	}
	if c.PostID, err = requiredString(r, "post_id"); err != nil {
		return Comment{}, err
	}
	if c.AuthorID, err = requiredString(r, "author_id"); err != nil {
		return Comment{}, err
	}
	if c.Body, err = optionalString(r, "body"); err != nil {
		return Comment{}, err
	}
	if c.CreatedAt, err = requiredTime(r, "created_at"); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// Record returns the fields sent on insert; temporary ids are not sent.
func (c Comment) Record() Record {
	r := Record{
		"post_id":    c.PostID,
		"author_id":  c.AuthorID,
		"body":       c.Body,
		"created_at": c.CreatedAt,
	}
	if c.ID != "" && !c.IsTemporary() {
		r["id"] = c.ID
	}
	return r
}
