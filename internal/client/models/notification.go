package models

import "time"

// Envelope is shared by every notification variant.
type Envelope struct {
	ID          string
	RecipientID string
	CreatedAt   time.Time
	Read        bool
}

func (e Envelope) Key() string { return e.ID }

// Item is implemented by both notification variants.
type Item interface {
	Key() string
	Meta() Envelope
}

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// ConnectionRequest wraps a pending relationship record and a snapshot of
// the requester's public profile.
type ConnectionRequest struct {
	Envelope
	RequesterID string
	Status      ConnectionStatus
	Requester   Profile
}

func (c ConnectionRequest) Meta() Envelope { return c.Envelope }

type NotificationType string

const (
	NotificationMessage            NotificationType = "message"
	NotificationLike               NotificationType = "like"
	NotificationMention            NotificationType = "mention"
	NotificationConnectionAccepted NotificationType = "connection_accepted"
	NotificationConnectionRejected NotificationType = "connection_rejected"
	NotificationOther              NotificationType = "other"
)

func parseNotificationType(s string) NotificationType {
	switch t := NotificationType(s); t {
	case NotificationMessage, NotificationLike, NotificationMention,
		NotificationConnectionAccepted, NotificationConnectionRejected:
		return t
	default:
		return NotificationOther
	}
}

// Notification is the general variant. Payload is opaque and only used for
// deep-linking by the view layer.
type Notification struct {
	Envelope
	Type    NotificationType
	Content string
	Payload map[string]any
}

func (n Notification) Meta() Envelope { return n.Envelope }

func envelopeFromRecord(r Record, recipientField string) (Envelope, error) {
	var e Envelope
	var err error
	if e.ID, err = requiredString(r, "id"); err != nil {
		return Envelope{}, err
	}
	if e.RecipientID, err = requiredString(r, recipientField); err != nil {
		return Envelope{}, err
	}
	if e.CreatedAt, err = requiredTime(r, "created_at"); err != nil {
		return Envelope{}, err
	}
	if e.Read, err = optionalBool(r, "read"); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// ConnectionRequestFromRecord decodes a connections record. The requester
// profile is attached separately when the record does not embed it.
func ConnectionRequestFromRecord(r Record) (ConnectionRequest, error) {
	env, err := envelopeFromRecord(r, "receiver_id")
	if err != nil {
		return ConnectionRequest{}, err
	}
	c := ConnectionRequest{Envelope: env}
	if c.RequesterID, err = requiredString(r, "requester_id"); err != nil {
		return ConnectionRequest{}, err
	}
	status, err := optionalString(r, "status")
	if err != nil {
		return ConnectionRequest{}, err
	}
	c.Status = ConnectionStatus(status)
	if c.Status == "" {
		c.Status = ConnectionPending
	}
	requester, err := optionalRecord(r, "requester")
	if err != nil {
		return ConnectionRequest{}, err
	}
	if requester != nil {
		if c.Requester, err = ProfileFromRecord(requester); err != nil {
			return ConnectionRequest{}, err
		}
	} else {
		c.Requester = Profile{ID: c.RequesterID}
	}
	return c, nil
}

func NotificationFromRecord(r Record) (Notification, error) {
	env, err := envelopeFromRecord(r, "user_id")
	if err != nil {
		return Notification{}, err
	}
	n := Notification{Envelope: env}
	typ, err := optionalString(r, "type")
	if err != nil {
		return Notification{}, err
	}
	n.Type = parseNotificationType(typ)
	if n.Content, err = optionalString(r, "content"); err != nil {
		return Notification{}, err
	}
	if n.Payload, err = optionalRecord(r, "data"); err != nil {
		return Notification{}, err
	}
	return n, nil
}
