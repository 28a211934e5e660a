package models

import (
	"encoding/json"
	"time"
)

// Notification kinds pushed by the dispatcher.
const (
	NotificationKindMessage           = "message"
	NotificationKindConnectionRequest = "connection_request"
	NotificationKindFollow            = "follow"
)

// Notification is a persisted event for an account, delivered in real time
// to its live connections and counted while unread.
type Notification struct {
	ID          int             `db:"id" json:"id"`
	RecipientID int             `db:"recipient_id" json:"recipient_id"`
	Kind        string          `db:"kind" json:"kind"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Read        bool            `db:"read" json:"read"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
