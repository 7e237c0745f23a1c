package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one archived room message. Private messages never reach the
// archive.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    string    `json:"room_id"`
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
