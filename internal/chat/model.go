package chat

import (
	"time"

	"github.com/google/uuid"
)

// TimeLabelLayout renders the wall-clock label shown next to each message.
const TimeLabelLayout = "15.04"

// MaxMessageLength bounds a single message body, in runes.
const MaxMessageLength = 2000

// Message belongs to the chat session whose id equals the appointment id.
type Message struct {
	ID           uuid.UUID `json:"id"`
	ChatID       uuid.UUID `json:"chat_id"`
	SenderID     uuid.UUID `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	Text         string    `json:"text"`
	TimeLabel    string    `json:"time"`
	SenderRead   bool      `json:"sender_read"`
	ReceiverRead bool      `json:"receiver_read"`
	CreatedAt    time.Time `json:"created_at"`
}

type StreamEventType string

const (
	StreamMessage StreamEventType = "message"
	StreamRead    StreamEventType = "read"
	StreamStatus  StreamEventType = "status"
)

// StreamEvent is what an open chat stream receives. Appointment lifecycle
// events arrive with their own type and are folded into StreamStatus.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Message  *Message        `json:"message,omitempty"`
	ReaderID *uuid.UUID      `json:"reader_id,omitempty"`
	Status   string          `json:"status,omitempty"`
}
