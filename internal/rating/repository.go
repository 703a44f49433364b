package rating

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dheovanwa/serenity/internal/appointment"
)

type Submission struct {
	ChatID         uuid.UUID
	PsychiatristID uuid.UUID
	RatedBy        uuid.UUID
	Stars          int
	RatedAt        time.Time
}

type Result struct {
	ChatID         uuid.UUID `json:"chat_id"`
	PsychiatristID uuid.UUID `json:"psychiatrist_id"`
	Stars          int       `json:"stars"`
	Ratings        []int32   `json:"ratings"`
	Average        float64   `json:"average"`
	RatedAt        time.Time `json:"rated_at"`
}

type Repository interface {
	// GetSessionRecord returns appointment.ErrSessionRecordNotFound before the first message.
	GetSessionRecord(ctx context.Context, chatID uuid.UUID) (*appointment.SessionRecord, error)
	// SubmitRating writes the session rating and the psychiatrist aggregate in one
	// transaction. It returns ErrRatingExists when the session was rated meanwhile.
	SubmitRating(ctx context.Context, s Submission) (*Result, error)
}
