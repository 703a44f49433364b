// Package capacity tracks what a psychiatrist has left to sell on a given day:
// a booking counter for chat sessions and reserved minute ranges for video calls.
// Every mutation is a single statement so concurrent releases cannot overshoot.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRangeTaken = errors.New("time range overlaps an existing reservation")
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Key identifies one psychiatrist's calendar day. Date is YYYY-MM-DD.
type Key struct {
	PsychiatristID uuid.UUID
	Date           string
}

type Ledger struct {
	q Querier
}

func NewLedger(q Querier) *Ledger {
	return &Ledger{q: q}
}

// ApplyDelta adds delta to the chat booking counter and returns the new value.
// The counter never drops below zero.
func (l *Ledger) ApplyDelta(ctx context.Context, key Key, delta int) (int, error) {
	var booked int
	err := l.q.QueryRow(ctx, `
		INSERT INTO chat_capacity (psychiatrist_id, scheduled_date, booked)
		VALUES ($1, $2::date, GREATEST($3::int, 0))
		ON CONFLICT (psychiatrist_id, scheduled_date)
		DO UPDATE SET booked = GREATEST(chat_capacity.booked + $3::int, 0)
		RETURNING booked
	`, key.PsychiatristID, key.Date, delta).Scan(&booked)
	if err != nil {
		return 0, fmt.Errorf("apply capacity delta: %w", err)
	}
	return booked, nil
}

// ReserveRange stores the [start,end] minute markers for a video appointment.
// Bounds are inclusive, so back-to-back sessions must not share a minute.
func (l *Ledger) ReserveRange(ctx context.Context, key Key, appointmentID uuid.UUID, start, end int) error {
	var taken bool
	err := l.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM video_reservations
			WHERE psychiatrist_id = $1
			  AND scheduled_date = $2::date
			  AND start_minute <= $4
			  AND end_minute >= $3
		)
	`, key.PsychiatristID, key.Date, start, end).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check reservation overlap: %w", err)
	}
	if taken {
		return ErrRangeTaken
	}

	_, err = l.q.Exec(ctx, `
		INSERT INTO video_reservations (appointment_id, psychiatrist_id, scheduled_date, start_minute, end_minute)
		VALUES ($1, $2, $3::date, $4, $5)
	`, appointmentID, key.PsychiatristID, key.Date, start, end)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// ReleaseRange drops the markers held by appointmentID. Releasing twice is a no-op.
func (l *Ledger) ReleaseRange(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	tag, err := l.q.Exec(ctx, `DELETE FROM video_reservations WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Booked reports the chat counter for key, zero when nothing was booked yet.
func (l *Ledger) Booked(ctx context.Context, key Key) (int, error) {
	var booked int
	err := l.q.QueryRow(ctx, `
		SELECT booked FROM chat_capacity WHERE psychiatrist_id = $1 AND scheduled_date = $2::date
	`, key.PsychiatristID, key.Date).Scan(&booked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read capacity: %w", err)
	}
	return booked, nil
}
