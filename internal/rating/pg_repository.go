package rating

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dheovanwa/serenity/internal/appointment"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) GetSessionRecord(ctx context.Context, chatID uuid.UUID) (*appointment.SessionRecord, error) {
	var rec appointment.SessionRecord
	var ratedBy *string

	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id, ended, rating::int, rated_by::text, rated_at, created_at
		FROM chats
		WHERE appointment_id = $1
	`, chatID).Scan(&rec.AppointmentID, &rec.Ended, &rec.Rating, &ratedBy, &rec.RatedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrSessionRecordNotFound
		}
		return nil, err
	}

	if ratedBy != nil {
		id, err := uuid.Parse(*ratedBy)
		if err != nil {
			return nil, fmt.Errorf("parse rated_by: %w", err)
		}
		rec.RatedBy = &id
	}

	return &rec, nil
}

func (r *PgRepository) SubmitRating(ctx context.Context, s Submission) (*Result, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (appointment_id)
		VALUES ($1)
		ON CONFLICT (appointment_id) DO NOTHING
	`, s.ChatID)
	if err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}

	var existing *int
	err = tx.QueryRow(ctx, `
		SELECT rating::int FROM chats WHERE appointment_id = $1 FOR UPDATE
	`, s.ChatID).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("lock chat: %w", err)
	}
	if existing != nil {
		return nil, ErrRatingExists
	}

	_, err = tx.Exec(ctx, `
		UPDATE chats
		SET rating = $2,
		    rated_by = $3,
		    rated_at = $4
		WHERE appointment_id = $1
	`, s.ChatID, s.Stars, s.RatedBy, s.RatedAt)
	if err != nil {
		return nil, fmt.Errorf("write session rating: %w", err)
	}

	var ratings []int32
	err = tx.QueryRow(ctx, `
		SELECT ratings FROM psychiatrists WHERE id = $1 FOR UPDATE
	`, s.PsychiatristID).Scan(&ratings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrPsychiatristNotFound
		}
		return nil, fmt.Errorf("lock psychiatrist: %w", err)
	}

	ratings = append(ratings, int32(s.Stars))
	avg := RoundMean(ratings)

	_, err = tx.Exec(ctx, `
		UPDATE psychiatrists
		SET ratings = $2,
		    rating = $3::numeric,
		    updated_at = now()
		WHERE id = $1
	`, s.PsychiatristID, ratings, strconv.FormatFloat(avg, 'f', 1, 64))
	if err != nil {
		return nil, fmt.Errorf("update psychiatrist rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Result{
		ChatID:         s.ChatID,
		PsychiatristID: s.PsychiatristID,
		Stars:          s.Stars,
		Ratings:        ratings,
		Average:        avg,
		RatedAt:        s.RatedAt,
	}, nil
}
