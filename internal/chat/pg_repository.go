package chat

import (
	"context"
	"fmt"

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

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.ChatID,
		&m.SenderID,
		&m.SenderName,
		&m.Text,
		&m.TimeLabel,
		&m.SenderRead,
		&m.ReceiverRead,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PgRepository) InsertMessage(ctx context.Context, m Message) (*Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (appointment_id)
		VALUES ($1)
		ON CONFLICT (appointment_id) DO NOTHING
	`, m.ChatID)
	if err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, sender_name, text, time_label, sender_read, receiver_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, chat_id, sender_id, sender_name, text, time_label, sender_read, receiver_read, created_at
	`, m.ID, m.ChatID, m.SenderID, m.SenderName, m.Text, m.TimeLabel, m.SenderRead, m.ReceiverRead)

	stored, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

func (r *PgRepository) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, sender_name, text, time_label, sender_read, receiver_read, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET receiver_read = true
		WHERE chat_id = $1
		  AND sender_id <> $2
		  AND NOT receiver_read
	`, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) UnreadCount(ctx context.Context, chatID, readerID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE chat_id = $1
		  AND sender_id <> $2
		  AND NOT receiver_read
	`, chatID, readerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *PgRepository) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, COUNT(m.id)
		FROM appointments a
		LEFT JOIN messages m
		       ON m.chat_id = a.id
		      AND m.sender_id <> $1
		      AND NOT m.receiver_read
		WHERE (a.patient_id = $1 OR a.psychiatrist_id = $1)
		  AND a.status = $2
		GROUP BY a.id
	`, userID, string(appointment.StatusInProgress))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}
