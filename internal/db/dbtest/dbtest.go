// Package dbtest opens the integration database named by TEST_POSTGRES_DSN.
// Tests that use it skip when the variable is unset.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/db"
)

// Config returns the settings integration tests connect with, or skips t.
func Config(t *testing.T) config.Config {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	return config.Config{
		PostgresDSN:      dsn,
		PostgresMaxConns: 16,
		PostgresMinConns: 1,
		PostgresTimeout:  10 * time.Second,
		Timezone:         loc,
	}
}

// Pool opens a migrated pool that is closed when t finishes.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg := Config(t)

	pool, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// People is a freshly inserted patient and psychiatrist pair.
type People struct {
	PatientID        uuid.UUID
	PatientName      string
	PsychiatristID   uuid.UUID
	PsychiatristName string
}

func SeedPeople(t *testing.T, pool *pgxpool.Pool, chatQuota int) People {
	t.Helper()
	ctx := context.Background()

	p := People{
		PatientID:        uuid.New(),
		PatientName:      "Rina",
		PsychiatristID:   uuid.New(),
		PsychiatristName: "dr. Bima",
	}
	_, err := pool.Exec(ctx, `INSERT INTO patients (id, name) VALUES ($1, $2)`, p.PatientID, p.PatientName)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO psychiatrists (id, name, daily_chat_quota) VALUES ($1, $2, $3)
	`, p.PsychiatristID, p.PsychiatristName, chatQuota)
	require.NoError(t, err)
	return p
}

// InsertAppointment writes an appointment row directly, bypassing capacity.
func InsertAppointment(t *testing.T, pool *pgxpool.Pool, p People, method, date, status string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO appointments (id, patient_id, psychiatrist_id, patient_name, psychiatrist_name, method, scheduled_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, now())
	`, id, p.PatientID, p.PsychiatristID, p.PatientName, p.PsychiatristName, method, date, status)
	require.NoError(t, err)
	return id
}

// Booked reads the chat counter for one psychiatrist day, zero when absent.
func Booked(t *testing.T, pool *pgxpool.Pool, psychiatristID uuid.UUID, date string) int {
	t.Helper()

	var booked int
	err := pool.QueryRow(context.Background(), `
		SELECT COALESCE((
			SELECT booked FROM chat_capacity WHERE psychiatrist_id = $1 AND scheduled_date = $2::date
		), 0)
	`, psychiatristID, date).Scan(&booked)
	require.NoError(t, err)
	return booked
}
