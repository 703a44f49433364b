package capacity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dheovanwa/serenity/internal/capacity"
	"github.com/dheovanwa/serenity/internal/db/dbtest"
)

// seedDay inserts a psychiatrist and n appointments for one date.
func seedDay(t *testing.T, pool *pgxpool.Pool, n int) (capacity.Key, []uuid.UUID) {
	t.Helper()

	people := dbtest.SeedPeople(t, pool, 10)
	key := capacity.Key{PsychiatristID: people.PsychiatristID, Date: "2026-03-02"}
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = dbtest.InsertAppointment(t, pool, people, "Video", key.Date, "Terjadwal")
	}
	return key, ids
}

func TestApplyDeltaNeverDropsBelowZero(t *testing.T) {
	pool := dbtest.Pool(t)
	key, _ := seedDay(t, pool, 0)
	ledger := capacity.NewLedger(pool)
	ctx := context.Background()

	booked, err := ledger.ApplyDelta(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, booked)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.ApplyDelta(ctx, key, -1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	booked, err = ledger.Booked(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, booked)
}

func TestReserveRangeRejectsOverlap(t *testing.T) {
	pool := dbtest.Pool(t)
	key, ids := seedDay(t, pool, 3)
	ledger := capacity.NewLedger(pool)
	ctx := context.Background()

	require.NoError(t, ledger.ReserveRange(ctx, key, ids[0], 600, 659))

	err := ledger.ReserveRange(ctx, key, ids[1], 659, 720)
	assert.ErrorIs(t, err, capacity.ErrRangeTaken)

	require.NoError(t, ledger.ReserveRange(ctx, key, ids[2], 660, 719))

	released, err := ledger.ReleaseRange(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, released)

	released, err = ledger.ReleaseRange(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, ledger.ReserveRange(ctx, key, ids[1], 600, 659))
}
