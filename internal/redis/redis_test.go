package redisclient

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dheovanwa/serenity/internal/config"
)

// testClient connects to TEST_REDIS_ADDR, or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb, err := NewRedisClient(context.Background(), config.Config{RedisAddr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestWithLockExcludesSecondHolder(t *testing.T) {
	rdb := testClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := BookingLockKey(uuid.New(), "2026-03-02")
	ctx := context.Background()

	err := locker.WithLock(ctx, key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error {
			t.Error("second holder entered the critical section")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	ran := false
	require.NoError(t, locker.WithLock(ctx, key, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestWithLockReturnsCallbackError(t *testing.T) {
	rdb := testClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := "lock:test:" + uuid.NewString()
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	n, err := rdb.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpiredLockIsNotReleasedByStaleHolder(t *testing.T) {
	rdb := testClient(t)
	ttl := 200 * time.Millisecond
	locker := NewRedisLocker(rdb, ttl)
	key := ReconcilerLockKey + ":" + uuid.NewString()
	ctx := context.Background()

	err := locker.WithLock(ctx, key, func(ctx context.Context) error {
		time.Sleep(2 * ttl)
		ok, err := rdb.SetNX(context.Background(), key, "next-holder", time.Minute).Result()
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	val, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "next-holder", val)
	require.NoError(t, rdb.Del(ctx, key).Err())
}

func TestBusDeliversToSubscribers(t *testing.T) {
	rdb := testClient(t)
	bus := NewBus(rdb)
	chatID, apptID := uuid.New(), uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, closeSub, err := bus.Subscribe(ctx, ChatChannel(chatID), AppointmentChannel(apptID))
	require.NoError(t, err)
	defer func() { _ = closeSub() }()

	require.NoError(t, bus.Publish(ctx, ChatChannel(chatID), []byte(`{"type":"message"}`)))
	require.NoError(t, bus.Publish(ctx, ChatChannel(uuid.New()), []byte(`{"type":"other"}`)))
	require.NoError(t, bus.Publish(ctx, AppointmentChannel(apptID), []byte(`{"type":"status"}`)))

	var got []string
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got = append(got, string(m))
		case <-ctx.Done():
			t.Fatalf("timed out after %v", got)
		}
	}
	assert.Equal(t, []string{`{"type":"message"}`, `{"type":"status"}`}, got)
}

func TestBusSubscriptionEndsWithContext(t *testing.T) {
	rdb := testClient(t)
	bus := NewBus(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	msgs, closeSub, err := bus.Subscribe(ctx, ChatChannel(uuid.New()))
	require.NoError(t, err)
	defer func() { _ = closeSub() }()

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestLockKeys(t *testing.T) {
	id := uuid.MustParse("7b5f1f3e-0d0c-4b7a-9e59-2f0d5d1c9a11")
	assert.Equal(t, "lock:booking:7b5f1f3e-0d0c-4b7a-9e59-2f0d5d1c9a11:2026-03-02", BookingLockKey(id, "2026-03-02"))
	assert.Equal(t, "chat:"+id.String(), ChatChannel(id))
	assert.Equal(t, "appointment:"+id.String(), AppointmentChannel(id))
}
