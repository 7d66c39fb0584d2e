package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDoctorLocker(client, 5*time.Second), mr, client
}

func TestWithDoctorLockRunsCriticalSection(t *testing.T) {
	locker, mr, _ := newTestLocker(t)
	doctorID := uuid.New()

	ran := false
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(fmt.Sprintf("lock:doctor:%s", doctorID)))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// The lock is gone once the section returns.
	assert.False(t, mr.Exists(fmt.Sprintf("lock:doctor:%s", doctorID)))
}

func TestWithDoctorLockContention(t *testing.T) {
	locker, _, _ := newTestLocker(t)
	doctorID := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return locker.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
			t.Fatal("second acquisition must not run")
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithDoctorLockIndependentDoctors(t *testing.T) {
	locker, _, _ := newTestLocker(t)

	err := locker.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return locker.WithDoctorLock(ctx, uuid.New(), func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithDoctorLockPropagatesError(t *testing.T) {
	locker, mr, _ := newTestLocker(t)
	doctorID := uuid.New()

	sentinel := errors.New("booking failed")
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	// Released even when the section fails.
	assert.False(t, mr.Exists(fmt.Sprintf("lock:doctor:%s", doctorID)))
}

// An expired lock held by another owner must not be deleted by our release.
func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	locker, mr, client := newTestLocker(t)
	doctorID := uuid.New()
	key := fmt.Sprintf("lock:doctor:%s", doctorID)

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		// Simulate TTL expiry plus re-acquisition by another process.
		mr.FastForward(10 * time.Second)
		return client.Set(ctx, key, "other-owner", time.Minute).Err()
	})
	require.NoError(t, err)

	val, err := client.Get(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-owner", val)
}
