package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerSerialisesSameKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, time.Minute)
	locker.retries = 1
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, SettlementLockKey(7))
	require.NoError(t, err)

	_, err = locker.Lock(ctx, SettlementLockKey(7))
	require.ErrorIs(t, err, ErrLockNotObtained)

	other, err := locker.Lock(ctx, SettlementLockKey(8))
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	again, err := locker.Lock(ctx, SettlementLockKey(7))
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *RedisLocker
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}
