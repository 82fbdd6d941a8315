package character

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLockerFromClient(client, ttl)
	locker.poll = 5 * time.Millisecond
	return locker, mr
}

func TestRedisLockerSerialisesPerCharacter(t *testing.T) {
	locker, mr := newTestRedisLocker(t, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "gpt")
	require.NoError(t, err)
	assert.True(t, mr.Exists("agora:lease:gpt"))

	other, err := locker.Acquire(ctx, "grok")
	require.NoError(t, err)
	other()
	assert.False(t, mr.Exists("agora:lease:grok"))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(waitCtx, "gpt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.False(t, mr.Exists("agora:lease:gpt"))

	again, err := locker.Acquire(ctx, "gpt")
	require.NoError(t, err)
	again()
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	locker, _ := newTestRedisLocker(t, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "claude")
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		next, err := locker.Acquire(ctx, "claude")
		if err != nil {
			close(acquired)
			return
		}
		acquired <- next
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lease")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case next, ok := <-acquired:
		require.True(t, ok, "second acquire failed")
		next()
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the released lease")
	}
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	locker, mr := newTestRedisLocker(t, time.Minute)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "grok")
	require.NoError(t, err)

	// The first lease expires and another process takes over.
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("agora:lease:grok"))
	current, err := locker.Acquire(ctx, "grok")
	require.NoError(t, err)
	token, err := mr.Get("agora:lease:grok")
	require.NoError(t, err)

	stale()
	got, err := mr.Get("agora:lease:grok")
	require.NoError(t, err, "a stale release must not delete the new holder's lease")
	assert.Equal(t, token, got)

	current()
	assert.False(t, mr.Exists("agora:lease:grok"))
}

func TestRedisLockerRenewsHeldLease(t *testing.T) {
	ttl := 300 * time.Millisecond
	locker, mr := newTestRedisLocker(t, ttl)

	release, err := locker.Acquire(context.Background(), "claude")
	require.NoError(t, err)

	mr.FastForward(250 * time.Millisecond)
	require.True(t, mr.Exists("agora:lease:claude"))
	require.Eventually(t, func() bool {
		return mr.TTL("agora:lease:claude") > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists("agora:lease:claude"))
}
