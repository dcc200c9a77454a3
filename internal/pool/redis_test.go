package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDialer_InvalidURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{name: "wrong scheme", url: "http://127.0.0.1:6379"},
		{name: "empty", url: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dialer, err := RedisDialer(tt.url)
			require.Error(t, err)
			assert.Nil(t, dialer)
			assert.Contains(t, err.Error(), "invalid redis url")
		})
	}
}

func TestRedisDialer_IncrBy(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	dialer, err := RedisDialer("redis://" + mr.Addr())
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := dialer(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Ping(ctx))

	for i := int64(1); i <= 3; i++ {
		got, err := conn.IncrBy(ctx, "visit_counter", 1)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	stored, err := mr.Get("visit_counter")
	require.NoError(t, err)
	assert.Equal(t, "3", stored)
}

func TestRedisDialer_Unreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	dialer, err := RedisDialer("redis://" + addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dialer(ctx)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisDialer_BackendError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("visit_counter", "not-a-number"))

	dialer, err := RedisDialer("redis://" + mr.Addr())
	require.NoError(t, err)

	conn, err := dialer(context.Background())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.IncrBy(context.Background(), "visit_counter", 1)
	require.Error(t, err)
}

func TestPool_WithRedis(t *testing.T) {
	t.Parallel()

	const callers = 20

	mr := miniredis.RunT(t)

	dialer, err := RedisDialer("redis://" + mr.Addr())
	require.NoError(t, err)

	p := newTestPool(t, WithDialer(dialer), WithMaxSize(4), WithAcquireTimeout(5*time.Second))

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With(context.Background(), func(ctx context.Context, conn Conn) error {
				_, err := conn.IncrBy(ctx, "visit_counter", 1)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := mr.Get("visit_counter")
	require.NoError(t, err)
	assert.Equal(t, "20", stored)
	assert.LessOrEqual(t, p.Stat().Total, int32(4))
}
