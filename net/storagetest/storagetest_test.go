package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReady(t *testing.T) {
	var calls int
	err := WaitReady(context.Background(), "addr", func(_ context.Context, address string) error {
		assert.Equal(t, "addr", address)
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitReadyTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fail := errors.New("down")
	err := WaitReady(ctx, "addr", func(context.Context, string) error { return fail })
	assert.ErrorIs(t, err, fail)
}

func TestRedisWithPassword(t *testing.T) {
	addr := Redis(t, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c := redis.NewClient(&redis.Options{Addr: addr})
	defer c.Close()
	assert.Error(t, c.Ping(ctx).Err())

	c = redis.NewClient(&redis.Options{Addr: addr, Password: "secret"})
	defer c.Close()
	assert.NoError(t, c.Ping(ctx).Err())
}

func TestValkey(t *testing.T) {
	assert.NotEmpty(t, Valkey(t))
}
