package net

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FMHsieh/esigate/net/storagetest"
)

func TestValkeyNoShards(t *testing.T) {
	cli, err := NewValkeyRingClient(&ValkeyOptions{})
	require.NoError(t, err)
	defer cli.Close()

	assert.False(t, cli.RingAvailable(context.Background()))

	_, _, err = cli.Get(context.Background(), "k")
	assert.ErrorIs(t, err, errNoValkeyShards)
}

func TestValkeyClientGetSetDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("valkey container test")
	}

	addr1 := storagetest.Valkey(t)
	addr2 := storagetest.Valkey(t)

	ctx := context.Background()
	cli, err := NewValkeyRingClient(&ValkeyOptions{Addrs: []string{addr1, addr2}})
	require.NoError(t, err)
	defer cli.Close()

	require.True(t, cli.RingAvailable(ctx))

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, cli.Set(ctx, key, []byte("value-"+key), 0))
	}

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		v, ok, err := cli.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value-"+key, string(v))
	}

	require.NoError(t, cli.Delete(ctx, "a"))
	_, ok, err := cli.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValkeyClientExpiration(t *testing.T) {
	if testing.Short() {
		t.Skip("valkey container test")
	}

	addr := storagetest.Valkey(t)

	ctx := context.Background()
	cli, err := NewValkeyRingClient(&ValkeyOptions{Addrs: []string{addr}})
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, cli.Set(ctx, "k", []byte("v"), time.Second))
	time.Sleep(2100 * time.Millisecond)

	_, ok, err := cli.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
