package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/FMHsieh/esigate/net"
)

const keyPrefix = "esigate:"

// kvClient is implemented by the Redis and the Valkey ring clients
type kvClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close()
}

// Remote is a Storage in Redis or Valkey. The entries are serialized as
// JSON, under the hash of their key. The storage expires them after
// their TTL.
type Remote struct {
	client kvClient
	prefix string
}

// NewRedis creates a storage in a Redis ring. The keys are prefixed with
// the name of the instance.
func NewRedis(client *net.RedisRingClient, instance string) *Remote {
	return &Remote{client: client, prefix: keyPrefix + instance + ":"}
}

// NewValkey creates a storage in a Valkey ring.
func NewValkey(client *net.ValkeyRingClient, instance string) *Remote {
	return &Remote{client: client, prefix: keyPrefix + instance + ":"}
}

func (r *Remote) storageKey(key string) string {
	return r.prefix + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

func (r *Remote) Get(ctx context.Context, key string) (*Entry, error) {
	b, ok, err := r.client.Get(ctx, r.storageKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if !ok {
		return nil, nil
	}

	e, err := unmarshalEntry(b)
	if err != nil {
		return nil, err
	}

	// hash collision
	if e.Key != key {
		return nil, nil
	}

	return e, nil
}

func (r *Remote) Put(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	b, err := e.marshal()
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := r.client.Set(ctx, r.storageKey(key), b, ttl); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, r.storageKey(key))
}

func (r *Remote) Close() error {
	r.client.Close()
	return nil
}
