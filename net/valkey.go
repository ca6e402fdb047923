package net

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	jump "github.com/dgryski/go-jump"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/valkeyotel"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
)

// ValkeyOptions configures the ValkeyRingClient. The connection options
// are passed to every shard client.
type ValkeyOptions struct {
	Addrs    []string
	Username string
	Password string

	// ConnWriteTimeout bounds the socket writes, and the dial.
	ConnWriteTimeout time.Duration
	ConnLifetime     time.Duration

	// EnableOTel traces the commands with valkeyotel.
	EnableOTel bool

	// MetricsPrefix of the gauges, "cache.valkey." by default.
	MetricsPrefix string
	Metrics       metrics.Metrics
	Log           logging.Logger
}

var errNoValkeyShards = errors.New("no valkey shards configured")

func newShardClient(addr string, o *ValkeyOptions) (valkey.Client, error) {
	co := valkey.ClientOption{
		InitAddress:      []string{addr},
		Username:         o.Username,
		Password:         o.Password,
		ConnWriteTimeout: o.ConnWriteTimeout,
		ConnLifetime:     o.ConnLifetime,
		MaxFlushDelay:    20 * time.Microsecond,
		DisableRetry:     true,
		DisableCache:     true,
	}

	if o.EnableOTel {
		return valkeyotel.NewClient(co)
	}

	return valkey.NewClient(co)
}

// ValkeyRingClient shards the keys over the valkey instances with a jump
// consistent hash of the xxhash of the key.
type ValkeyRingClient struct {
	mu      sync.Mutex
	shards  []valkey.Client
	addrs   []string
	log     logging.Logger
	metrics metrics.Metrics
	prefix  string
	once    sync.Once
}

// NewValkeyRingClient creates a client per shard. The shards are ordered
// by address, so the key placement does not depend on the order of the
// configuration.
func NewValkeyRingClient(o *ValkeyOptions) (*ValkeyRingClient, error) {
	vrc := &ValkeyRingClient{
		addrs:   slices.Sorted(slices.Values(o.Addrs)),
		log:     o.Log,
		metrics: o.Metrics,
		prefix:  orDefault(o.MetricsPrefix, "cache.valkey."),
	}

	if vrc.log == nil {
		vrc.log = logging.New()
	}

	if vrc.metrics == nil {
		vrc.metrics = metrics.NewVoid()
	}

	for _, addr := range vrc.addrs {
		c, err := newShardClient(addr, o)
		if err != nil {
			vrc.Close()
			return nil, err
		}

		vrc.shards = append(vrc.shards, c)
	}

	vrc.metrics.UpdateGauge(vrc.prefix+"shards", float64(len(vrc.shards)))
	return vrc, nil
}

func (vrc *ValkeyRingClient) shardForKey(key string) (valkey.Client, error) {
	if len(vrc.shards) == 0 {
		return nil, errNoValkeyShards
	}

	return vrc.shards[jump.Hash(xxhash.Sum64String(key), len(vrc.shards))], nil
}

func (vrc *ValkeyRingClient) RingAvailable(ctx context.Context) bool {
	return len(vrc.shards) > 0 && vrc.PingAll(ctx) == nil
}

func (vrc *ValkeyRingClient) PingAll(ctx context.Context) error {
	var err error
	for i, shard := range vrc.shards {
		if e := shard.Do(ctx, shard.B().Ping().Build()).Error(); e != nil {
			vrc.log.Warnf("valkey shard %s not available: %v", vrc.addrs[i], e)
			err = errors.Join(err, e)
		}
	}

	return err
}

// Get returns the value stored at key. A missing key is reported with
// ok false and no error.
func (vrc *ValkeyRingClient) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	shard, err := vrc.shardForKey(key)
	if err != nil {
		return nil, false, err
	}

	value, err = shard.Do(ctx, shard.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Set stores value at key. A zero expiration keeps the key forever,
// otherwise it is rounded up to the second.
func (vrc *ValkeyRingClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	shard, err := vrc.shardForKey(key)
	if err != nil {
		return err
	}

	if expiration <= 0 {
		return shard.Do(ctx, shard.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()).Error()
	}

	secs := int64((expiration + time.Second - 1) / time.Second)
	return shard.Do(ctx, shard.B().Set().Key(key).Value(valkey.BinaryString(value)).ExSeconds(secs).Build()).Error()
}

func (vrc *ValkeyRingClient) Delete(ctx context.Context, key string) error {
	shard, err := vrc.shardForKey(key)
	if err != nil {
		return err
	}

	return shard.Do(ctx, shard.B().Del().Key(key).Build()).Error()
}

func (vrc *ValkeyRingClient) Close() {
	vrc.once.Do(func() {
		vrc.mu.Lock()
		defer vrc.mu.Unlock()
		for _, cli := range vrc.shards {
			cli.Close()
		}
	})
}
