package net

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/FMHsieh/esigate/logging"
	"github.com/FMHsieh/esigate/metrics"
)

// RedisOptions configures the redis.Ring backing a shared cache storage.
// The zero values are replaced by the defaults.
type RedisOptions struct {
	// Addrs of the redis shards.
	Addrs    []string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration

	// PoolTimeout bounds the wait for a free connection.
	PoolTimeout  time.Duration
	MinIdleConns int
	MaxIdleConns int

	// ConnMetricsInterval is the period of the connection pool gauges.
	ConnMetricsInterval time.Duration

	// MetricsPrefix of the connection pool gauges, "cache.redis." by
	// default.
	MetricsPrefix string
	Metrics       metrics.Metrics
	Log           logging.Logger
}

// defaults of RedisOptions
const (
	redisTimeout       = 25 * time.Millisecond
	redisMinIdleConns  = 10
	redisMaxConns      = 100
	redisPoolInterval  = time.Minute
	redisMetricsPrefix = "cache.redis."
	redisPingRetries   = 7
)

func orDefault[T comparable](v, d T) T {
	var zero T
	if v == zero {
		return d
	}

	return v
}

func (o RedisOptions) withDefaults() RedisOptions {
	o.ReadTimeout = orDefault(o.ReadTimeout, redisTimeout)
	o.WriteTimeout = orDefault(o.WriteTimeout, redisTimeout)
	o.PoolTimeout = orDefault(o.PoolTimeout, redisTimeout)
	o.DialTimeout = orDefault(o.DialTimeout, redisTimeout)
	o.MinIdleConns = orDefault(o.MinIdleConns, redisMinIdleConns)
	o.MaxIdleConns = orDefault(o.MaxIdleConns, redisMaxConns)
	o.ConnMetricsInterval = orDefault(o.ConnMetricsInterval, redisPoolInterval)
	o.MetricsPrefix = orDefault(o.MetricsPrefix, redisMetricsPrefix)
	if o.Log == nil {
		o.Log = logging.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.NewVoid()
	}

	return o
}

func (o RedisOptions) ringOptions() *redis.RingOptions {
	shards := make(map[string]string, len(o.Addrs))
	for i, a := range o.Addrs {
		shards["shard"+strconv.Itoa(i)] = a
	}

	return &redis.RingOptions{
		Addrs:        shards,
		Password:     o.Password,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolTimeout:  o.PoolTimeout,
		DialTimeout:  o.DialTimeout,
		MinIdleConns: o.MinIdleConns,
		PoolSize:     o.MaxIdleConns,
	}
}

// RedisRingClient stores the cache entries in a ring of redis shards.
type RedisRingClient struct {
	ring    *redis.Ring
	options RedisOptions
	quit    chan struct{}
	once    sync.Once
}

func NewRedisRingClient(o *RedisOptions) *RedisRingClient {
	if o == nil {
		o = &RedisOptions{}
	}

	ro := o.withDefaults()
	return &RedisRingClient{
		ring:    redis.NewRing(ro.ringOptions()),
		options: ro,
		quit:    make(chan struct{}),
	}
}

// RingAvailable pings the ring, retrying with exponential backoff.
func (r *RedisRingClient) RingAvailable(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (string, error) {
		res, err := r.ring.Ping(ctx).Result()
		if err != nil {
			r.options.Log.Infof("redis not available, retrying: %v", err)
		}

		return res, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(redisPingRetries))

	return err == nil
}

func (r *RedisRingClient) updatePoolGauges() {
	s := r.ring.PoolStats()
	for name, v := range map[string]uint32{
		"hits":       s.Hits,
		"misses":     s.Misses,
		"timeouts":   s.Timeouts,
		"totalconns": s.TotalConns,
		"idleconns":  s.IdleConns,
		"staleconns": s.StaleConns,
	} {
		r.options.Metrics.UpdateGauge(r.options.MetricsPrefix+name, float64(v))
	}
}

// StartMetricsCollection updates the connection pool gauges periodically,
// until the client is closed.
func (r *RedisRingClient) StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(r.options.ConnMetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.updatePoolGauges()
			case <-r.quit:
				return
			}
		}
	}()
}

// Get returns the value stored at key. A missing key is reported with
// ok false and no error.
func (r *RedisRingClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.ring.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	default:
		return v, true, nil
	}
}

// Set stores value at key. A zero expiration keeps the key forever.
func (r *RedisRingClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.ring.Set(ctx, key, value, expiration).Err()
}

func (r *RedisRingClient) Delete(ctx context.Context, key string) error {
	return r.ring.Del(ctx, key).Err()
}

func (r *RedisRingClient) Close() {
	if r == nil {
		return
	}

	r.once.Do(func() {
		close(r.quit)
		r.ring.Close()
	})
}
