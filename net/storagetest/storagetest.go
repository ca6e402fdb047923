// Package storagetest starts Redis and Valkey servers in containers for
// the tests of the shared cache storages. The servers are terminated by
// the cleanup of the test. In -short mode, the calling test is skipped.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/valkey-io/valkey-go"
)

const (
	redisImage  = "redis:7-alpine"
	valkeyImage = "valkey/valkey:8-alpine"

	// the first container start pulls the image
	startTimeout = 40 * time.Second
	pingTimeout  = 5 * time.Second
	pingInterval = 100 * time.Millisecond
)

type server struct {
	image string
	cmd   []string
	ping  func(ctx context.Context, address string) error
}

// Redis starts a redis server and returns its address. When password is
// not empty, the server requires it.
func Redis(t testing.TB, password string) string {
	t.Helper()

	var cmd []string
	if password != "" {
		cmd = []string{"--requirepass", password}
	}

	return start(t, server{
		image: redisImage,
		cmd:   cmd,
		ping: func(ctx context.Context, address string) error {
			c := redis.NewClient(&redis.Options{Addr: address, Password: password})
			defer c.Close()
			return c.Ping(ctx).Err()
		},
	})
}

// Valkey starts a valkey server and returns its address.
func Valkey(t testing.TB) string {
	t.Helper()
	return start(t, server{
		image: valkeyImage,
		ping: func(ctx context.Context, address string) error {
			c, err := valkey.NewClient(valkey.ClientOption{
				InitAddress:  []string{address},
				DisableCache: true,
			})
			if err != nil {
				return err
			}

			defer c.Close()
			return c.Do(ctx, c.B().Ping().Build()).Error()
		},
	})
}

func start(t testing.TB, s server) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("%s container is not started in short mode", s.image)
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.image,
			Cmd:          s.cmd,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", s.image, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			t.Errorf("failed to stop %s: %v", s.image, err)
		}
	})

	ctx, cancel = context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	address, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get the address of %s: %v", s.image, err)
	}

	if err := WaitReady(ctx, address, s.ping); err != nil {
		t.Fatalf("%s at %s not ready: %v", s.image, address, err)
	}

	t.Logf("started %s at %s in %v", s.image, address, time.Since(started))
	return address
}

// WaitReady calls ping until it succeeds or the context is done.
func WaitReady(ctx context.Context, address string, ping func(context.Context, string) error) error {
	for {
		err := ping(ctx, address)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(pingInterval):
		}
	}
}
