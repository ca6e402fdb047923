package net

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const drainPollInterval = 100 * time.Millisecond

// ShutdownListener counts the open connections accepted by a listener,
// so that the gateway can wait for them to drain after the server shut
// down.
type ShutdownListener struct {
	net.Listener
	open atomic.Int64
}

type trackedConn struct {
	net.Conn
	listener *ShutdownListener
	once     sync.Once
}

var _ net.Listener = &ShutdownListener{}

// NewShutdownListener wraps a listener.
func NewShutdownListener(l net.Listener) *ShutdownListener {
	return &ShutdownListener{Listener: l}
}

// Accept accepts a connection and counts it until it is closed.
func (l *ShutdownListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	l.open.Add(1)
	return &trackedConn{Conn: c, listener: l}, nil
}

// Open returns the number of the accepted connections not closed yet.
func (l *ShutdownListener) Open() int64 { return l.open.Load() }

// Shutdown waits until every accepted connection is closed, or the
// context is done.
func (l *ShutdownListener) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		n := l.open.Load()
		if n <= 0 {
			return nil
		}

		log.Debugf("waiting for %d connections to close", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.listener.open.Add(-1) })
	return err
}
