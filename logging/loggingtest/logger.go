// Package loggingtest provides a logging.Logger that records the entries
// so that tests can wait for expected messages.
package loggingtest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FMHsieh/esigate/logging"
)

var ErrWaitTimeout = errors.New("timeout")

type recorder struct {
	mu      sync.Mutex
	entries []string
	changed chan struct{}
	muted   bool
}

// TestLogger records every entry, regardless of the level.
type TestLogger struct {
	rec    *recorder
	prefix string
}

func New() *TestLogger {
	return &TestLogger{rec: &recorder{changed: make(chan struct{})}}
}

func (r *recorder) save(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.muted {
		return
	}

	r.entries = append(r.entries, e)
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *recorder) count(exp string) (int, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, e := range r.entries {
		if strings.Contains(e, exp) {
			n++
		}
	}

	return n, r.changed
}

func (tl *TestLogger) save(e string) { tl.rec.save(tl.prefix + e) }

// WaitForN blocks until n entries containing exp were logged, or the
// timeout expires.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	timeout := time.After(to)
	for {
		c, changed := tl.rec.count(exp)
		if c >= n {
			return nil
		}

		select {
		case <-changed:
		case <-timeout:
			return ErrWaitTimeout
		}
	}
}

func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// Count returns how many entries contain exp.
func (tl *TestLogger) Count(exp string) int {
	n, _ := tl.rec.count(exp)
	return n
}

func (tl *TestLogger) Reset() {
	tl.rec.mu.Lock()
	defer tl.rec.mu.Unlock()
	tl.rec.entries = nil
}

func (tl *TestLogger) Mute() {
	tl.rec.mu.Lock()
	defer tl.rec.mu.Unlock()
	tl.rec.muted = true
}

func (tl *TestLogger) Unmute() {
	tl.rec.mu.Lock()
	defer tl.rec.mu.Unlock()
	tl.rec.muted = false
}

func (tl *TestLogger) Error(a ...interface{})            { tl.save(fmt.Sprint(a...)) }
func (tl *TestLogger) Errorf(f string, a ...interface{}) { tl.save(fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Warn(a ...interface{})             { tl.save(fmt.Sprint(a...)) }
func (tl *TestLogger) Warnf(f string, a ...interface{})  { tl.save(fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Info(a ...interface{})             { tl.save(fmt.Sprint(a...)) }
func (tl *TestLogger) Infof(f string, a ...interface{})  { tl.save(fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Debug(a ...interface{})            { tl.save(fmt.Sprint(a...)) }
func (tl *TestLogger) Debugf(f string, a ...interface{}) { tl.save(fmt.Sprintf(f, a...)) }

// WithFields returns a logger sharing the recorded entries, prefixing its
// own entries with the fields in key order.
func (tl *TestLogger) WithFields(fields map[string]interface{}) logging.Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(tl.prefix)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v ", k, fields[k])
	}

	return &TestLogger{rec: tl.rec, prefix: b.String()}
}
