package testutil

import (
	"log"
	"strings"
	"sync"
	"testing"
)

// testWriter forwards log output to t until the test finishes. Goroutines
// that outlive the test write to nowhere instead of panicking.
type testWriter struct {
	mu   sync.Mutex
	t    *testing.T
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func (w *testWriter) close() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}

// TestLogger returns a logger whose output is attached to t, so it only
// shows up for failing or verbose tests.
func TestLogger(t *testing.T) *log.Logger {
	w := &testWriter{t: t}
	t.Cleanup(w.close)
	return log.New(w, "[test] ", log.Lmsgprefix)
}
