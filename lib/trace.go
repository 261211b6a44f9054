package lib

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const traceEnvVar = "RUDP_LOG"

// Tracer writes the per-role protocol trace: one event per line, prefixed
// with a timestamp and a [LOG] tag. A nil Tracer discards all events, so
// call sites never need to guard.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File // non-nil when the tracer owns the file
}

// NewTracer builds a tracer over an arbitrary writer (tests pass a buffer).
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// TraceEnabled reports whether the RUDP_LOG environment variable requests a
// protocol trace.
func TraceEnabled() bool {
	return os.Getenv(traceEnvVar) == "1"
}

// OpenRoleTracer opens the per-role trace file (server_log.txt or
// client_log.txt) when tracing is enabled, and returns nil otherwise.
func OpenRoleTracer(role string) *Tracer {
	if !TraceEnabled() {
		return nil
	}
	f, err := os.Create(role + "_log.txt")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open trace log for role %s: %v\n", role, err)
		return nil
	}
	return &Tracer{w: f, f: f}
}

// Event appends one formatted trace line.
func (t *Tracer) Event(format string, args ...interface{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	fmt.Fprintf(t.w, "[%s.%06d] [LOG] ", now.Format("2006-01-02 15:04:05"), now.Nanosecond()/1000)
	fmt.Fprintf(t.w, format, args...)
	fmt.Fprintln(t.w)
}

func (t *Tracer) Close() {
	if t == nil || t.f == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.f.Close()
	t.f = nil
}
