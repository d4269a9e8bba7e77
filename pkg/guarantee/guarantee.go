// Package guarantee aborts the process when a measurement invariant breaks.
// Statistics produced after such a failure would be misleading, so nothing
// here returns an error.
package guarantee

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Handler receives the formatted failure message. It must not return.
type Handler func(msg string)

var (
	mu      sync.RWMutex
	handler Handler = defaultHandler
	logger          = zap.NewNop()
)

// exit allows tests to observe the default handler without terminating.
var exit = os.Exit

func defaultHandler(msg string) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Error("fatal invariant violation", zap.String("reason", msg))
	_ = l.Sync()
	fmt.Fprintf(os.Stderr, "csprof: fatal: %s\n", msg)
	exit(2)
}

// SetLogger routes the default handler's message through l.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetHandler replaces the failure handler and returns a func restoring the
// previous one.
func SetHandler(h Handler) (restore func()) {
	mu.Lock()
	prev := handler
	handler = h
	mu.Unlock()
	return func() {
		mu.Lock()
		handler = prev
		mu.Unlock()
	}
}

// Fatalf reports an invariant violation.
func Fatalf(format string, args ...any) {
	mu.RLock()
	h := handler
	mu.RUnlock()
	h(fmt.Sprintf(format, args...))
	// A handler that returns is a bug in the caller's test setup; keep the
	// process from continuing with corrupt state.
	panic("guarantee: handler returned")
}

// That calls Fatalf when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		Fatalf(format, args...)
	}
}

// Violation is the panic value produced by PanicHandler.
type Violation struct {
	Msg string
}

func (v Violation) Error() string { return v.Msg }

// PanicHandler panics with a Violation instead of exiting, for tests and
// embedders that prefer to unwind.
func PanicHandler(msg string) {
	panic(Violation{Msg: msg})
}
