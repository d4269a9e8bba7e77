package clock

import "time"

var base = time.Now()

// runtimeNanos is the Go runtime's monotonic reading relative to package init.
func runtimeNanos() int64 {
	return int64(time.Since(base))
}
