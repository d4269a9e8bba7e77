//go:build !linux && !amd64

package clock

func readCycles() uint64 {
	return uint64(runtimeNanos())
}

// Source names the counter backing Cycles.
func Source() string {
	return "monotonic"
}
