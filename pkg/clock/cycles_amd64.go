//go:build amd64

package clock

// rdtsc executes RDTSC and returns EAX (low word) and EDX (high word).
// Implemented in cycles_amd64.s.
func rdtsc() (lo, hi uint32)

func readCycles() uint64 {
	lo, hi := rdtsc()
	return Compose(hi, lo)
}

// Source names the counter backing Cycles.
func Source() string {
	return "rdtsc"
}
