// Package clock reads the cycle counter and the epoch wall clock used to
// timestamp phases, contention intervals and thread lifetimes.
package clock

import "time"

// Now returns the current cycle counter reading and milliseconds since the
// Unix epoch. It never fails and has no side effects.
func Now() (cycles uint64, millis int64) {
	return Cycles(), Millis()
}

// Cycles returns the current cycle counter reading.
func Cycles() uint64 {
	return readCycles()
}

// Millis returns wall-clock milliseconds since the Unix epoch.
func Millis() int64 {
	return time.Now().UnixMilli()
}

// Compose assembles the two 32-bit halves produced by a split counter read
// into one 64-bit value: hi in the upper word, lo in the lower word.
func Compose(hi, lo uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}

// Since returns the cycles elapsed since start. A start ahead of the current
// reading yields zero rather than a wrapped difference.
func Since(start uint64) uint64 {
	now := readCycles()
	if now < start {
		return 0
	}
	return now - start
}
