package types

// DefaultTopK controls how many contended monitors are kept per phase.
const DefaultTopK = 5

// DefaultMaxThreads is the default capacity of the thread statistics table.
const DefaultMaxThreads = 1024

// DefaultStackFrames bounds how many frames a monitor keeps for its contention stack.
const DefaultStackFrames = 8

// ThreadStat is the final (or current) record of one thread slot.
type ThreadStat struct {
	Slot         int
	OSThreadID   int
	Start        uint64
	Stop         uint64
	CSTime       uint64
	WaitTime     uint64
	Name         string
	Type         string
	CSStart      uint64
	CSRecursions int64
	Live         bool
}

// MonitorStat is a point-in-time view of one monitor taken at a quiescence point.
type MonitorStat struct {
	ID            uint64
	Label         string
	PhaseCSTime   uint64
	AccumulatedCS uint64
	Stack         []uintptr
	LockEvents    uint64
	WaitEvents    uint64
}

// PhaseStat summarises one closed phase.
type PhaseStat struct {
	Seq         uint64
	StartCycles uint64
	EndCycles   uint64
	Cycles      uint64
	Millis      int64
	Monitors    int
	Top         []MonitorStat
}
