// Package export publishes the final thread statistics table into a BPF
// array map, so tools such as bpftool can inspect a run after the fact.
package export

import (
	"bytes"
	"errors"

	"github.com/srodi/csprof/pkg/types"
)

// ErrUnsupported is returned on platforms without BPF maps.
var ErrUnsupported = errors.New("thread export requires linux")

// MapName is the name given to the exported map.
const MapName = "csprof_threads"

const nameLen = 16

// threadValue is the fixed-size map value for one slot.
type threadValue struct {
	Start    uint64
	Stop     uint64
	CSTime   uint64
	WaitTime uint64
	CSStart  uint64
	OSTID    uint32
	Flags    uint32
	Name     [nameLen]byte
}

const flagUsed = 1

func encode(row types.ThreadStat) threadValue {
	v := threadValue{
		Start:    row.Start,
		Stop:     row.Stop,
		CSTime:   row.CSTime,
		WaitTime: row.WaitTime,
		CSStart:  row.CSStart,
		OSTID:    uint32(row.OSThreadID),
		Flags:    flagUsed,
	}
	// Names longer than the field are cut, keeping a terminating zero.
	copy(v.Name[:nameLen-1], row.Name)
	return v
}

func decode(slot uint32, v threadValue) types.ThreadStat {
	return types.ThreadStat{
		Slot:       int(slot),
		OSThreadID: int(v.OSTID),
		Start:      v.Start,
		Stop:       v.Stop,
		CSTime:     v.CSTime,
		WaitTime:   v.WaitTime,
		CSStart:    v.CSStart,
		Name:       cStr(v.Name[:]),
	}
}

func cStr(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n == -1 {
		return string(b)
	}
	return string(b[:n])
}
