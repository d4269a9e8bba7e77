package report

import (
	"fmt"
	"runtime"
	"strings"
)

// FormatFrames renders up to limit frames of pcs, one function and file:line
// pair per frame. Runtime-internal frames are skipped and do not count
// against limit.
func FormatFrames(pcs []uintptr, limit int) string {
	if len(pcs) == 0 || limit <= 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	printed := 0
	for printed < limit {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "          at %s\n", frame.Function)
			fmt.Fprintf(&b, "              %s:%d\n", frame.File, frame.Line)
			printed++
		}
		if !more {
			break
		}
	}
	return b.String()
}
