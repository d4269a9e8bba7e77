//go:build linux

package threads

import "golang.org/x/sys/unix"

func osThreadID() int {
	return unix.Gettid()
}
