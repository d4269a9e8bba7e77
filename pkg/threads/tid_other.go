//go:build !linux

package threads

func osThreadID() int {
	return 0
}
