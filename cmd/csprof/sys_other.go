//go:build !linux

package main

import "golang.org/x/term"

func raiseMemlock() error {
	return nil
}

// disableInputEcho falls back to raw mode, which also stops echo.
func disableInputEcho(fd int) (func(), error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = term.Restore(fd, state)
	}, nil
}
