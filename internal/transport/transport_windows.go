//go:build windows

package transport

import "net"

// Detect always reports false on Windows: there is no "fd 0 is the
// listener" convention there (original_source/src/windows.rs takes a
// different, non-fd-inheriting path entirely), so this engine only
// supports the explicit-listener transport mode on this platform.
func Detect(fd uintptr) (bool, error) {
	return false, nil
}

func listenerFromFD(fd uintptr) (net.Listener, error) {
	return nil, ErrNotAListener
}
