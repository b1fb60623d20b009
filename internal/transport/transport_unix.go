//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Detect reports whether fd is an inherited listening socket by calling
// getpeername on it and observing ENOTCONN, exactly as
// original_source/src/unix.rs's Transport::is_fastcgi does with raw
// libc::getpeername — translated to golang.org/x/sys/unix, the idiomatic
// way to reach that syscall from Go. A connected descriptor (err == nil)
// or any other error means fd is not usable as the FastCGI listener.
func Detect(fd uintptr) (bool, error) {
	_, err := unix.Getpeername(int(fd))
	if err == nil {
		return false, nil
	}
	if err == unix.ENOTCONN {
		return true, nil
	}
	return false, fmt.Errorf("fcgi: getpeername fd %d: %w", fd, err)
}

func listenerFromFD(fd uintptr) (net.Listener, error) {
	file := os.NewFile(fd, "fcgi-listen-fd")
	if file == nil {
		return nil, fmt.Errorf("fcgi: invalid descriptor %d", fd)
	}
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("fcgi: wrapping inherited descriptor %d: %w", fd, err)
	}
	return ln, nil
}
