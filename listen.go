package fcgi

import (
	"errors"
	"net"

	"github.com/fcgisrv/fcgi/internal/transport"
)

// StdinFD is the file descriptor a FastCGI Responder conventionally
// inherits its listening socket on when launched by a web server
// (spec.md §4.6, grounded on original_source/src/unix.rs's accept-on-fd-0
// default and original_source/examples/multithreaded_hello.rs's
// run_raw(handler, 0) call).
const StdinFD uintptr = 0

// ServeFD wraps fd as a listener — verifying it is actually a listening
// socket rather than an already-connected one, per spec.md §4.6/§9 — and
// serves it with srv. It is the entry point a process launched by a web
// server's "spawn and inherit a bound socket" mechanism uses.
func (s *Server) ServeFD(fd uintptr) error {
	ln, err := transport.FromFD(fd)
	if err != nil {
		if errors.Is(err, transport.ErrNotAListener) {
			return ErrNotAListener
		}
		return err
	}
	return s.Serve(ln)
}

// ListenAndServe is a convenience wrapper around net.Listen and Serve, for
// running the engine against a network address directly rather than an
// inherited descriptor (e.g. during local development of a handler before
// wiring it to a web server).
func (s *Server) ListenAndServe(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}
