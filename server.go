package fcgi

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one fully assembled FastCGI request. It is invoked
// once PARAMS closes (spec.md §4.3); it may return before stdin has been
// fully drained, in which case any unread bytes are discarded on request
// close (spec.md §6).
type Handler interface {
	ServeFCGI(*Request)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(*Request)

// ServeFCGI calls f(r).
func (f HandlerFunc) ServeFCGI(r *Request) { f(r) }

// ConcurrencyPolicy selects how the dispatcher hands accepted connections
// to their handlers (spec.md §4.6, §5).
type ConcurrencyPolicy int

const (
	// Sequential drives each accepted connection to completion before the
	// next Accept; this is the default.
	Sequential ConcurrencyPolicy = iota
	// HandlerScheduled dispatches each connection onto the server's
	// errgroup so multiple connections are served concurrently. Under
	// either policy, each request's handler runs on a goroutine the
	// connection starts for it, not on the goroutine reading that
	// connection's records.
	HandlerScheduled
)

// Server is the FastCGI Responder dispatcher of spec.md §4.6/§2(g): the
// top-level accept loop binding a Handler to a listening Transport.
type Server struct {
	// Handler is invoked once per fully assembled request. It must not
	// be nil when Serve is called.
	Handler Handler

	// Policy selects the concurrency model of spec.md §4.6. The zero
	// value is Sequential.
	Policy ConcurrencyPolicy

	// Logger receives structured diagnostics for non-fatal per-connection
	// errors (spec.md §7). Defaults to a no-op logger.
	Logger *zap.Logger

	// ShutdownTimeout bounds how long Shutdown waits for in-flight
	// connections to finish on their own before forcing them closed.
	// Zero means wait indefinitely for ctx.Done().
	ShutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	group    *errgroup.Group
	conns    map[*conn]struct{}
	draining bool
}

// ErrServerClosed is returned by Serve after Shutdown has been called.
var ErrServerClosed = errors.New("fcgi: server closed")

func (s *Server) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Serve runs the accept loop on ln, dispatching each accepted connection
// to s.Handler according to s.Policy. It blocks until ln.Accept fails
// permanently or Shutdown is called, per spec.md §4.6: "Accept errors
// that are transient (interrupted system call) retry; permanent errors
// (listener closed) stop the loop."
func (s *Server) Serve(ln net.Listener) error {
	if s.Handler == nil {
		return errors.New("fcgi: Server.Handler must not be nil")
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listener = ln
	s.group = &errgroup.Group{}
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()

	for {
		raw, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return ErrServerClosed
			}
			if isTemporary(err) {
				continue
			}
			return err
		}

		c := newConn(raw, s.Handler, s.logger(), s.Policy)

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		// Every accepted connection, regardless of policy, is tracked on
		// s.group so Shutdown's group.Wait() only returns once it has
		// actually finished (mirrors mevdschee-tqserver/server.go's
		// Server.Shutdown, which calls wg.Add(1) unconditionally). Under
		// Sequential, the accept loop still waits for this connection to
		// finish before calling Accept again; under HandlerScheduled it
		// moves on immediately and serves connections concurrently.
		finished := make(chan struct{})
		s.group.Go(func() error {
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			close(finished)
			return nil
		})

		if s.Policy != HandlerScheduled {
			<-finished
		}
	}
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

// Shutdown closes the listener so Serve's accept loop returns, then waits
// for in-flight connections to finish, or force-closes them when ctx is
// done (spec.md §4.6, grounded on mevdschee-tqserver/server.go's
// Server.Shutdown).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	ln := s.listener
	group := s.group
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	if s.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ShutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		if group != nil {
			_ = group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			_ = c.raw.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}
