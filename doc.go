// Package fcgi implements the FastCGI 1.0 Responder role: a connection
// reader that demuxes incoming records into requests, a per-request state
// machine that exposes environment parameters and a stdin stream to
// user-supplied handler logic, and a response writer that frames the
// handler's stdout/stderr output back onto the wire.
//
// This package implements only the Responder role (see Role); it does
// not implement Authorizer or Filter, and it does not multiplex more than
// one request at a time over a single connection — a second
// BEGIN_REQUEST arriving while one is active is answered with
// CANT_MPX_CONN rather than served concurrently.
//
// Example:
//
//	srv := &fcgi.Server{
//		Handler: fcgi.HandlerFunc(func(r *fcgi.Request) {
//			fmt.Fprintf(r.Stdout(), "Content-Type: text/plain\n\nHello, world!")
//		}),
//	}
//	ln, _ := net.Listen("tcp", "127.0.0.1:9000")
//	log.Fatal(srv.Serve(ln))
package fcgi
