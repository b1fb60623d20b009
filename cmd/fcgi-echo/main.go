// Command fcgi-echo is a minimal Responder demo, analogous to the
// original_source examples/hello.rs and multithreaded_hello.rs programs:
// it answers every request with a fixed "Hello, world!" body, logging each
// request's method and path to stderr first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fcgisrv/fcgi"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr      string
		network   string
		inherit   bool
		scheduled bool
	)

	cmd := &cobra.Command{
		Use:   "fcgi-echo",
		Short: "Serve a fixed Hello, world! response over FastCGI",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			policy := fcgi.Sequential
			if scheduled {
				policy = fcgi.HandlerScheduled
			}

			srv := &fcgi.Server{
				Handler: fcgi.HandlerFunc(echoHandler(logger)),
				Logger:  logger,
				Policy:  policy,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				if inherit {
					errCh <- srv.ServeFD(fcgi.StdinFD)
					return
				}
				errCh <- srv.ListenAndServe(network, addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("fcgi-echo: shutting down")
				shutdownCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "address to listen on")
	cmd.Flags().StringVar(&network, "network", "tcp", "network to listen on (tcp, unix)")
	cmd.Flags().BoolVar(&inherit, "inherit", false, "serve on the descriptor inherited at fd 0 instead of --addr")
	cmd.Flags().BoolVar(&scheduled, "concurrent", false, "serve connections concurrently instead of sequentially")

	return cmd
}

func echoHandler(logger *zap.Logger) func(*fcgi.Request) {
	return func(r *fcgi.Request) {
		method, _ := r.Param("REQUEST_METHOD")
		path, _ := r.Param("REQUEST_URI")
		logger.Info("fcgi-echo: request",
			zap.ByteString("method", method),
			zap.ByteString("path", path),
			zap.String("peer", r.PeerAddr()),
		)
		fmt.Fprint(r.Stdout(), "Content-Type: text/plain\r\n\r\nHello, world!")
	}
}
