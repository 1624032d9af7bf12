package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cameron64/HoneyDo-sub002/internal/logging"
	"github.com/Cameron64/HoneyDo-sub002/internal/websocket"
)

// NewRelayCommand creates the relay command, which serves the event stream
// that watch and the other sync clients subscribe to.
func NewRelayCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the event relay until interrupted",
		Long: `Serve the list event stream. The list service publishes with
POST /events/{listId} for item events and POST /events for list events.
Clients subscribe on GET /ws. When LISTSYNC_TOKEN is set every request must
carry it as a Bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := opts.Config
			level := cfg.LogLevel
			if opts.Verbose {
				level = "debug"
			}
			logger := logging.Setup(level, cfg.LogFormat)

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return WrapExitError(ExitFailure, "listen", err)
			}
			return serveRelay(ctx, ln, websocket.NewRelay(websocket.NewHub(logger), websocket.RelayOptions{
				Token:  cfg.Token,
				Logger: logger,
			}))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", opts.Config.RelayAddr, "listen address")
	return cmd
}

// serveRelay serves h on ln until ctx is done, then shuts down.
func serveRelay(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return WrapExitError(ExitFailure, "relay", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "relay shutdown", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "relay", err)
	}
	return nil
}
