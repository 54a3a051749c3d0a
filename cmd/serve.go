package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scan API server",
		Long: `Starts the Shelfscan HTTP API.

Uploads are accepted at POST /scan; detection runs in the background and
GET /scan/{id} reports progress. A background sweeper fails scans stuck in
processing and removes expired sessions.`,
		Example: `  # Start server on default port 8888
  shelfscan serve

  # Start server on custom port
  shelfscan serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           a.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			sweepCtx, stopSweep := context.WithCancel(context.Background())
			defer stopSweep()
			go runSweeper(sweepCtx, a, cfg.Pipeline.SweepInterval)

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Shelfscan API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				stopSweep()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				if err := a.Shutdown(shutdownCtx); err != nil {
					slog.Warn("In-flight scans cancelled", "err", err)
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default from SHELFSCAN_SERVER_PORT or 8888)")

	return cmd
}

func runSweeper(ctx context.Context, a *app.App, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				slog.Error("Session sweep failed", "err", err)
			}
		}
	}
}
