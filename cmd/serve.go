package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP control
// API until interrupted.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if port <= 0 {
				port = appInstance.Config().Server.Port
			}
			return serve(ctx, appInstance, net.JoinHostPort("", strconv.Itoa(port)))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// serve blocks until ctx ends or the listener fails, then shuts the server
// down gracefully.
func serve(ctx context.Context, appInstance App, addr string) error {
	logger := appInstance.Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           appInstance.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       conc.WaitGroup
		serveErr error
	)
	wg.Go(func() {
		logger.Info("api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("listen: %w", err)
			cancel()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down api")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
	return serveErr
}
