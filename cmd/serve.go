package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var skipWarmup bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the map, the indicators and the JSON API",
		Long: `Starts the HTTP server. The dashboard is computed once at startup
(unless --skip-warmup is set), on demand when the cache expires, on
POST /api/v1/refresh, and every refresh.interval_minutes when set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, skipWarmup)
		},
	}
	cmd.Flags().BoolVar(&skipWarmup, "skip-warmup", false, "do not download the datasets before accepting requests")
	return cmd
}

func runServe(cmd *cobra.Command, skipWarmup bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	svc := appInstance.Service()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipWarmup {
		if _, err := svc.Refresh(ctx); err != nil {
			logger.Warn("initial refresh failed, will retry on demand", zap.Error(err))
		}
	}

	go svc.Run(ctx, cfg.RefreshInterval())

	server := api.NewServer(svc, appInstance.Renderer(), cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
