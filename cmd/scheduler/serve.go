package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httptransport "github.com/example/facility-scheduler/internal/http"
)

func (c *cli) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := c.open(ctx, cmd.OutOrStdout(), true)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(ctx); cerr != nil {
					rt.logger.Error("failed to release resources", "error", cerr)
				}
			}()
			return serve(ctx, rt)
		},
	}
}

// newHandler assembles the router and middleware chain.
func newHandler(rt *runtime) http.Handler {
	logger := rt.logger
	return httptransport.NewRouter(httptransport.RouterConfig{
		Calendar: httptransport.NewCalendarHandler(rt.service, logger),
		Tasks:    httptransport.NewTaskHandler(rt.service, logger),
		Health:   httptransport.NewHealthHandler(rt.store, logger),
		Metrics:  rt.metrics.Handler(),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.CORS(rt.cfg.CORSOrigins),
			httptransport.RequestLogger(logger, rt.metrics),
			httptransport.ActorFromHeader(),
			httptransport.RateLimit(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.metrics, logger),
		},
	})
}

func serve(ctx context.Context, rt *runtime) error {
	server := &http.Server{
		Addr:              rt.cfg.Addr(),
		Handler:           newHandler(rt),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	rt.logger.Info("scheduler API listening", "addr", server.Addr, "storage", rt.cfg.Storage)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.logger.Error("server encountered error", "error", err)
		return err
	}
	<-stopped
	rt.logger.Info("scheduler API stopped")
	return nil
}
