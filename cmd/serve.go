package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/api"
	"github.com/sells-group/hexspot/internal/cache"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

var (
	servePort    int
	serveNoStore bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var st store.Store
		if !serveNoStore {
			var err error
			if st, err = store.New(ctx, cfg.Store); err != nil {
				return eris.Wrap(err, "serve: open store")
			}
			defer st.Close() //nolint:errcheck
		}

		c, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		grid := hexgrid.NewH3()
		srv := api.New(grid, pipeline.New(grid, cfg.Analysis.Options()), cfg.Families, st, c, api.Options{
			RequestsPerSec: cfg.Server.RequestsPerSec,
			Burst:          cfg.Server.Burst,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("store", st != nil))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// initCache connects to Redis when a URL is configured. An unreachable
// Redis disables caching instead of failing startup; later outages trip the
// breaker.
func initCache(ctx context.Context) (cache.Cache, error) {
	if cfg.Cache.RedisURL == "" {
		return cache.Nop{}, nil
	}
	rc, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		return nil, eris.Wrap(err, "serve: redis cache")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		zap.L().Warn("redis unreachable, caching disabled", zap.Error(err))
		_ = rc.Close()
		return cache.Nop{}, nil
	}
	return cache.WithBreaker(rc, cache.BreakerOptions{}), nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "disable run storage endpoints")
	rootCmd.AddCommand(serveCmd)
}
