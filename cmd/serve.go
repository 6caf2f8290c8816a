package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vmt-browser/internal/dataset"
	"github.com/sells-group/vmt-browser/internal/monitoring"
	"github.com/sells-group/vmt-browser/internal/server"
	"github.com/sells-group/vmt-browser/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser API",
	Long:  "Loads the boundaries and the default year, then serves selector catalogs, map and table projections, and selection commands over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		metrics := monitoring.NewMetrics()
		env, err := initEnv(ctx, metrics)
		if err != nil {
			return err
		}
		defer env.Close()

		agg, err := newAggregator()
		if err != nil {
			return err
		}

		mgr, err := session.New(session.Config{
			Loader:      env.Loader,
			Aggregator:  agg,
			DefaultYear: dataset.Year(cfg.Data.DefaultYear),
			Preload:     cfg.Data.Preload,
			Metrics:     metrics,
		})
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := server.New(server.Config{
			Addr:        fmt.Sprintf(":%d", port),
			CORSOrigins: cfg.Server.CORSOrigins,
		}, mgr)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return mgr.Run(gctx) })

		// The server comes up while the initial load runs so /readyz can
		// report loading and error states.
		g.Go(func() error {
			if err := mgr.Initialize(gctx); err != nil {
				zap.L().Error("initial load failed", zap.Error(err))
			}
			return nil
		})

		if cfg.Monitoring.Enabled {
			if env.Store == nil {
				zap.L().Warn("monitoring needs the load history in the cache store, enable cache to use it")
			} else {
				checker := monitoring.NewChecker(
					monitoring.NewCollector(env.Store, nil),
					monitoring.NewAlerter(cfg.Monitoring),
					env.Store,
					cfg.Monitoring,
					nil,
				)
				g.Go(func() error {
					checker.Run(gctx)
					return nil
				})
			}
		}

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
