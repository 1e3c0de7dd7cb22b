package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cc4me/fabric/internal/config"
	"github.com/cc4me/fabric/internal/identity"
	"github.com/cc4me/fabric/internal/logging"
	"github.com/cc4me/fabric/internal/metrics"
	"github.com/cc4me/fabric/internal/relayserver"
	"github.com/cc4me/fabric/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the relay HTTP and metrics servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRelayConfig(configPath, envPath)
	if err != nil {
		return err
	}
	adminSecret, err := cfg.AdminSecret()
	if err != nil {
		return err
	}

	logger := logging.New(cmd.OutOrStdout(), logging.ParseLevel(cfg.Logging.Level))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := relayserver.New(store, identity.NopNotifier{}, adminSecret)
	srv.Logger = logger

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay http server listening", logging.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", logging.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", logging.Err(err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown error", logging.Err(err))
			}
		}
		return nil
	})

	return g.Wait()
}
