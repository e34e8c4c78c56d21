package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/OKaluzny/wallet-custody/internal/registry"
)

var serveAccount string

func init() {
	serveCmd.Flags().StringVar(&serveAccount, "account", "", "account to activate (default: the only stored account)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Follow pending transactions until they finish",
	Long:  "Reloads the ledger, resumes a watch for every unfinished transaction, prunes old records on a schedule and exposes prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a, err := newApp(ctx, cfg, reg)
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.activate(ctx, serveAccount); err != nil {
			if !errors.Is(err, registry.ErrNoActiveAccount) {
				return fmt.Errorf("activate account: %w", err)
			}
			a.logger.Info("no account stored, running without signing key")
		}

		a.watcher.Resume(ctx)

		cr := cron.New()
		if _, err := cr.AddFunc(cfg.PruneSchedule, func() { a.prune(ctx) }); err != nil {
			return fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
		}
		a.prune(ctx) // run once on startup
		cr.Start()
		defer func() { <-cr.Stop().Done() }()

		var srv *http.Server
		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics server failed", "error", err)
				}
			}()
			a.logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		}

		<-ctx.Done()
		a.logger.Info("shutting down")
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown", "error", err)
			}
		}
		return nil
	},
}

func (a *app) prune(ctx context.Context) {
	if _, err := a.ledger.Prune(ctx, a.cfg.Retention); err != nil {
		a.logger.Error("prune ledger failed", "error", err)
	}
}
