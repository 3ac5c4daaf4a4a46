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

	"github.com/danmuck/tracectl/internal/config"
	"github.com/danmuck/tracectl/internal/link"
	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/target"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulated target and expose its trace link over TCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Link.Address = addr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "link listen address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "prometheus listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	app := newDemoApp(target.NewFlatMemory(cfg.MemoryBase, cfg.MemorySize))
	tg, err := target.New(cfg.Target, make([]byte, cfg.TXBytes), make([]byte, cfg.RXBytes), app.hooks())
	if err != nil {
		return fmt.Errorf("start target: %w", err)
	}
	app.t = tg

	if err := cfg.ApplyFilters(tg.Filter()); err != nil {
		return err
	}
	entries, err := cfg.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := tg.Dictionary().Register(e); err != nil {
			return err
		}
	}
	if err := app.register(); err != nil {
		return err
	}
	if err := tg.SetCurrent(protocol.ObjAP, cfg.MemoryBase); err != nil {
		return err
	}
	tg.AnnounceInfo(true)

	if cfg.MetricsAddr != "" {
		stopMetrics, err := serveMetrics(cfg.MetricsAddr, tg)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	go app.run(ctx, cfg.Heartbeat)
	return link.NewServer(tg, cfg.Link).ListenAndServe(ctx)
}

func serveMetrics(addr string, tg *target.Target) (func(), error) {
	if err := prometheus.Register(observability.NewEngineCollector(tg)); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Msgf("metrics listening addr=%q", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("metrics server err=%v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
