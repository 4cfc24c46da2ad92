package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"portscope/internal/config"
	"portscope/internal/core/collector"
	"portscope/internal/domain"
	"portscope/internal/handler"
	"portscope/internal/hub"
	"portscope/internal/metrics"
	"portscope/internal/service"
	"portscope/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect on an interval, serve metrics and the API, reload on config change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides metrics.listen and enables the listener)")
	return cmd
}

func runWatch(ctx context.Context, listen string) error {
	bus := service.NewEventBus()

	var exporter *metrics.Exporter
	orch, cfg, path, err := newOrchestrator(
		collector.WithEventBus(bus),
		collector.WithObserver(func(res *domain.CollectionResult, took time.Duration) {
			if exporter != nil {
				exporter.Observe(res, took)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer orch.Close()
	exporter = metrics.New(orch)

	events := make(chan service.Event, 64)
	bus.Subscribe(events)
	go logEvents(ctx, events)

	if listen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = listen
	}
	var srv *http.Server
	if cfg.Metrics.Enabled {
		streams := hub.New()
		streams.Attach(bus)
		go streams.Run(ctx)

		mux := http.NewServeMux()
		mux.Handle("GET "+cfg.Metrics.Path, exporter.Handler())
		mux.Handle("GET /events", streams)
		handler.New(orch).Register(mux)

		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           handler.Chain(mux, handler.Recover, handler.Logger),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			log.Printf("Server: listening on %s (metrics at %s)", cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Server: %v", err)
			}
		}()
	}

	intervals := make(chan time.Duration, 1)
	reloader := &watcher.ConfigReloader{
		ConfigPath: path,
		EnvPaths:   config.EnvFilePaths(),
		Apply: func(next *config.Config) {
			applyFlags(next)
			if err := next.Validate(); err != nil {
				log.Printf("Config: reload rejected: %v", err)
				return
			}
			reg, err := newRegistry(next)
			if err != nil {
				log.Printf("Config: reload rejected: %v", err)
				return
			}
			orch.Replace(reg, collector.WithForce(next.Platform), collector.WithDebug(next.Debug))
			select {
			case intervals <- next.Collector.Interval.Duration():
			default:
			}
		},
	}
	go func() {
		if err := reloader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Watcher: stopped: %v", err)
		}
	}()

	interval := cfg.Collector.Interval.Duration()
	log.Printf("Collector: polling every %s", interval)
	orch.CollectAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			orch.CollectAll(ctx)
		case d := <-intervals:
			if d > 0 && d != interval {
				interval = d
				ticker.Reset(interval)
				log.Printf("Collector: polling every %s", interval)
			}
		case <-ctx.Done():
			log.Println("Collector: shutting down")
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Printf("Server: shutdown error: %v", err)
				}
			}
			return nil
		}
	}
}

// logEvents writes port changes and degradations to the log
func logEvents(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case ev := <-events:
			switch p := ev.Payload.(type) {
			case service.PortChange:
				log.Printf("Event: %s %s/%d owner=%s source=%s",
					ev.Type, p.Port.Protocol, p.Port.HostPort, p.Port.Owner, p.Port.Source)
			default:
				if ev.Type != service.EventCollectionDone {
					log.Printf("Event: %s %v", ev.Type, ev.Payload)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
