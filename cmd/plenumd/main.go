package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"plenum/config"
	"plenum/core"
	"plenum/observability"
	"plenum/observability/logging"
	otelobs "plenum/observability/otel"
	"plenum/registry"
	"plenum/rpc"
)

func main() {
	var (
		cfgPath  string
		seedPath string
	)
	flag.StringVar(&cfgPath, "config", "plenum.toml", "path to plenum config")
	flag.StringVar(&seedPath, "seed", "", "optional YAML seed document to import before serving")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	logger := logging.Setup("plenumd", cfg.Environment, logging.Options{File: cfg.LogFile})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otelobs.Init(rootCtx, otelobs.Config{
			ServiceName: "plenumd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	store, err := registry.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	if seedPath != "" {
		if err := store.SeedFile(seedPath); err != nil {
			log.Fatalf("seed registry: %v", err)
		}
		logger.Info("registry seeded", "path", seedPath)
	}

	chambers := cfg.Chambers
	if len(chambers) == 0 {
		records, err := store.Chambers()
		if err != nil {
			log.Fatalf("list chambers: %v", err)
		}
		for _, chamber := range records {
			chambers = append(chambers, chamber.ID)
		}
	}
	if len(chambers) == 0 {
		log.Fatalf("no chambers registered; provide -seed or configure Chambers")
	}

	metrics := observability.Hub()
	sweepInterval := time.Duration(cfg.SweepIntervalSeconds) * time.Second

	hubs := make(map[string]*core.Hub, len(chambers))
	for _, chamberID := range chambers {
		hub := core.NewHub(chamberID, store)
		hub.SetLogger(logger.With("chamber", chamberID))
		hub.SetMetrics(metrics)
		hub.SetQueueSize(cfg.SubscriberQueueSize)
		hubs[chamberID] = hub
		go hub.RunExpirySweep(rootCtx, sweepInterval)
	}

	server := rpc.New(rpc.Config{
		Hubs:       hubs,
		Store:      store,
		AuthSecret: cfg.AuthSecret,
		Logger:     logger,
		Telemetry:  cfg.Telemetry.Enabled,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("plenumd listening", "address", cfg.ListenAddress, "chambers", len(hubs))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing shutdown", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
