package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/internal/nexus"
	"github.com/nexus-project/nexus/internal/telemetry"
	"github.com/nexus-project/nexus/pkg/config"
	"github.com/nexus-project/nexus/pkg/metrics"
	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
	"github.com/nexus-project/nexus/pkg/persist/badger"
	"github.com/nexus-project/nexus/pkg/persist/memory"

	_ "github.com/nexus-project/nexus/pkg/blockdevice/memory"
	_ "github.com/nexus-project/nexus/pkg/blockdevice/s3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nexusd daemon in the foreground",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nexusd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	reg := metrics.Init()

	store, closeStore, err := openStore(cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("persistence store close error", logger.Err(err))
		}
	}()

	manager := nexus.NewManager(store)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: newRouter(reg, manager),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("nexusd listening", logger.Op(cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return err
	case <-sigCh:
		logger.Info("shutting down nexusd")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, nx := range manager.List() {
		if err := nx.Destroy(shutdownCtx); err != nil {
			logger.Error("nexus destroy on shutdown failed", logger.NexusUUID(nx.UUID().String()), logger.Err(err))
		}
	}
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the persist.Store named by cfg.Backend and a close
// function to release it on shutdown.
func openStore(cfg config.PersistenceConfig) (persist.Store, func() error, error) {
	switch cfg.Backend {
	case "badger":
		store, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, nexuserr.Wrap("commands.openStore", nexuserr.PersistentStore, cfg.BadgerPath, err)
		}
		return store, store.Close, nil
	default:
		store := memory.New()
		return store, store.Close, nil
	}
}

// newRouter builds the admin HTTP surface: liveness, Prometheus metrics,
// and a read-only listing of live Nexus instances.
func newRouter(reg *prometheus.Registry, manager *nexus.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/nexus", func(w http.ResponseWriter, req *http.Request) {
		type summary struct {
			UUID   string `json:"uuid"`
			Name   string `json:"name"`
			Status string `json:"status"`
		}
		out := make([]summary, 0)
		for _, nx := range manager.List() {
			out = append(out, summary{UUID: nx.UUID().String(), Name: nx.Name(), Status: nx.Status().String()})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return r
}
