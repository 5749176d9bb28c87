package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queueescape/queue-service/internal/config"
	"queueescape/queue-service/internal/platform"
	"queueescape/queue-service/internal/telemetry"
	"queueescape/queue-service/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// notification-service runs only the sweep. Deploy it next to a
// queue-service started with SWEEP_INTERVAL_SECONDS=0.
func main() {
	cfg := config.Load()
	if cfg.SweepInterval <= 0 {
		log.Fatalf("SWEEP_INTERVAL_SECONDS must be positive")
	}

	shutdownTelemetry := telemetry.Setup("notification-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, closeStore, err := platform.OpenStore(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	dispatcher, closeDispatcher := platform.OpenDispatcher(cfg)
	defer closeDispatcher()

	sweeper := worker.New(st, dispatcher, cfg.Engine())

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sweeper.Stats())
	})
	r.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("notification-service sweeping every %s store=%s dispatch=%s", cfg.SweepInterval, cfg.StoreBackend, cfg.DispatchProvider)
	go worker.Start(ctx, cfg.SweepInterval, sweeper)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
