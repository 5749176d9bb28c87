package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"queueescape/queue-service/internal/config"
	"queueescape/queue-service/internal/httpapi"
	"queueescape/queue-service/internal/hub"
	"queueescape/queue-service/internal/platform"
	"queueescape/queue-service/internal/queue"
	"queueescape/queue-service/internal/telemetry"
	"queueescape/queue-service/internal/worker"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, closeStore, err := platform.OpenStore(startCtx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()
	platform.SeedSettings(startCtx, st, cfg.SeedSettings)
	startCancel()

	dispatcher, closeDispatcher := platform.OpenDispatcher(cfg)
	defer closeDispatcher()

	var tokens *queue.TokenIssuer
	if cfg.TicketTokenSecret != "" {
		tokens = queue.NewTokenIssuer(cfg.TicketTokenSecret, cfg.TicketTokenTTL)
	} else {
		log.Printf("TICKET_TOKEN_SECRET not set, ticket tokens disabled")
	}

	engineCfg := cfg.Engine()
	events := hub.New()
	engine := queue.NewEngine(st, dispatcher, engineCfg, queue.Options{Tokens: tokens, Events: events})
	sweeper := worker.New(st, dispatcher, engineCfg)
	handler := httpapi.NewHandler(engine, sweeper).WithLive(httpapi.NewLiveHandler(events))
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		QueuePerMinute: cfg.QueueRateLimitPerMinute,
		QueueBurst:     cfg.QueueRateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(limiter.Middleware(handler.Routes()), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s store=%s dispatch=%s", server.Addr, cfg.StoreBackend, cfg.DispatchProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.SweepInterval > 0 {
		log.Printf("notification sweep every %s", cfg.SweepInterval)
		go worker.Start(ctx, cfg.SweepInterval, sweeper)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
