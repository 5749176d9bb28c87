// Package platform opens the store and dispatcher selected by configuration.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log"

	"queueescape/queue-service/internal/config"
	"queueescape/queue-service/internal/dispatch"
	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"
	"queueescape/queue-service/internal/store/memory"
	"queueescape/queue-service/internal/store/postgres"
	redisstore "queueescape/queue-service/internal/store/redis"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenStore connects the configured backend. The returned func releases
// its connections.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Printf("store backend=memory, data is lost on restart")
		return memory.NewStore(), func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DB_DSN is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		return postgres.NewStore(pool), pool.Close, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("REDIS_URL is required for the redis backend")
		}
		client, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect: %w", err)
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// OpenDispatcher builds the configured provider. A NATS connection failure
// falls back to logging so the queue keeps working without push delivery.
func OpenDispatcher(cfg config.Config) (dispatch.Dispatcher, func()) {
	opts := dispatch.Options{
		WebhookURL:    cfg.DispatchWebhookURL,
		WebhookToken:  cfg.DispatchWebhookToken,
		SubjectPrefix: cfg.NotifySubjectPrefix,
	}
	closeFn := func() {}
	if cfg.DispatchProvider == "nats" {
		conn, err := dispatch.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Printf("nats connect failed url=%s err=%v", cfg.NATSURL, err)
		} else {
			opts.Publisher = conn
			closeFn = func() { _ = conn.Drain() }
		}
	}
	return dispatch.New(cfg.DispatchProvider, opts), closeFn
}

// SeedSettings stores settings from the config file for queues that have
// none yet. Settings changed by staff are left alone.
func SeedSettings(ctx context.Context, st store.SettingsStore, seeds []models.QueueSettings) {
	for _, settings := range seeds {
		if settings.DefaultMinutesPerPosition == 0 && len(settings.Windows) == 0 {
			preset := models.PeakPreset(settings.QueueID, settings.PeakPeriod)
			preset.Thresholds = settings.Thresholds
			settings = preset
		}
		if err := settings.Validate(); err != nil {
			log.Printf("seed settings skipped queue=%s err=%v", settings.QueueID, err)
			continue
		}
		_, err := st.GetSettings(ctx, settings.QueueID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrSettingsNotFound) {
			log.Printf("seed settings lookup failed queue=%s err=%v", settings.QueueID, err)
			continue
		}
		if err := st.PutSettings(ctx, settings); err != nil {
			log.Printf("seed settings failed queue=%s err=%v", settings.QueueID, err)
			continue
		}
		log.Printf("seeded settings queue=%s", settings.QueueID)
	}
}
