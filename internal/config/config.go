package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/queue"

	"go.yaml.in/yaml/v2"
)

type Config struct {
	Port                    string
	StoreBackend            string
	DatabaseURL             string
	RedisURL                string
	NATSURL                 string
	NotifySubjectPrefix     string
	DispatchProvider        string
	DispatchWebhookURL      string
	DispatchWebhookToken    string
	Thresholds              []int
	TZOffset                time.Duration
	DefaultQueueID          string
	SweepInterval           time.Duration
	TicketTokenSecret       string
	TicketTokenTTL          time.Duration
	RateLimitPerMinute      int
	RateLimitBurst          int
	QueueRateLimitPerMinute int
	QueueRateLimitBurst     int
	DefaultSettings         *models.QueueSettings
	SeedSettings            []models.QueueSettings
}

// File is the optional YAML file named by QUEUE_CONFIG_FILE. Environment
// variables win over values set here.
type File struct {
	Thresholds      []int                  `yaml:"thresholds"`
	DefaultSettings *models.QueueSettings  `yaml:"default_settings"`
	Queues          []models.QueueSettings `yaml:"queues"`
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if backend == "" {
		backend = "memory"
	}
	defaultQueue := os.Getenv("DEFAULT_QUEUE_ID")
	if defaultQueue == "" {
		defaultQueue = queue.DefaultQueueID
	}

	cfg := Config{
		Port:                    port,
		StoreBackend:            backend,
		DatabaseURL:             os.Getenv("DB_DSN"),
		RedisURL:                os.Getenv("REDIS_URL"),
		NATSURL:                 os.Getenv("NATS_URL"),
		NotifySubjectPrefix:     os.Getenv("NOTIFY_SUBJECT_PREFIX"),
		DispatchProvider:        os.Getenv("DISPATCH_PROVIDER"),
		DispatchWebhookURL:      os.Getenv("DISPATCH_WEBHOOK_URL"),
		DispatchWebhookToken:    os.Getenv("DISPATCH_WEBHOOK_TOKEN"),
		TZOffset:                time.Duration(readInt("TZ_OFFSET_HOURS", -4)) * time.Hour,
		DefaultQueueID:          defaultQueue,
		SweepInterval:           readDurationSeconds("SWEEP_INTERVAL_SECONDS", 60),
		TicketTokenSecret:       os.Getenv("TICKET_TOKEN_SECRET"),
		TicketTokenTTL:          readDurationSeconds("TICKET_TOKEN_TTL_SECONDS", 86400),
		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		QueueRateLimitPerMinute: readInt("QUEUE_RATE_LIMIT_PER_MIN", 600),
		QueueRateLimitBurst:     readInt("QUEUE_RATE_LIMIT_BURST", 120),
	}

	if path := os.Getenv("QUEUE_CONFIG_FILE"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			log.Printf("config file ignored path=%s err=%v", path, err)
		} else {
			cfg.Thresholds = file.Thresholds
			cfg.DefaultSettings = file.DefaultSettings
			cfg.SeedSettings = file.Queues
		}
	}

	if raw := os.Getenv("NOTIFICATION_THRESHOLDS"); raw != "" {
		thresholds, err := queue.ParseThresholds(raw)
		if err != nil {
			log.Printf("NOTIFICATION_THRESHOLDS ignored: %v", err)
		} else {
			cfg.Thresholds = thresholds
		}
	}
	return cfg
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var file File
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if file.DefaultSettings != nil {
		if err := file.DefaultSettings.Validate(); err != nil {
			return File{}, fmt.Errorf("default_settings: %w", err)
		}
	}
	for i, q := range file.Queues {
		if q.QueueID == "" {
			return File{}, fmt.Errorf("queues[%d]: queue_id is required", i)
		}
	}
	return file, nil
}

// Engine builds the immutable engine configuration.
func (c Config) Engine() queue.Config {
	estimator := queue.Estimator{Offset: c.TZOffset, Defaults: queue.DefaultSettings()}
	if c.DefaultSettings != nil {
		estimator.Defaults = *c.DefaultSettings
	}
	return queue.Config{
		DefaultQueueID: c.DefaultQueueID,
		Thresholds:     c.Thresholds,
		Estimator:      estimator,
	}.WithDefaults()
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
