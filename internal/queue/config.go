package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"
)

const (
	DefaultQueueID = "main_queue"

	defaultAdvanceRetries = 5
	defaultJoinRetries    = 5
)

// Config is fixed when the engine is built and shared with the sweeper.
type Config struct {
	DefaultQueueID string
	Thresholds     []int
	Estimator      Estimator
	AdvanceRetries int
	JoinRetries    int
	Now            func() time.Time
}

// WithDefaults fills unset fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.DefaultQueueID == "" {
		c.DefaultQueueID = DefaultQueueID
	}
	c.Thresholds = NormalizeThresholds(c.Thresholds)
	if len(c.Thresholds) == 0 {
		c.Thresholds = DefaultThresholds
	}
	if c.AdvanceRetries <= 0 {
		c.AdvanceRetries = defaultAdvanceRetries
	}
	if c.JoinRetries <= 0 {
		c.JoinRetries = defaultJoinRetries
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ThresholdsFor prefers the queue's own thresholds over the process
// defaults.
func (c Config) ThresholdsFor(settings *models.QueueSettings) []int {
	if settings != nil {
		if own := NormalizeThresholds(settings.Thresholds); len(own) > 0 {
			return own
		}
	}
	if len(c.Thresholds) == 0 {
		return DefaultThresholds
	}
	return c.Thresholds
}

// LoadSettings returns nil when the queue has no settings or they cannot
// be read; callers then use defaults.
func LoadSettings(ctx context.Context, st store.SettingsStore, queueID string) *models.QueueSettings {
	settings, err := st.GetSettings(ctx, queueID)
	if err != nil {
		if !errors.Is(err, store.ErrSettingsNotFound) {
			log.Printf("settings lookup failed queue=%s err=%v", queueID, err)
		}
		return nil
	}
	return &settings
}
