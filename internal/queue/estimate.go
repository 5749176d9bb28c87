package queue

import (
	"fmt"
	"log"
	"time"

	"queueescape/queue-service/internal/models"
)

// Estimator turns a rank into minutes. Offset shifts UTC to the venue's
// local clock; it is fixed and does not follow daylight saving.
type Estimator struct {
	Offset   time.Duration
	Defaults models.QueueSettings
}

func DefaultSettings() models.QueueSettings {
	return models.PeakPreset("", models.PeakEvening)
}

func (e Estimator) LocalHour(now time.Time) int {
	return now.UTC().Add(e.Offset).Hour()
}

// MinutesPerPosition applies the first window containing the local hour,
// or the default rate. Missing or invalid settings fall back to the
// estimator defaults.
func (e Estimator) MinutesPerPosition(settings *models.QueueSettings, now time.Time) int {
	effective := e.defaults()
	if settings != nil {
		if err := settings.Validate(); err != nil {
			log.Printf("estimate settings invalid queue=%s err=%v", settings.QueueID, err)
		} else {
			effective = *settings
		}
	}

	hour := e.LocalHour(now)
	for _, w := range effective.Windows {
		if w.Contains(hour) {
			return w.MinutesPerPosition
		}
	}
	return effective.DefaultMinutesPerPosition
}

func (e Estimator) defaults() models.QueueSettings {
	if e.Defaults.Validate() != nil {
		return DefaultSettings()
	}
	return e.Defaults
}

func EstimatedWait(rank, minutesPerPosition int) int {
	if rank <= 0 {
		return 0
	}
	return rank * minutesPerPosition
}

func CalculationMode(minutesPerPosition int) string {
	return fmt.Sprintf("%d mins/person", minutesPerPosition)
}
