package models

import "fmt"

const (
	PeakMorning   = "MORNING"
	PeakAfternoon = "AFTERNOON"
	PeakEvening   = "EVENING"

	PeakMinutesPerPosition = 15
	BaseMinutesPerPosition = 5
)

// RateWindow applies MinutesPerPosition while the local hour is in
// [StartHour, EndHour). StartHour > EndHour wraps past midnight.
type RateWindow struct {
	StartHour          int `json:"startHour" yaml:"start_hour"`
	EndHour            int `json:"endHour" yaml:"end_hour"`
	MinutesPerPosition int `json:"minutesPerPosition" yaml:"minutes_per_position"`
}

type QueueSettings struct {
	QueueID                   string       `json:"queueId" yaml:"queue_id"`
	PeakPeriod                string       `json:"peakPeriod,omitempty" yaml:"peak_period"`
	Windows                   []RateWindow `json:"windows" yaml:"windows"`
	DefaultMinutesPerPosition int          `json:"defaultMinutesPerPosition" yaml:"default_minutes_per_position"`
	Thresholds                []int        `json:"thresholds,omitempty" yaml:"thresholds"`
}

var peakHours = map[string][2]int{
	PeakMorning:   {8, 12},
	PeakAfternoon: {12, 17},
	PeakEvening:   {17, 22},
}

// PeakPreset expands a named peak period into a single peak window with
// the base rate outside it. Unknown names fall back to EVENING.
func PeakPreset(queueID, period string) QueueSettings {
	hours, ok := peakHours[period]
	if !ok {
		period = PeakEvening
		hours = peakHours[PeakEvening]
	}
	return QueueSettings{
		QueueID:    queueID,
		PeakPeriod: period,
		Windows: []RateWindow{{
			StartHour:          hours[0],
			EndHour:            hours[1],
			MinutesPerPosition: PeakMinutesPerPosition,
		}},
		DefaultMinutesPerPosition: BaseMinutesPerPosition,
	}
}

func (w RateWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return w.StartHour <= hour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// Validate rejects settings the estimator cannot use: non-positive rates,
// hours outside 0-24, empty or overlapping windows, negative thresholds.
func (s QueueSettings) Validate() error {
	if s.DefaultMinutesPerPosition <= 0 {
		return fmt.Errorf("default rate must be positive, got %d", s.DefaultMinutesPerPosition)
	}
	for i, w := range s.Windows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("window %d: hours out of range", i)
		}
		if w.StartHour == w.EndHour {
			return fmt.Errorf("window %d: empty window", i)
		}
		if w.MinutesPerPosition <= 0 {
			return fmt.Errorf("window %d: rate must be positive", i)
		}
		for j := 0; j < i; j++ {
			if windowsOverlap(s.Windows[j], w) {
				return fmt.Errorf("window %d overlaps window %d", i, j)
			}
		}
	}
	for _, t := range s.Thresholds {
		if t <= 0 {
			return fmt.Errorf("threshold must be positive, got %d", t)
		}
	}
	return nil
}

func windowsOverlap(a, b RateWindow) bool {
	for h := 0; h < 24; h++ {
		if a.Contains(h) && b.Contains(h) {
			return true
		}
	}
	return false
}
