package queue

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"queueescape/queue-service/internal/models"
)

var DefaultThresholds = []int{50, 40, 30, 20, 10, 5, 3, 1}

const imminentRank = 3

// NextMilestone picks the threshold to notify for on this tick, if any.
// A threshold is eligible when the ticket is at or inside it, the last
// notification was sent from outside it, and it has not been sent before.
// Only the tightest eligible threshold is returned, so a ticket that
// jumps several thresholds at once is told about the closest one: moving
// from rank 12 to rank 2 fires 3, not 10.
func NextMilestone(currentRank, lastNotifiedRank int, sent []int, thresholds []int) (int, bool) {
	best, found := 0, false
	for _, t := range thresholds {
		if currentRank > t || lastNotifiedRank <= t || slices.Contains(sent, t) {
			continue
		}
		if !found || t < best {
			best, found = t, true
		}
	}
	return best, found
}

func BandFor(rank int) models.Band {
	if rank <= imminentRank {
		return models.BandImminent
	}
	return models.BandGeneral
}

// ParseThresholds reads a comma separated list such as "50,40,30".
func ParseThresholds(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: threshold %q", ErrMalformedInput, part)
		}
		if value <= 0 {
			return nil, fmt.Errorf("%w: threshold %d must be positive", ErrMalformedInput, value)
		}
		out = append(out, value)
	}
	return NormalizeThresholds(out), nil
}

// NormalizeThresholds drops non-positive values and duplicates and sorts
// the rest in descending order.
func NormalizeThresholds(values []int) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		if v > 0 && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}
