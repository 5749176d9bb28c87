package queue

import (
	"slices"

	"queueescape/queue-service/internal/models"
)

// Rank counts the WAITING tickets of the subject's queue that joined
// strictly before it. A ticket being served has rank 0.
func Rank(snapshot []models.Ticket, subject models.Ticket) int {
	if subject.Status == models.StatusBeingServed {
		return 0
	}
	rank := 0
	for _, t := range snapshot {
		if t.QueueID != subject.QueueID || t.Status != models.StatusWaiting {
			continue
		}
		if t.JoinTime < subject.JoinTime {
			rank++
		}
	}
	return rank
}

// Ranking indexes one snapshot by queue and join time so that many ranks
// can be answered from it with a binary search each.
type Ranking struct {
	joinTimes map[string][]int64
}

func NewRanking(snapshot []models.Ticket) Ranking {
	index := make(map[string][]int64)
	for _, t := range snapshot {
		if t.Status != models.StatusWaiting {
			continue
		}
		index[t.QueueID] = append(index[t.QueueID], t.JoinTime)
	}
	for _, times := range index {
		slices.Sort(times)
	}
	return Ranking{joinTimes: index}
}

func (r Ranking) Rank(subject models.Ticket) int {
	if subject.Status == models.StatusBeingServed {
		return 0
	}
	pos, _ := slices.BinarySearch(r.joinTimes[subject.QueueID], subject.JoinTime)
	return pos
}

// Len is the number of WAITING tickets in the queue.
func (r Ranking) Len(queueID string) int {
	return len(r.joinTimes[queueID])
}
