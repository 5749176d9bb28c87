package store

import "queueescape/queue-service/internal/models"

var transitionMap = map[string][]models.Status{
	"advance":  {models.StatusWaiting},
	"complete": {models.StatusBeingServed},
}

var transitionTarget = map[string]models.Status{
	"advance":  models.StatusBeingServed,
	"complete": models.StatusCompleted,
}

func ValidTransition(action string, from models.Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// ValidStatusChange reports whether from -> to is one of the lifecycle
// steps WAITING -> BEING_SERVED -> COMPLETED.
func ValidStatusChange(from, to models.Status) bool {
	for action, target := range transitionTarget {
		if target == to && ValidTransition(action, from) {
			return true
		}
	}
	return false
}
