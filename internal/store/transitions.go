package store

import "antrid/internal/models"

// transitionMap lists, per action, the statuses a ticket may move from.
var transitionMap = map[string][]string{
	"call":    {models.StatusClaimed},
	"serve":   {models.StatusCalled},
	"skip":    {models.StatusCalled},
	"release": {models.StatusClaimed},
	"reset":   {models.StatusClaimed, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range transitionMap[action] {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// InProgressStatuses returns the statuses that still occupy the queue:
// the set every reset abandons and the set that blocks a counter
// delete.
func InProgressStatuses() []string {
	return append([]string(nil), transitionMap["reset"]...)
}
