package store

import "github.com/cp-docblog/nodmee/internal/models"

var transitionMap = map[string][]string{
	models.StatusPending:   {models.StatusCodeSent, models.StatusConfirmed, models.StatusRejected, models.StatusCancelled},
	models.StatusCodeSent:  {models.StatusConfirmed, models.StatusRejected, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusCancelled},
	models.StatusRejected:  {},
	models.StatusCancelled: {},
}

func ValidTransition(fromStatus, toStatus string) bool {
	allowed, ok := transitionMap[fromStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == toStatus {
			return true
		}
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusCodeSent, models.StatusConfirmed, models.StatusRejected, models.StatusCancelled:
		return true
	}
	return false
}
