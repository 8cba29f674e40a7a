// Package showqueue orders the requests of a show for display. It keeps no state of its own and never changes the
// requests it is handed.
package showqueue

import (
	"fmt"
	"sort"

	"github.com/derWhity/tipqueue/internal/models"
)

// Criteria names an alternative display order
type Criteria string

const (
	// ByTime puts the most recently submitted requests first
	ByTime Criteria = "time"
	// ByTip puts the highest tips first
	ByTip Criteria = "tip"
)

// ErrUnknownCriteria is returned by Sort for an unsupported criteria
var ErrUnknownCriteria = fmt.Errorf("unknown sort criteria")

func clone(requests []models.Request) []models.Request {
	ret := make([]models.Request, len(requests))
	copy(ret, requests)
	return ret
}

// Order returns the requests in queue order: scheduled requests by their scheduled time first, followed by the
// unscheduled ones. Ties are broken by submission time.
func Order(requests []models.Request) []models.Request {
	ret := clone(requests)
	sort.SliceStable(ret, func(i, j int) bool {
		a, b := ret[i].ScheduledTime, ret[j].ScheduledTime
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return ret[i].RequestedAt.Before(ret[j].RequestedAt)
	})
	return ret
}

// Sort re-orders a snapshot of requests by the given criteria
func Sort(requests []models.Request, criteria Criteria) ([]models.Request, error) {
	ret := clone(requests)
	switch criteria {
	case ByTime:
		sort.SliceStable(ret, func(i, j int) bool {
			return ret[i].RequestedAt.After(ret[j].RequestedAt)
		})
	case ByTip:
		sort.SliceStable(ret, func(i, j int) bool {
			return ret[i].Payment.Amount.GreaterThan(ret[j].Payment.Amount)
		})
	default:
		return nil, ErrUnknownCriteria
	}
	return ret, nil
}

// Filter returns the requests having one of the given statuses, keeping their order
func Filter(requests []models.Request, statuses []models.RequestStatus) []models.Request {
	ret := make([]models.Request, 0, len(requests))
	for _, r := range requests {
		for _, s := range statuses {
			if r.Status == s {
				ret = append(ret, r)
				break
			}
		}
	}
	return ret
}
