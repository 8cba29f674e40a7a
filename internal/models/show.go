package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShowStatus is the status of a performance
type ShowStatus string

const (
	// ShowScheduled is the status of a show that has not started yet
	ShowScheduled ShowStatus = "scheduled"
	// ShowActive is the status of a show that is currently running
	ShowActive ShowStatus = "active"
	// ShowCompleted is the status of a finished show. Completed shows cannot be changed any more
	ShowCompleted ShowStatus = "completed"
	// ShowCancelled is the status of a show that will not take place
	ShowCancelled ShowStatus = "cancelled"
)

var showTransitions = map[ShowStatus][]ShowStatus{
	ShowScheduled: {ShowActive, ShowCancelled},
	ShowActive:    {ShowCompleted, ShowCancelled},
}

// ShowSettings configures how fans may request songs at a show
type ShowSettings struct {
	// The number of non-terminal requests a single fan may hold at the same time
	MaxRequestsPerUser uint `json:"maxRequestsPerUser"`
	// If set, every request must carry a tip greater than zero
	RequireTip bool `json:"requireTip"`
	// The tip amount suggested to fans in the UI
	SuggestedTip decimal.Decimal `json:"suggestedTip"`
}

// Show describes a performance event owned by a performer
type Show struct {
	ID          string       `json:"id"`
	PerformerID string       `json:"performer"`
	Name        string       `json:"name"`
	Venue       string       `json:"venue,omitempty"`
	ScheduledAt time.Time    `json:"dateTime"`
	Settings    ShowSettings `json:"settings"`
	Status      ShowStatus   `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Valid checks if the status is one of the known show statuses
func (s ShowStatus) Valid() bool {
	switch s {
	case ShowScheduled, ShowActive, ShowCompleted, ShowCancelled:
		return true
	}
	return false
}

// CanTransitionShow checks if a show may move from one status to the other
func CanTransitionShow(from, to ShowStatus) bool {
	for _, next := range showTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsRequests checks if fans may currently submit requests for the show
func (s *Show) AcceptsRequests() bool {
	return s.Status == ShowScheduled || s.Status == ShowActive
}
