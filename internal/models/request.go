package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle status of a song request
type RequestStatus string

const (
	// StatusPending is the status of a freshly submitted request
	StatusPending RequestStatus = "pending"
	// StatusApproved is set when the performer accepted the request
	StatusApproved RequestStatus = "approved"
	// StatusInProgress is set when the song is coming up next or being played
	StatusInProgress RequestStatus = "in-progress"
	// StatusCompleted is set when the song has been played
	StatusCompleted RequestStatus = "completed"
	// StatusRejected is set when the performer declined the request
	StatusRejected RequestStatus = "rejected"
	// StatusCancelled is set when the request was withdrawn or refunded
	StatusCancelled RequestStatus = "cancelled"
)

// PaymentStatus is the status of the tip attached to a request
type PaymentStatus string

const (
	// PaymentPending means no payment has been confirmed yet
	PaymentPending PaymentStatus = "pending"
	// PaymentCompleted means the tip has been paid
	PaymentCompleted PaymentStatus = "completed"
	// PaymentRefunded means the tip has been given back; only possible on cancelled requests
	PaymentRefunded PaymentStatus = "refunded"
)

// NotificationType classifies a notification attached to a request
type NotificationType string

const (
	// NotificationStatusUpdate is used for all generic status changes
	NotificationStatusUpdate NotificationType = "status_update"
	// NotificationComingUp tells the requester that the song is about to be played
	NotificationComingUp NotificationType = "coming_up"
	// NotificationCompleted tells the requester that the song has been played
	NotificationCompleted NotificationType = "completed"
)

// DeliveryStatus is the delivery state of a notification
type DeliveryStatus string

const (
	// DeliveryPending is the state of a recorded, not yet delivered notification
	DeliveryPending DeliveryStatus = "pending"
	// DeliverySent is set once the dispatcher handed the notification to its transport
	DeliverySent DeliveryStatus = "sent"
	// DeliveryFailed is set once the dispatcher gave up delivering the notification
	DeliveryFailed DeliveryStatus = "failed"
)

// ActiveStatuses are the statuses that occupy an admission slot and show up in the queue by default
var ActiveStatuses = []RequestStatus{StatusPending, StatusApproved, StatusInProgress}

// The allowed status edges. Terminal statuses have no entry.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// Valid checks if the status is one of the known request statuses
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInProgress, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal checks if no further transitions are possible from this status
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// CanTransition checks if a request may move from one status to the other
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NotificationTypeFor returns the notification type recorded when a request enters the given status
func NotificationTypeFor(to RequestStatus) NotificationType {
	switch to {
	case StatusInProgress:
		return NotificationComingUp
	case StatusCompleted:
		return NotificationCompleted
	}
	return NotificationStatusUpdate
}

// Payment holds the tip data of a request. Transaction IDs are opaque strings issued by the payment provider.
type Payment struct {
	Amount              decimal.Decimal `json:"amount"`
	Status              PaymentStatus   `json:"status"`
	VenmoTransactionID  string          `json:"venmoTransactionId,omitempty"`
	RefundTransactionID string          `json:"refundTransactionId,omitempty"`
}

// Notification is a notification intent recorded for a request. Delivery happens asynchronously.
type Notification struct {
	ID      uint             `json:"id"`
	Type    NotificationType `json:"type"`
	Message string           `json:"message"`
	SentAt  time.Time        `json:"sentAt"`
	Status  DeliveryStatus   `json:"status"`
}

// PendingNotification is a notification waiting for delivery together with its parent request
type PendingNotification struct {
	Notification
	RequestID string
	Attempts  uint
}

// Request is a fan's request to hear a cataloged song at a show
type Request struct {
	ID            string         `json:"id"`
	ShowID        string         `json:"show"`
	RequesterID   string         `json:"requester"`
	SongID        string         `json:"songId"`
	Status        RequestStatus  `json:"status"`
	RequestedAt   time.Time      `json:"requestedAt"`
	ScheduledTime *time.Time     `json:"scheduledTime"`
	CompletedAt   *time.Time     `json:"completedAt"`
	Payment       Payment        `json:"payment"`
	Notifications []Notification `json:"notifications"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Refundable checks if a refund may be processed for the request
func (r *Request) Refundable() bool {
	return (r.Status == StatusPending || r.Status == StatusApproved) && r.Payment.Status != PaymentRefunded
}
