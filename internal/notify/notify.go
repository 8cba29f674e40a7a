// Package notify delivers the notifications recorded for song requests.
//
// Every status change stores its notification together with the change itself. The Dispatcher then hands it to a
// Sender outside of any transaction. Notifications that could not be handed over right away stay pending in storage
// and are picked up again by a periodic sweep, so delivery is at-least-once.
package notify

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/metrics"
	"github.com/derWhity/tipqueue/internal/models"
)

// Message is a notification on its way to the requester
type Message struct {
	NotificationID uint                    `json:"id"`
	RequestID      string                  `json:"requestId"`
	Type           models.NotificationType `json:"type"`
	Message        string                  `json:"message"`
	SentAt         time.Time               `json:"sentAt"`
	// Number of earlier delivery attempts
	Attempts uint `json:"attempts"`
}

// Sender hands a message over to the delivery transport
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Store is the storage the dispatcher reads undelivered notifications from and records delivery results in
type Store interface {
	PendingNotifications(ctx context.Context, olderThan time.Time, limit uint) ([]models.PendingNotification, error)
	MarkNotification(ctx context.Context, id uint, status models.DeliveryStatus) error
}

// Dispatcher delivers notifications asynchronously
type Dispatcher struct {
	store       Store
	sender      Sender
	queue       chan Message
	interval    time.Duration
	batchSize   uint
	maxAttempts uint
	logger      *logrus.Entry
}

// NewDispatcher creates a new dispatcher configured by the given notification config
func NewDispatcher(store Store, sender Sender, conf models.NotificationConfig, logger *logrus.Entry) *Dispatcher {
	if conf.BufferSize == 0 {
		conf.BufferSize = 256
	}
	if conf.SweepIntervalSeconds == 0 {
		conf.SweepIntervalSeconds = 30
	}
	if conf.MaxAttempts == 0 {
		conf.MaxAttempts = 5
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		queue:       make(chan Message, conf.BufferSize),
		interval:    time.Duration(conf.SweepIntervalSeconds) * time.Second,
		batchSize:   conf.BatchSize,
		maxAttempts: conf.MaxAttempts,
		logger:      logger,
	}
}

// Enqueue hands a freshly recorded notification to the dispatcher. It never blocks: when the buffer is full, the
// notification is left to the next sweep.
func (d *Dispatcher) Enqueue(requestID string, n models.Notification) {
	msg := Message{
		NotificationID: n.ID,
		RequestID:      requestID,
		Type:           n.Type,
		Message:        n.Message,
		SentAt:         n.SentAt,
	}
	select {
	case d.queue <- msg:
	default:
		metrics.NotificationDeliveries.WithLabelValues(metrics.DeliveryDropped).Inc()
		d.logger.WithFields(logrus.Fields{
			log.FldRequest:      requestID,
			log.FldNotification: n.ID,
		}).Warn("Notification buffer full - leaving notification to the next sweep")
	}
}

// Run delivers enqueued notifications and sweeps storage for undelivered ones until the context is done
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.WithField("interval", d.interval).Info("Notification dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification dispatcher stopped")
			return nil
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil {
				d.logger.WithError(err).Error("Notification sweep failed")
			}
		}
	}
}

// Sweep delivers notifications that have been pending for at least one sweep interval. It returns the number of
// notifications it tried to deliver.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	pending, err := d.store.PendingNotifications(ctx, time.Now().Add(-d.interval), d.batchSize)
	if err != nil {
		return 0, err
	}
	metrics.NotificationBacklog.Set(float64(len(pending)))
	if len(pending) > 0 {
		d.logger.Debugf("Sweeping %d undelivered notifications", len(pending))
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		d.deliver(ctx, Message{
			NotificationID: p.ID,
			RequestID:      p.RequestID,
			Type:           p.Type,
			Message:        p.Message,
			SentAt:         p.SentAt,
			Attempts:       p.Attempts,
		})
	}
	return len(pending), nil
}

// Sends one message and records the outcome
func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	logger := d.logger.WithFields(logrus.Fields{
		log.FldRequest:      msg.RequestID,
		log.FldNotification: msg.NotificationID,
		log.FldAttempt:      msg.Attempts + 1,
	})
	status := models.DeliverySent
	result := metrics.DeliverySent
	if err := d.sender.Send(ctx, msg); err != nil {
		if msg.Attempts+1 >= d.maxAttempts {
			status = models.DeliveryFailed
			result = metrics.DeliveryFailed
			logger.WithError(err).Error("Giving up on notification")
		} else {
			status = models.DeliveryPending
			result = metrics.DeliveryRetry
			logger.WithError(err).Warn("Notification delivery failed - will retry")
		}
	} else {
		logger.Debug("Notification delivered")
	}
	metrics.NotificationDeliveries.WithLabelValues(result).Inc()
	if err := d.store.MarkNotification(ctx, msg.NotificationID, status); err != nil {
		logger.WithError(err).Error("Failed to record notification delivery status")
	}
}
