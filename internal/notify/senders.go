package notify

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/log"
)

// -- LogSender --------------------------------------------------------------------------------------------------------

// LogSender writes notifications to the log. It is used when no message broker has been configured.
type LogSender struct {
	logger *logrus.Entry
}

// NewLogSender creates a new log-only sender
func NewLogSender(logger *logrus.Entry) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		log.FldRequest:      msg.RequestID,
		log.FldNotification: msg.NotificationID,
		"type":              msg.Type,
	}).Info(msg.Message)
	return nil
}

// -- AMQPSender -------------------------------------------------------------------------------------------------------

// AMQPSender publishes notifications as persistent JSON messages to a durable queue. The connection is opened on the
// first send and re-opened after it has been lost.
type AMQPSender struct {
	url    string
	queue  string
	logger *logrus.Entry

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSender creates a new sender publishing to the given queue of the broker at url
func NewAMQPSender(url, queue string, logger *logrus.Entry) *AMQPSender {
	return &AMQPSender{url: url, queue: queue, logger: logger}
}

// Returns an open channel with the queue declared. Must be called with the lock held.
func (s *AMQPSender) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	if s.conn == nil || s.conn.IsClosed() {
		s.logger.WithField("queue", s.queue).Info("Connecting to message broker")
		conn, err := amqp.Dial(s.url)
		if err != nil {
			return nil, errors.Wrap(err, "amqp: dial failed")
		}
		s.conn = conn
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "amqp: channel open failed")
	}
	if _, err := ch.QueueDeclare(
		s.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "amqp: queue declare failed")
	}
	s.ch = ch
	return ch, nil
}

// Send implements Sender
func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "amqp: failed to encode notification")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(
		ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    strconv.FormatUint(uint64(msg.NotificationID), 10),
			Type:         string(msg.Type),
			Body:         body,
		},
	)
	if err != nil {
		// Start over with a fresh channel next time
		s.ch.Close()
		s.ch = nil
		return errors.Wrap(err, "amqp: publish failed")
	}
	return nil
}

// Close closes the broker connection
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}
