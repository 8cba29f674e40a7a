package models

import (
	"path"

	"github.com/kardianos/osext"
	"github.com/shopspring/decimal"
)

const (
	// AdmissionBackendMemory keeps the admission counters inside the process
	AdmissionBackendMemory = "memory"
	// AdmissionBackendRedis keeps the admission counters in Redis so that several processes can share them
	AdmissionBackendRedis = "redis"
)

// AppConfig is the application's main configuration structure
type AppConfig struct {
	// The directory where the service stores its database - defaults to the /data subdirectory of the folder the
	// executable resides in
	DataDir string `json:"dataDir"`
	// The IP address to listen at - including the port number
	ListenAddress string `json:"listenAddress"`
	// The time zone performers schedule their shows in. Song restrictions are evaluated in this zone
	TimeZone string `json:"timeZone"`
	// Configuration of the per-user request cap
	Admission AdmissionConfig `json:"admission"`
	// Configuration of the notification delivery
	Notifications NotificationConfig `json:"notifications"`
	// Settings applied to new shows that do not bring their own
	DefaultShowSettings ShowSettings `json:"defaultShowSettings"`
}

// AdmissionConfig selects and configures the admission counter backend
type AdmissionConfig struct {
	// "memory" or "redis"
	Backend string `json:"backend"`
	// Redis connection URL, e.g. redis://localhost:6379/0
	RedisURL string `json:"redisUrl"`
	// Prefix of the Redis keys
	KeyPrefix string `json:"keyPrefix"`
	// Idle lifetime of the Redis keys of one requester at one show
	KeyTTLSeconds uint `json:"keyTtlSeconds"`
	// Time after which a reservation that has been neither consumed nor released stops counting
	ReservationTimeoutSeconds uint `json:"reservationTimeoutSeconds"`
}

// NotificationConfig configures the asynchronous notification dispatcher
type NotificationConfig struct {
	// AMQP broker URL - if empty, notifications are only written to the log
	AMQPURL string `json:"amqpUrl"`
	// Name of the durable queue notifications are published to
	Queue string `json:"queue"`
	// Capacity of the in-process hand-off buffer
	BufferSize uint `json:"bufferSize"`
	// Interval in which stored, undelivered notifications are picked up again
	SweepIntervalSeconds uint `json:"sweepIntervalSeconds"`
	// Maximum number of notifications picked up per sweep
	BatchSize uint `json:"batchSize"`
	// Delivery attempts before a notification is marked as failed
	MaxAttempts uint `json:"maxAttempts"`
}

// GetDefaultConfig returns the default configuration values for the application
func GetDefaultConfig() (*AppConfig, error) {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		return nil, err
	}
	return &AppConfig{
		DataDir:       path.Join(execDir, "data"),
		ListenAddress: ":3000",
		TimeZone:      "Local",
		Admission: AdmissionConfig{
			Backend:       AdmissionBackendMemory,
			KeyPrefix:                 "admission",
			KeyTTLSeconds:             24 * 60 * 60,
			ReservationTimeoutSeconds: 30,
		},
		Notifications: NotificationConfig{
			Queue:                "request.notifications",
			BufferSize:           256,
			SweepIntervalSeconds: 30,
			BatchSize:            100,
			MaxAttempts:          5,
		},
		DefaultShowSettings: ShowSettings{
			MaxRequestsPerUser: 3,
			SuggestedTip:       decimal.NewFromInt(5),
		},
	}, nil
}
