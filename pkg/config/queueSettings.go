package config

import "time"

// QueueSettings holds configuration for the queue transport: the consumed
// work queues, the delayed retry queues and the dead-letter sink.
type QueueSettings struct {
	Type      string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url"`
	ProjectID string `mapstructure:"projectID"` // Optional for brokers like GCP Pub/Sub
	PoolSize  int    `mapstructure:"pool_size"` // Optional for RabbitMQ

	ExpirationQueue             string `mapstructure:"expiration_queue" validate:"required"`
	RefundQueue                 string `mapstructure:"refund_queue" validate:"required"`
	RefundRetryQueue            string `mapstructure:"refund_retry_queue" validate:"required"`
	AuthorizationRequestedQueue string `mapstructure:"authorization_requested_queue" validate:"required"`
	DeadLetterQueue             string `mapstructure:"dead_letter_queue" validate:"required"`

	DeadLetterTTL time.Duration `mapstructure:"dead_letter_ttl"`
}
