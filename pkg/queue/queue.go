// Package queue provides a Redis-backed job queue with visibility timeouts,
// bounded retries with exponential backoff, and a dead letter queue. The
// notification dispatcher publishes through it so delivery survives process
// restarts and is retried at least once rather than fired at the network and
// forgotten.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMessageNotFound indicates the referenced message no longer exists
// (expired or already acknowledged).
var ErrMessageNotFound = errors.New("queue: message not found")

// Message is the payload contract for queued jobs.
type Message interface {
	// GetMessageType identifies the job type for consumers.
	GetMessageType() string

	// GetPriority orders competing jobs; higher dequeues first.
	GetPriority() int
}

// QueuedMessage wraps a serialized Message with delivery bookkeeping.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  string          `json:"message_type"`
	Priority     int             `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// Config holds queue tuning parameters.
type Config struct {
	// Name namespaces all Redis keys for this queue.
	Name string

	// MaxRetries before a message moves to the dead letter queue.
	MaxRetries int

	// VisibilityTimeout bounds how long a dequeued message may stay
	// unacknowledged before recovery re-queues it.
	VisibilityTimeout time.Duration

	// RetentionPeriod is the TTL on stored message bodies.
	RetentionPeriod time.Duration
}

// DefaultConfig returns queue settings suitable for notification jobs.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		MaxRetries:        5,
		VisibilityTimeout: 60 * time.Second,
		RetentionPeriod:   24 * time.Hour,
	}
}

// calculateBackoff calculates exponential backoff for retries:
// 1s, 2s, 4s, 8s, ..., capped at 5 minutes.
func calculateBackoff(retryCount int) time.Duration {
	base := time.Second
	backoff := base * (1 << uint(retryCount))
	maxBackoff := 5 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
