package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/queue"
)

// Consumer drains the notification queue and drives the dispatcher. Failed
// dispatches are nacked so the queue retries them with backoff and eventually
// dead-letters them.
type Consumer struct {
	q          *queue.RedisQueue
	dispatcher *Dispatcher
	logger     logging.Logger

	// BatchSize bounds how many jobs one poll picks up.
	BatchSize int

	// PollTimeout bounds how long one poll waits for work.
	PollTimeout time.Duration

	// RecoverInterval spaces out stale-message recovery passes.
	RecoverInterval time.Duration
}

// NewConsumer creates a notification queue consumer.
func NewConsumer(q *queue.RedisQueue, dispatcher *Dispatcher, logger logging.Logger) *Consumer {
	return &Consumer{
		q:               q,
		dispatcher:      dispatcher,
		logger:          logger.With(logging.F("component", "notify_consumer")),
		BatchSize:       10,
		PollTimeout:     5 * time.Second,
		RecoverInterval: time.Minute,
	}
}

// Run polls the queue until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	lastRecover := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastRecover) >= c.RecoverInterval {
			if err := c.q.RecoverStaleMessages(ctx); err != nil {
				c.logger.Warn("Stale message recovery failed", logging.Err(err))
			}
			lastRecover = time.Now()
		}

		messages, err := c.q.Dequeue(ctx, c.BatchSize, c.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Dequeue failed", logging.Err(err))
			time.Sleep(time.Second)
			continue
		}

		for _, qm := range messages {
			c.handle(ctx, qm)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, qm *queue.QueuedMessage) {
	var job Job
	if err := json.Unmarshal(qm.Message, &job); err != nil {
		// Malformed payloads can never succeed; dead-letter immediately.
		c.logger.Error("Dropping malformed notification job",
			logging.Err(err),
			logging.F("message_id", qm.ID))
		if dlqErr := c.q.MoveToDeadLetter(ctx, qm.ID, "malformed payload"); dlqErr != nil {
			c.logger.Error("Failed to dead-letter message", logging.Err(dlqErr))
		}
		return
	}

	meetingID := uuid.Nil
	if job.MeetingID != "" {
		parsed, err := uuid.Parse(job.MeetingID)
		if err == nil {
			meetingID = parsed
		}
	}

	result, err := c.dispatcher.Dispatch(ctx, job.UserID, job.Event, meetingID)
	if err != nil {
		c.logger.Warn("Notification dispatch failed, will retry",
			logging.Err(err),
			logging.F("message_id", qm.ID),
			logging.F("retry_count", qm.RetryCount))
		if nackErr := c.q.Nack(ctx, qm.ID); nackErr != nil {
			c.logger.Error("Failed to nack message", logging.Err(nackErr))
		}
		return
	}

	if ackErr := c.q.Ack(ctx, qm.ID); ackErr != nil {
		c.logger.Error("Failed to ack message", logging.Err(ackErr))
	}

	if result == ResultSuppressed {
		c.logger.Debug("Notification suppressed",
			logging.F("user_id", job.UserID),
			logging.F("event", string(job.Event)))
	}
}
