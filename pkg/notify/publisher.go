package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/queue"
)

// JobQueue is the durable queue notifications are published through.
type JobQueue interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Publisher enqueues notification jobs. Publishing is fire-and-forget toward
// the caller: a queue failure is logged and swallowed, because notification
// delivery must never fail the lifecycle operation that triggered it.
type Publisher struct {
	q      JobQueue
	logger logging.Logger
}

// NewPublisher creates a notification publisher.
func NewPublisher(q JobQueue, logger logging.Logger) *Publisher {
	return &Publisher{
		q:      q,
		logger: logger.With(logging.F("component", "notify_publisher")),
	}
}

// Notify enqueues one notification job. meetingID may be uuid.Nil.
func (p *Publisher) Notify(ctx context.Context, userID string, event Event, meetingID uuid.UUID) {
	job := Job{
		UserID: userID,
		Event:  event,
	}
	if meetingID != uuid.Nil {
		job.MeetingID = meetingID.String()
	}

	if err := p.q.Enqueue(ctx, job); err != nil {
		p.logger.Error("Failed to enqueue notification",
			logging.Err(err),
			logging.F("user_id", userID),
			logging.F("event", string(event)))
		return
	}

	p.logger.Debug("Notification enqueued",
		logging.F("user_id", userID),
		logging.F("event", string(event)))
}
