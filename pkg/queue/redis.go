package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements a durable job queue on Redis sorted sets.
type RedisQueue struct {
	client *redis.Client
	name   string
	config Config
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(client *redis.Client, config Config) *RedisQueue {
	return &RedisQueue{
		client: client,
		name:   config.Name,
		config: config,
	}
}

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // Main queue (sorted set by priority)
	keyPrefixProcessing = "processing:" // Messages being processed
	keyPrefixMessage    = "msg:"        // Message data
	keyPrefixDLQ        = "dlq:"        // Dead letter queue
)

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	messageID := uuid.New().String()

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	qm := &QueuedMessage{
		ID:          messageID,
		Message:     msgBytes,
		MessageType: msg.GetMessageType(),
		Priority:    msg.GetPriority(),
		RetryCount:  0,
		EnqueuedAt:  time.Now(),
	}

	qmBytes, err := json.Marshal(qm)
	if err != nil {
		return fmt.Errorf("failed to marshal queued message: %w", err)
	}

	// Store message data and add to the sorted set in one transaction.
	// Score is priority * 1e12 + timestamp so ordering is FIFO within a
	// priority band.
	pipe := q.client.TxPipeline()

	msgKey := keyPrefixMessage + q.name + ":" + messageID
	pipe.Set(ctx, msgKey, qmBytes, q.config.RetentionPeriod)

	queueKey := keyPrefixQueue + q.name
	score := float64(msg.GetPriority())*1e12 + float64(time.Now().UnixNano())
	pipe.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: messageID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	return nil
}

// Dequeue retrieves up to maxMessages messages, waiting until the timeout for
// the queue to become non-empty.
func (q *RedisQueue) Dequeue(ctx context.Context, maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	queueKey := keyPrefixQueue + q.name
	processingKey := keyPrefixProcessing + q.name
	deadline := time.Now().Add(timeout)

	var messages []*QueuedMessage

	for time.Now().Before(deadline) && len(messages) < maxMessages {
		result, err := q.client.ZPopMax(ctx, queueKey, 1).Result()
		if err == redis.Nil || len(result) == 0 {
			// Queue is empty, wait a bit and retry.
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return messages, ctx.Err()
			}
		}
		if err != nil {
			return messages, fmt.Errorf("failed to pop from queue: %w", err)
		}

		messageID := result[0].Member.(string)
		msgKey := keyPrefixMessage + q.name + ":" + messageID

		data, err := q.client.Get(ctx, msgKey).Bytes()
		if err == redis.Nil {
			// Message expired, skip.
			continue
		}
		if err != nil {
			return messages, fmt.Errorf("failed to get message data: %w", err)
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			return messages, fmt.Errorf("failed to unmarshal message: %w", err)
		}

		// Park in the processing set until acked or the visibility
		// timeout expires.
		visibleAfter := time.Now().Add(q.config.VisibilityTimeout)
		qm.VisibleAfter = visibleAfter

		updatedData, _ := json.Marshal(qm)
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, msgKey, updatedData, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, processingKey, redis.Z{
			Score:  float64(visibleAfter.UnixNano()),
			Member: messageID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return messages, fmt.Errorf("failed to move to processing: %w", err)
		}

		messages = append(messages, &qm)
	}

	return messages, nil
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(ctx context.Context, messageID string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, messageID)
	pipe.Del(ctx, msgKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}

	return nil
}

// Nack indicates processing failure; the message is re-queued with backoff or
// moved to the dead letter queue once retries are exhausted.
func (q *RedisQueue) Nack(ctx context.Context, messageID string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID

	data, err := q.client.Get(ctx, msgKey).Bytes()
	if err == redis.Nil {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	qm.RetryCount++

	if qm.RetryCount >= q.config.MaxRetries {
		return q.MoveToDeadLetter(ctx, messageID, "max retries exceeded")
	}

	queueKey := keyPrefixQueue + q.name
	backoff := calculateBackoff(qm.RetryCount)
	qm.VisibleAfter = time.Now().Add(backoff)

	updatedData, _ := json.Marshal(qm)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, messageID)
	pipe.Set(ctx, msgKey, updatedData, q.config.RetentionPeriod)
	// Re-add to queue with delayed visibility.
	score := float64(qm.Priority)*1e12 + float64(qm.VisibleAfter.UnixNano())
	pipe.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: messageID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}

	return nil
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, messageID string, reason string) error {
	processingKey := keyPrefixProcessing + q.name
	msgKey := keyPrefixMessage + q.name + ":" + messageID
	dlqKey := keyPrefixDLQ + q.name

	data, err := q.client.Get(ctx, msgKey).Bytes()
	if err == redis.Nil {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	dlqEntry := map[string]interface{}{
		"message":    string(data),
		"reason":     reason,
		"moved_at":   time.Now().Format(time.RFC3339),
		"queue_name": q.name,
	}
	dlqData, _ := json.Marshal(dlqEntry)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, processingKey, messageID)
	pipe.Del(ctx, msgKey)
	pipe.ZAdd(ctx, dlqKey, redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: string(dlqData),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}

	return nil
}

// Depth returns the current queue depth.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	queueKey := keyPrefixQueue + q.name
	return q.client.ZCard(ctx, queueKey).Result()
}

// RecoverStaleMessages re-queues messages whose visibility timeout expired.
// Should be called periodically by a background loop.
func (q *RedisQueue) RecoverStaleMessages(ctx context.Context) error {
	processingKey := keyPrefixProcessing + q.name
	queueKey := keyPrefixQueue + q.name

	now := float64(time.Now().UnixNano())
	staleMessages, err := q.client.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to find stale messages: %w", err)
	}

	for _, messageID := range staleMessages {
		msgKey := keyPrefixMessage + q.name + ":" + messageID

		data, err := q.client.Get(ctx, msgKey).Bytes()
		if err == redis.Nil {
			// Message expired, just remove from processing.
			q.client.ZRem(ctx, processingKey, messageID)
			continue
		}
		if err != nil {
			continue
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			continue
		}

		qm.RetryCount++

		if qm.RetryCount >= q.config.MaxRetries {
			q.MoveToDeadLetter(ctx, messageID, "visibility timeout exceeded")
			continue
		}

		updatedData, _ := json.Marshal(qm)
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, processingKey, messageID)
		pipe.Set(ctx, msgKey, updatedData, q.config.RetentionPeriod)
		score := float64(qm.Priority)*1e12 + float64(time.Now().UnixNano())
		pipe.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: messageID})
		pipe.Exec(ctx)
	}

	return nil
}
