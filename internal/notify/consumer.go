package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// EnvelopeHandler processes one received notification.
type EnvelopeHandler func(ctx context.Context, env events.Envelope) error

// Consumer drains a queue and hands each envelope to a handler. Messages are
// deleted only after the handler succeeds.
type Consumer struct {
	queue       Queue
	handle      EnvelopeHandler
	logger      *logging.Logger
	maxMessages int
	waitSeconds int
}

// NewConsumer creates a queue consumer.
func NewConsumer(queue Queue, handle EnvelopeHandler, logger *logging.Logger) *Consumer {
	if queue == nil || handle == nil {
		panic("notify: consumer requires queue and handler")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{queue: queue, handle: handle, logger: logger, maxMessages: 10, waitSeconds: 20}
}

// LogHandler logs each notification. Local development uses it in place of a
// real patient messaging channel.
func LogHandler(logger *logging.Logger) EnvelopeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(_ context.Context, env events.Envelope) error {
		var evt events.BookingEventV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return err
		}
		logger.Info("booking notification",
			"event_id", env.EventID,
			"type", env.EventType,
			"reference", evt.Reference,
			"status", evt.Status,
			"date", evt.Date,
			"time", evt.Time,
		)
		return nil
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := c.queue.Receive(ctx, c.maxMessages, c.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("notification receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range messages {
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg Message) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		c.logger.Error("discarding malformed notification", "error", err, "message_id", msg.ID)
		_ = c.queue.Delete(ctx, msg.ReceiptHandle)
		return
	}
	if err := c.handle(ctx, env); err != nil {
		c.logger.Error("notification handler failed", "error", err, "event_id", env.EventID)
		return
	}
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("notification delete failed", "error", err, "message_id", msg.ID)
	}
}
