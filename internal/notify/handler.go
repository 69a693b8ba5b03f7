package notify

import (
	"context"
	"fmt"

	"github.com/wolfman30/medspa-booking/internal/events"
)

// QueueHandler publishes outbox entries to a queue. It implements
// events.DeliveryHandler.
type QueueHandler struct {
	queue Queue
}

// NewQueueHandler creates a delivery handler for queue.
func NewQueueHandler(queue Queue) *QueueHandler {
	if queue == nil {
		panic("notify: queue required")
	}
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if len(entry.Payload) == 0 {
		return fmt.Errorf("notify: empty payload for event %s", entry.ID)
	}
	if err := h.queue.Send(ctx, string(entry.Payload)); err != nil {
		return fmt.Errorf("notify: publish %s: %w", entry.Type, err)
	}
	return nil
}
