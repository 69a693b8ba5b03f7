package notify

import "context"

// Queue is the outbound transport for notification envelopes.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is a received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}
