package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-booking/internal/bookings"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// DefaultTimeout bounds a single dispatch.
const DefaultTimeout = 2 * time.Second

// Appender persists events for later delivery.
type Appender interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
}

// DispatchObserver counts dispatch outcomes.
type DispatchObserver interface {
	ObserveDispatch(eventType, result string)
}

// Gateway hands booking notifications to the outbox, or straight to a
// delivery handler when no outbox is configured. Dispatch runs in the
// background with its own deadline so callers never wait on it and never
// see its failures.
type Gateway struct {
	outbox   Appender
	direct   events.DeliveryHandler
	timeout  time.Duration
	logger   *logging.Logger
	observer DispatchObserver
	wg       sync.WaitGroup
}

// NewOutboxGateway records notifications in the outbox.
func NewOutboxGateway(outbox Appender, logger *logging.Logger) *Gateway {
	if outbox == nil {
		panic("notify: outbox required")
	}
	return newGateway(outbox, nil, logger)
}

// NewDirectGateway delivers notifications straight to handler.
func NewDirectGateway(handler events.DeliveryHandler, logger *logging.Logger) *Gateway {
	if handler == nil {
		panic("notify: delivery handler required")
	}
	return newGateway(nil, handler, logger)
}

func newGateway(outbox Appender, direct events.DeliveryHandler, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{outbox: outbox, direct: direct, timeout: DefaultTimeout, logger: logger}
}

func (g *Gateway) WithTimeout(timeout time.Duration) *Gateway {
	if timeout > 0 {
		g.timeout = timeout
	}
	return g
}

func (g *Gateway) WithObserver(observer DispatchObserver) *Gateway {
	g.observer = observer
	return g
}

// Notify implements bookings.Notifier.
func (g *Gateway) Notify(ctx context.Context, n bookings.Notification) {
	evt := bookingEvent(n)
	correlationID := middleware.GetReqID(ctx)
	detached := context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(detached, g.timeout)
		defer cancel()

		if err := g.dispatch(ctx, evt, correlationID); err != nil {
			g.observe(evt.Type, "failed")
			g.logger.Error("booking notification dispatch failed",
				"error", err,
				"type", evt.Type,
				"reference", evt.Reference,
			)
			return
		}
		g.observe(evt.Type, "ok")
	}()
}

func (g *Gateway) dispatch(ctx context.Context, evt events.BookingEventV1, correlationID string) error {
	if g.outbox != nil {
		_, err := g.outbox.Append(ctx, evt.Reference, correlationID, evt)
		return err
	}

	env, err := events.NewEnvelope(evt.Reference, correlationID, evt, events.WithTimestamp(evt.OccurredAt))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return g.direct.Handle(ctx, events.OutboxEntry{
		ID:        env.EventID,
		Aggregate: env.Aggregate,
		Type:      env.EventType,
		Payload:   payload,
		CreatedAt: evt.OccurredAt,
	})
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) observe(eventType, result string) {
	if g.observer != nil {
		g.observer.ObserveDispatch(eventType, result)
	}
}

func bookingEvent(n bookings.Notification) events.BookingEventV1 {
	b := n.Booking
	occurred := n.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return events.BookingEventV1{
		Type:         string(n.Type),
		Reference:    b.Reference,
		ProviderID:   b.ProviderID,
		LocationID:   b.LocationID,
		Date:         b.Date,
		Time:         b.Time,
		Status:       string(b.Status),
		ServiceCode:  b.ServiceCode,
		PatientName:  b.Patient.Name,
		PatientEmail: b.Patient.Email,
		PatientPhone: b.Patient.Phone,
		Previous:     n.Previous,
		ChangedBy:    string(n.ChangedBy),
		OccurredAt:   occurred,
	}
}
