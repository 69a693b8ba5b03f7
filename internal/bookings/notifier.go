package bookings

import (
	"context"
	"time"
)

// EventType names a state change announced to the notification gateway.
type EventType string

const (
	EventCreated       EventType = "booking.created.v1"
	EventRescheduled   EventType = "booking.rescheduled.v1"
	EventCancelled     EventType = "booking.cancelled.v1"
	EventStatusChanged EventType = "booking.status_changed.v1"
	EventUpdated       EventType = "booking.updated.v1"
)

// Notification is the intent handed to the gateway after a commit.
type Notification struct {
	Type       EventType
	Booking    Booking
	Previous   map[string]string
	ChangedBy  Role
	OccurredAt time.Time
}

// Notifier is the outward notification gateway. Notify must not block on
// delivery and has no way to fail the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Observer receives booking outcomes for metrics.
type Observer interface {
	ObserveCreate(result string)
	ObserveSlotConflict(stage string)
	ObserveTransition(from, to string)
	ObserveAuditFailure()
	ObserveAvailability(seconds float64)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

type noopObserver struct{}

func (noopObserver) ObserveCreate(string) {}
func (noopObserver) ObserveSlotConflict(string) {}
func (noopObserver) ObserveTransition(string, string) {}
func (noopObserver) ObserveAuditFailure() {}
func (noopObserver) ObserveAvailability(float64) {}

func eventFor(diffs []FieldDiff) EventType {
	var slotChanged, statusChanged bool
	var newStatus string
	for _, d := range diffs {
		switch d.Field {
		case "provider_id", "date", "time":
			slotChanged = true
		case "status":
			statusChanged = true
			newStatus = d.NewValue
		}
	}
	switch {
	case statusChanged && newStatus == string(StatusCancelled):
		return EventCancelled
	case slotChanged:
		return EventRescheduled
	case statusChanged:
		return EventStatusChanged
	default:
		return EventUpdated
	}
}
