package bookings

import (
	"fmt"
	"strings"
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no-show"
)

// transitions is the complete table of legal status moves. Terminal states
// map to an empty list.
var transitions = map[Status][]Status{
	StatusScheduled:   {StatusConfirmed, StatusRescheduled, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusConfirmed:   {StatusRescheduled, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusRescheduled: {StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusCancelled:   {},
	StatusCompleted:   {},
	StatusNoShow:      {},
}

// ActiveStatuses are the states that occupy a slot.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusRescheduled}

// ParseStatus converts a literal into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", validationError("status", fmt.Sprintf("invalid status %q", raw))
	}
	return s, nil
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsActive reports whether a booking in this state occupies its slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusRescheduled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	allowed, ok := transitions[s]
	return !ok || len(allowed) == 0
}

// CanTransitionTo reports whether the table allows s -> target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// Role identifies who is asking for a change.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleStaff    Role = "staff"
)

// Actor is the explicit caller identity passed into every mutating operation.
// For providers ID is the provider id; for patients it is empty.
type Actor struct {
	Role Role
	ID   string
}

// PatientActor returns the actor for a token-holding patient.
func PatientActor() Actor { return Actor{Role: RolePatient} }

func (a Actor) valid() bool {
	switch a.Role {
	case RolePatient, RoleStaff:
		return true
	case RoleProvider:
		return a.ID != ""
	}
	return false
}

// patientTargets are the only statuses a patient may request.
var patientTargets = map[Status]bool{
	StatusRescheduled: true,
	StatusCancelled:   true,
}

// Transition validates a requested status change for an actor. slotChanged
// reports whether the same request moves the booking to a new slot. It
// returns the status the booking ends up in.
//
// A nil requested status with a slot change is an implicit reschedule.
// Requesting the current status is not a transition and is accepted.
func Transition(actor Actor, current Status, requested *Status, slotChanged bool) (Status, error) {
	target := current
	explicit := requested != nil
	if explicit {
		target = *requested
		if !target.IsValid() {
			return current, validationError("status", fmt.Sprintf("invalid status %q", target))
		}
	} else if slotChanged && current != StatusRescheduled {
		target = StatusRescheduled
	}

	if current.IsTerminal() && (slotChanged || target != current) {
		return current, illegalTransition(current, target, fmt.Sprintf("booking is %s and can no longer change", current))
	}

	if actor.Role == RolePatient {
		if explicit && target != current && !patientTargets[target] {
			return current, illegalTransition(current, target, fmt.Sprintf("patients may not set status %s", target))
		}
		if target == StatusRescheduled && target != current && !slotChanged {
			return current, illegalTransition(current, target, "rescheduling requires a new date or time")
		}
	}

	if target == current {
		return current, nil
	}
	if !current.CanTransitionTo(target) {
		return current, illegalTransition(current, target, "")
	}
	if slotChanged && !target.IsActive() {
		return current, illegalTransition(current, target, fmt.Sprintf("cannot change slot while marking booking %s", target))
	}
	return target, nil
}
