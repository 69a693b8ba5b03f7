package bookings

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP boundary can pick a status code.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindSlotTaken         Kind = "slot_taken"
	KindNotFound          Kind = "not_found"
	KindIllegalTransition Kind = "illegal_transition"
	KindIssuanceExhausted Kind = "issuance_exhausted"
	KindUnknownProvider   Kind = "unknown_provider"
	KindDateNotBookable   Kind = "date_not_bookable"
	KindConcurrentUpdate  Kind = "concurrent_update"
)

// Error is a classified booking failure.
type Error struct {
	Kind    Kind
	Field   string
	From    Status
	To      Status
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("bookings: %s: %v", msg, e.Err)
	}
	return "bookings: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrSlotTaken         = &Error{Kind: KindSlotTaken, Message: "slot is no longer available"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "booking not found"}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrIssuanceExhausted = &Error{Kind: KindIssuanceExhausted, Message: "could not issue a unique booking reference"}
	ErrUnknownProvider   = &Error{Kind: KindUnknownProvider, Message: "unknown provider"}
	ErrDateNotBookable   = &Error{Kind: KindDateNotBookable, Message: "date is not bookable"}
	ErrConcurrentUpdate  = &Error{Kind: KindConcurrentUpdate, Message: "booking was modified concurrently"}
)

// Repository-level sentinels. The service translates these into kinds.
var (
	ErrSlotConflict        = errors.New("bookings: active slot already reserved")
	ErrDuplicateIdentifier = errors.New("bookings: reference or token already exists")
	ErrBookingNotFound     = errors.New("bookings: booking not found")
	ErrStaleBooking        = errors.New("bookings: booking version changed")
)

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func validationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func illegalTransition(from, to Status, msg string) *Error {
	if msg == "" {
		msg = fmt.Sprintf("cannot move booking from %s to %s", from, to)
	}
	return &Error{Kind: KindIllegalTransition, From: from, To: to, Message: msg}
}
