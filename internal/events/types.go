package events

import "time"

// BookingEventV1 is the payload announced for every committed booking change.
// Type carries the concrete event name, e.g. booking.rescheduled.v1.
type BookingEventV1 struct {
	Type         string            `json:"type"`
	Reference    string            `json:"reference"`
	ProviderID   string            `json:"provider_id"`
	LocationID   string            `json:"location_id"`
	Date         string            `json:"date"`
	Time         string            `json:"time"`
	Status       string            `json:"status"`
	ServiceCode  string            `json:"service_code,omitempty"`
	PatientName  string            `json:"patient_name"`
	PatientEmail string            `json:"patient_email,omitempty"`
	PatientPhone string            `json:"patient_phone,omitempty"`
	Previous     map[string]string `json:"previous,omitempty"`
	ChangedBy    string            `json:"changed_by,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

func (e BookingEventV1) EventType() string { return e.Type }
