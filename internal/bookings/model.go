package bookings

import (
	"net/mail"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking/internal/schedule"
)

// DateLayout is the wire and storage format for booking dates.
const DateLayout = "2006-01-02"

// Patient is the unverified contact identity attached to a booking.
type Patient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Slot identifies a (provider, date, time) triple that holds at most one
// active booking.
type Slot struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// Booking is a reserved appointment slot.
type Booking struct {
	Reference      string    `json:"reference"`
	TokenHash      string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	ProviderID     string    `json:"provider_id"`
	LocationID     string    `json:"location_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Patient        Patient   `json:"patient"`
	ServiceCode    string    `json:"service_code"`
	Notes          string    `json:"notes"`
	Status         Status    `json:"status"`
	Version        int       `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Slot returns the booking's slot triple.
func (b *Booking) Slot() Slot {
	return Slot{ProviderID: b.ProviderID, Date: b.Date, Time: b.Time}
}

// IsActive reports whether the booking still occupies its slot.
func (b *Booking) IsActive() bool {
	return b.Status.IsActive()
}

func (b *Booking) clone() *Booking {
	c := *b
	return &c
}

// CreateRequest is the input for a new booking.
type CreateRequest struct {
	ProviderID  string  `json:"provider_id"`
	LocationID  string  `json:"location_id"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Patient     Patient `json:"patient"`
	ServiceCode string  `json:"service_code"`
	Notes       string  `json:"notes"`
}

// CreateResult carries the credentials minted for a new booking. The
// management token is only ever returned here.
type CreateResult struct {
	Booking         *Booking  `json:"booking"`
	Reference       string    `json:"reference"`
	ManagementToken string    `json:"management_token"`
	TokenExpiresAt  time.Time `json:"token_expires_at"`
}

// UpdateRequest lists the fields a caller wants to change. Nil means unchanged.
type UpdateRequest struct {
	ProviderID   *string `json:"provider_id,omitempty"`
	LocationID   *string `json:"location_id,omitempty"`
	Date         *string `json:"date,omitempty"`
	Time         *string `json:"time,omitempty"`
	Status       *Status `json:"status,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	PatientName  *string `json:"patient_name,omitempty"`
	PatientEmail *string `json:"patient_email,omitempty"`
	PatientPhone *string `json:"patient_phone,omitempty"`
}

// UpdateResult is the booking after an update plus the fields that changed.
type UpdateResult struct {
	Booking       *Booking `json:"booking"`
	ChangedFields []string `json:"changed_fields"`
}

// ListFilter narrows a provider's booking list. Dates are inclusive.
type ListFilter struct {
	Status *Status
	Date   string
	From   string
	To     string
}

const maxNotesLength = 2000

// Validate checks the create request shape before any persistence access.
func (r *CreateRequest) Validate() error {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.LocationID = strings.TrimSpace(r.LocationID)
	r.Patient.Name = strings.TrimSpace(r.Patient.Name)
	r.Patient.Email = strings.TrimSpace(r.Patient.Email)
	r.Patient.Phone = strings.TrimSpace(r.Patient.Phone)
	r.ServiceCode = strings.TrimSpace(r.ServiceCode)

	if r.ProviderID == "" {
		return validationError("provider_id", "provider_id is required")
	}
	if r.LocationID == "" {
		return validationError("location_id", "location_id is required")
	}
	date, err := normalizeDate(r.Date)
	if err != nil {
		return err
	}
	r.Date = date
	slot, err := normalizeTime(r.Time)
	if err != nil {
		return err
	}
	r.Time = slot
	if err := validatePatient(r.Patient); err != nil {
		return err
	}
	if len(r.Notes) > maxNotesLength {
		return validationError("notes", "notes exceed maximum length")
	}
	return nil
}

func validatePatient(p Patient) error {
	if p.Name == "" {
		return validationError("patient.name", "patient name is required")
	}
	if p.Email == "" && p.Phone == "" {
		return validationError("patient.email", "either email or phone is required")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return validationError("patient.email", "patient email is invalid")
		}
	}
	return nil
}

func normalizeDate(raw string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", validationError("date", "date must be formatted YYYY-MM-DD")
	}
	return d.Format(DateLayout), nil
}

func normalizeTime(raw string) (string, error) {
	slot, err := schedule.NormalizeSlot(raw)
	if err != nil {
		return "", validationError("time", "time must be formatted HH:MM")
	}
	return slot, nil
}
