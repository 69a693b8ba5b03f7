package bookings

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// AuditEntry records one changed field of one booking update. Entries refer to
// their booking by reference only, so history outlives the booking itself.
type AuditEntry struct {
	ID               string    `json:"id"`
	BookingReference string    `json:"booking_reference"`
	Field            string    `json:"field"`
	OldValue         string    `json:"old_value"`
	NewValue         string    `json:"new_value"`
	ChangedBy        Role      `json:"changed_by"`
	ChangedAt        time.Time `json:"changed_at"`
}

// FieldDiff is a single before/after pair.
type FieldDiff struct {
	Field    string
	OldValue string
	NewValue string
}

// AuditStore persists audit entries. Stores assign IDs when empty.
type AuditStore interface {
	Append(ctx context.Context, entries []AuditEntry) error
	ListForBooking(ctx context.Context, reference string, fields []string) ([]AuditEntry, error)
}

// DiffBookings lists every audited field whose value differs between before
// and after. Comparison is exact; no case or whitespace folding.
func DiffBookings(before, after *Booking) []FieldDiff {
	pairs := []FieldDiff{
		{"provider_id", before.ProviderID, after.ProviderID},
		{"location_id", before.LocationID, after.LocationID},
		{"date", before.Date, after.Date},
		{"time", before.Time, after.Time},
		{"status", string(before.Status), string(after.Status)},
		{"notes", before.Notes, after.Notes},
		{"patient_name", before.Patient.Name, after.Patient.Name},
		{"patient_email", before.Patient.Email, after.Patient.Email},
		{"patient_phone", before.Patient.Phone, after.Patient.Phone},
	}
	var diffs []FieldDiff
	for _, p := range pairs {
		if p.OldValue != p.NewValue {
			diffs = append(diffs, p)
		}
	}
	return diffs
}

// DefaultAuditTimeout bounds a single audit write.
const DefaultAuditTimeout = 2 * time.Second

// AuditRecorder writes field diffs after a committed update. It never
// returns an error: a failed write is logged and counted, and the update
// it describes stands.
type AuditRecorder struct {
	store    AuditStore
	logger   *logging.Logger
	observer Observer
	timeout  time.Duration
	now      func() time.Time
}

// NewAuditRecorder creates a best-effort audit recorder.
func NewAuditRecorder(store AuditStore, logger *logging.Logger, observer Observer) *AuditRecorder {
	if store == nil {
		panic("bookings: audit store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &AuditRecorder{store: store, logger: logger, observer: observer, timeout: DefaultAuditTimeout, now: time.Now}
}

// WithTimeout overrides the per-write deadline.
func (a *AuditRecorder) WithTimeout(timeout time.Duration) *AuditRecorder {
	if timeout > 0 {
		a.timeout = timeout
	}
	return a
}

// Record appends one entry per diff. Zero diffs write nothing. The write
// gets its own deadline so a stalled store cannot hold up the caller.
func (a *AuditRecorder) Record(ctx context.Context, reference string, diffs []FieldDiff, changedBy Role) {
	if len(diffs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	changedAt := a.now().UTC()
	entries := make([]AuditEntry, 0, len(diffs))
	for _, d := range diffs {
		entries = append(entries, AuditEntry{
			BookingReference: reference,
			Field:            d.Field,
			OldValue:         d.OldValue,
			NewValue:         d.NewValue,
			ChangedBy:        changedBy,
			ChangedAt:        changedAt,
		})
	}
	if err := a.store.Append(ctx, entries); err != nil {
		a.observer.ObserveAuditFailure()
		a.logger.Error("booking audit write failed",
			"error", err,
			"reference", reference,
			"fields", len(entries),
		)
	}
}
