package bookings

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medspa-booking/internal/schedule"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

var bookingsTracer = otel.Tracer("medspa.internal.bookings")

// staleAttempts bounds re-reads when an update loses an optimistic version race.
const staleAttempts = 3

// ServiceOptions wires the booking service.
type ServiceOptions struct {
	Repository    Repository
	Templates     schedule.Provider
	Audit         AuditStore
	AuditTimeout  time.Duration
	Notifier      Notifier
	Observer      Observer
	Logger        *logging.Logger
	Location      *time.Location
	MinLeadTime   time.Duration
	TokenValidity time.Duration
	Retry         RetryPolicy
	Now           func() time.Time
}

// Service is the booking core: availability, creation, token lookup,
// lifecycle updates and provider listings.
type Service struct {
	repo     Repository
	issuer   *Issuer
	calc     *Calculator
	guard    *Guard
	audit    *AuditRecorder
	auditLog AuditStore
	notifier Notifier
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
}

// NewService constructs a bookings service.
func NewService(opts ServiceOptions) *Service {
	if opts.Repository == nil {
		panic("bookings: repository required")
	}
	if opts.Templates == nil {
		panic("bookings: schedule templates required")
	}
	if opts.Audit == nil {
		opts.Audit = NewMemoryAuditStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	auditRecorder := NewAuditRecorder(opts.Audit, opts.Logger, opts.Observer).WithTimeout(opts.AuditTimeout)
	auditRecorder.now = opts.Now

	return &Service{
		repo:     opts.Repository,
		issuer:   NewIssuer(opts.Repository, opts.TokenValidity, opts.Retry).WithClock(opts.Now),
		calc:     NewCalculator(opts.Templates, opts.Repository, opts.Location, opts.MinLeadTime).WithClock(opts.Now),
		guard:    NewGuard(opts.Repository, opts.Observer),
		audit:    auditRecorder,
		auditLog: opts.Audit,
		notifier: opts.Notifier,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Availability returns the free slots for a provider on a date.
func (s *Service) Availability(ctx context.Context, providerID, date string) ([]string, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.provider_id", providerID),
		attribute.String("medspa.date", date),
	)

	start := time.Now()
	slots, err := s.calc.AvailableSlots(ctx, strings.TrimSpace(providerID), date)
	s.observer.ObserveAvailability(time.Since(start).Seconds())
	if err != nil {
		recordSpanError(span, err)
		return slots, err
	}
	span.SetAttributes(attribute.Int("medspa.free_slots", len(slots)))
	return slots, nil
}

// Create reserves a slot for a patient and mints its reference and token.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()

	result, err := s.create(ctx, &req)
	if err != nil {
		recordSpanError(span, err)
		s.observer.ObserveCreate(resultLabel(err))
		return nil, err
	}
	s.observer.ObserveCreate("ok")
	span.SetAttributes(attribute.String("medspa.booking_reference", result.Reference))
	return result, nil
}

func (s *Service) create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	slot := Slot{ProviderID: req.ProviderID, Date: req.Date, Time: req.Time}
	if err := s.calc.checkSlot(ctx, slot); err != nil {
		return nil, err
	}

	creds, err := s.issuer.Issue(ctx, req.Date)
	if err != nil {
		if KindOf(err) == KindIssuanceExhausted {
			s.logger.Error("booking reference issuance exhausted", "provider_id", slot.ProviderID, "date", slot.Date)
		}
		return nil, err
	}

	now := s.now().UTC()
	booking := &Booking{
		Reference:      creds.Reference,
		TokenHash:      creds.TokenHash,
		TokenExpiresAt: creds.ExpiresAt,
		ProviderID:     req.ProviderID,
		LocationID:     req.LocationID,
		Date:           req.Date,
		Time:           req.Time,
		Patient:        req.Patient,
		ServiceCode:    req.ServiceCode,
		Notes:          req.Notes,
		Status:         StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.guard.CheckAndReserve(ctx, slot, "", func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, booking); err != nil {
			if errors.Is(err, ErrDuplicateIdentifier) {
				return &Error{Kind: KindIssuanceExhausted, Message: "issued identifier collided at commit", Err: err}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		"reference", booking.Reference,
		"provider_id", booking.ProviderID,
		"date", booking.Date,
		"time", booking.Time,
	)
	s.notifier.Notify(ctx, Notification{
		Type:       EventCreated,
		Booking:    *booking,
		OccurredAt: now,
	})

	return &CreateResult{
		Booking:         booking,
		Reference:       booking.Reference,
		ManagementToken: creds.Token,
		TokenExpiresAt:  creds.ExpiresAt,
	}, nil
}

// GetWithToken returns a booking to the holder of its management token. A
// missing booking, a wrong token and an expired token all yield NotFound.
func (s *Service) GetWithToken(ctx context.Context, reference, token string) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.get")
	defer span.End()

	b, err := s.load(ctx, reference, PatientActor(), token)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return b, nil
}

// GetForActor returns a booking to staff, or to the provider it belongs to.
func (s *Service) GetForActor(ctx context.Context, reference string, actor Actor) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.get")
	defer span.End()

	b, err := s.load(ctx, reference, actor, "")
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return b, nil
}

// Update applies field changes and status transitions on behalf of actor.
// Patients authenticate with token; staff and providers pass an empty token.
func (s *Service) Update(ctx context.Context, reference, token string, actor Actor, req UpdateRequest) (*UpdateResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update", trace.WithAttributes(
		attribute.String("medspa.booking_reference", reference),
		attribute.String("medspa.actor", string(actor.Role)),
	))
	defer span.End()

	result, err := s.update(ctx, reference, token, actor, &req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("medspa.changed_fields", len(result.ChangedFields)))
	return result, nil
}

func (s *Service) update(ctx context.Context, reference, token string, actor Actor, req *UpdateRequest) (*UpdateResult, error) {
	if !actor.valid() {
		return nil, validationError("actor", "unknown actor")
	}
	if err := req.normalize(actor); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= staleAttempts; attempt++ {
		current, err := s.load(ctx, reference, actor, token)
		if err != nil {
			return nil, err
		}

		next := current.clone()
		req.apply(next)
		if next.Patient != current.Patient {
			if err := validatePatient(next.Patient); err != nil {
				return nil, err
			}
		}
		slotChanged := next.Slot() != current.Slot()

		status, err := Transition(actor, current.Status, req.Status, slotChanged)
		if err != nil {
			return nil, err
		}
		next.Status = status

		reserve := slotChanged && next.IsActive()
		if reserve {
			if err := s.calc.checkSlot(ctx, next.Slot()); err != nil {
				return nil, err
			}
		}

		diffs := DiffBookings(current, next)
		if len(diffs) == 0 {
			return &UpdateResult{Booking: current, ChangedFields: []string{}}, nil
		}
		next.UpdatedAt = s.now().UTC()

		commit := func(ctx context.Context) error {
			return s.repo.Update(ctx, next, current.Version)
		}
		if reserve {
			err = s.guard.CheckAndReserve(ctx, next.Slot(), current.Reference, commit)
		} else {
			err = commit(ctx)
		}
		switch {
		case errors.Is(err, ErrStaleBooking):
			s.logger.Warn("booking update lost version race, retrying", "reference", reference, "attempt", attempt)
			continue
		case errors.Is(err, ErrBookingNotFound):
			return nil, ErrNotFound
		case errors.Is(err, ErrSlotConflict):
			return nil, slotTaken(next.Slot(), err)
		case err != nil:
			return nil, err
		}

		s.afterUpdate(ctx, actor, current, next, diffs)
		return &UpdateResult{Booking: next, ChangedFields: fieldNames(diffs)}, nil
	}

	return nil, ErrConcurrentUpdate
}

// afterUpdate runs the post-commit side effects. The commit is final, so the
// caller's cancellation must not abort the audit write; the recorder applies
// its own deadline instead.
func (s *Service) afterUpdate(ctx context.Context, actor Actor, before, after *Booking, diffs []FieldDiff) {
	detached := context.WithoutCancel(ctx)
	s.audit.Record(detached, after.Reference, diffs, actor.Role)

	previous := make(map[string]string, len(diffs))
	for _, d := range diffs {
		previous[d.Field] = d.OldValue
	}
	if before.Status != after.Status {
		s.observer.ObserveTransition(string(before.Status), string(after.Status))
	}

	s.logger.Info("booking updated",
		"reference", after.Reference,
		"actor", actor.Role,
		"status", after.Status,
		"changed_fields", fieldNames(diffs),
	)
	s.notifier.Notify(detached, Notification{
		Type:       eventFor(diffs),
		Booking:    *after,
		Previous:   previous,
		ChangedBy:  actor.Role,
		OccurredAt: after.UpdatedAt,
	})
}

// ListByProvider returns a provider's bookings ordered by date then time.
func (s *Service) ListByProvider(ctx context.Context, actor Actor, providerID string, filter ListFilter) ([]*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list_by_provider")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.provider_id", providerID))

	list, err := s.listByProvider(ctx, actor, strings.TrimSpace(providerID), filter)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return list, nil
}

func (s *Service) listByProvider(ctx context.Context, actor Actor, providerID string, filter ListFilter) ([]*Booking, error) {
	if !s.canSeeProvider(actor, providerID) {
		return nil, ErrNotFound
	}
	if _, err := s.calc.template(ctx, providerID); err != nil {
		return nil, err
	}
	for _, d := range []*string{&filter.Date, &filter.From, &filter.To} {
		if *d == "" {
			continue
		}
		normalized, err := normalizeDate(*d)
		if err != nil {
			return nil, err
		}
		*d = normalized
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, validationError("status", "invalid status filter")
	}

	list, err := s.repo.ListByProvider(ctx, providerID, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*Booking{}
	}
	return list, nil
}

// AuditTrail lists the recorded changes of a booking.
func (s *Service) AuditTrail(ctx context.Context, actor Actor, reference string, fields []string) ([]AuditEntry, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.audit_trail")
	defer span.End()

	if actor.Role == RolePatient {
		return nil, ErrNotFound
	}
	if _, err := s.load(ctx, reference, actor, ""); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	entries, err := s.auditLog.ListForBooking(ctx, reference, fields)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// load fetches a booking and applies the actor's access rule.
func (s *Service) load(ctx context.Context, reference string, actor Actor, token string) (*Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrNotFound
	}
	b, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch actor.Role {
	case RolePatient:
		if !tokenMatches(token, b.TokenHash) || !s.now().Before(b.TokenExpiresAt) {
			return nil, ErrNotFound
		}
	case RoleProvider, RoleStaff:
		if !s.canSeeProvider(actor, b.ProviderID) {
			return nil, ErrNotFound
		}
	default:
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *Service) canSeeProvider(actor Actor, providerID string) bool {
	switch actor.Role {
	case RoleStaff:
		return true
	case RoleProvider:
		return actor.ID != "" && actor.ID == providerID
	}
	return false
}

// normalize validates the request before any persistence access.
func (r *UpdateRequest) normalize(actor Actor) error {
	if actor.Role == RolePatient {
		if r.ProviderID != nil {
			return validationError("provider_id", "patients may not change provider")
		}
		if r.LocationID != nil {
			return validationError("location_id", "patients may not change location")
		}
	}
	if r.ProviderID != nil {
		v := strings.TrimSpace(*r.ProviderID)
		if v == "" {
			return validationError("provider_id", "provider_id cannot be empty")
		}
		r.ProviderID = &v
	}
	if r.LocationID != nil {
		v := strings.TrimSpace(*r.LocationID)
		if v == "" {
			return validationError("location_id", "location_id cannot be empty")
		}
		r.LocationID = &v
	}
	if r.Date != nil {
		v, err := normalizeDate(*r.Date)
		if err != nil {
			return err
		}
		r.Date = &v
	}
	if r.Time != nil {
		v, err := normalizeTime(*r.Time)
		if err != nil {
			return err
		}
		r.Time = &v
	}
	if r.Status != nil {
		v, err := ParseStatus(string(*r.Status))
		if err != nil {
			return err
		}
		r.Status = &v
	}
	if r.Notes != nil && len(*r.Notes) > maxNotesLength {
		return validationError("notes", "notes exceed maximum length")
	}
	if r.PatientName != nil {
		v := strings.TrimSpace(*r.PatientName)
		if v == "" {
			return validationError("patient.name", "patient name cannot be empty")
		}
		r.PatientName = &v
	}
	if r.PatientEmail != nil {
		v := strings.TrimSpace(*r.PatientEmail)
		r.PatientEmail = &v
	}
	if r.PatientPhone != nil {
		v := strings.TrimSpace(*r.PatientPhone)
		r.PatientPhone = &v
	}
	return nil
}

func (r *UpdateRequest) apply(b *Booking) {
	if r.ProviderID != nil {
		b.ProviderID = *r.ProviderID
	}
	if r.LocationID != nil {
		b.LocationID = *r.LocationID
	}
	if r.Date != nil {
		b.Date = *r.Date
	}
	if r.Time != nil {
		b.Time = *r.Time
	}
	if r.Notes != nil {
		b.Notes = *r.Notes
	}
	if r.PatientName != nil {
		b.Patient.Name = *r.PatientName
	}
	if r.PatientEmail != nil {
		b.Patient.Email = *r.PatientEmail
	}
	if r.PatientPhone != nil {
		b.Patient.Phone = *r.PatientPhone
	}
}

func fieldNames(diffs []FieldDiff) []string {
	names := make([]string, 0, len(diffs))
	for _, d := range diffs {
		names = append(names, d.Field)
	}
	return names
}

func resultLabel(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
