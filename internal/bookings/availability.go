package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-booking/internal/schedule"
)

// ActiveTimeLister returns the times already held by active bookings.
type ActiveTimeLister interface {
	ActiveTimes(ctx context.Context, providerID, date string) ([]string, error)
}

// Calculator derives bookable slots from a provider's template minus the
// times held by active bookings. Results are recomputed on every call.
type Calculator struct {
	templates schedule.Provider
	bookings  ActiveTimeLister
	loc       *time.Location
	minLead   time.Duration
	now       func() time.Time
}

// NewCalculator creates an availability calculator. Dates and times are
// interpreted in loc; slots earlier than now+minLead are not bookable.
func NewCalculator(templates schedule.Provider, bookings ActiveTimeLister, loc *time.Location, minLead time.Duration) *Calculator {
	if templates == nil || bookings == nil {
		panic("bookings: calculator requires templates and bookings")
	}
	if loc == nil {
		loc = time.UTC
	}
	if minLead < 0 {
		minLead = 0
	}
	return &Calculator{
		templates: templates,
		bookings:  bookings,
		loc:       loc,
		minLead:   minLead,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	if now != nil {
		c.now = now
	}
	return c
}

// AvailableSlots returns the free times for a provider on a date in template
// order. Dates before the earliest bookable day fail with DateNotBookable so
// callers can tell "fully booked" apart from "not bookable".
func (c *Calculator) AvailableSlots(ctx context.Context, providerID, date string) ([]string, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	template, err := c.template(ctx, providerID)
	if err != nil {
		return nil, err
	}

	earliest := c.earliest()
	day, _ := time.ParseInLocation(DateLayout, date, c.loc)
	if day.Before(startOfDay(earliest)) {
		return []string{}, &Error{
			Kind:    KindDateNotBookable,
			Field:   "date",
			Message: fmt.Sprintf("%s is before the earliest bookable date %s", date, earliest.Format(DateLayout)),
		}
	}

	occupied, err := c.bookings.ActiveTimes(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("bookings: load active times: %w", err)
	}
	taken := make(map[string]struct{}, len(occupied))
	for _, t := range occupied {
		taken[t] = struct{}{}
	}

	free := make([]string, 0, len(template))
	for _, slot := range template {
		if _, ok := taken[slot]; ok {
			continue
		}
		start, err := c.slotStart(date, slot)
		if err != nil || start.Before(earliest) {
			continue
		}
		free = append(free, slot)
	}
	return free, nil
}

// checkSlot validates that a requested slot exists in the provider's template
// and lies outside the lead window. Failures are validation errors because
// they describe bad input rather than a taken slot.
func (c *Calculator) checkSlot(ctx context.Context, slot Slot) error {
	template, err := c.template(ctx, slot.ProviderID)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			return validationError("provider_id", "unknown provider")
		}
		return err
	}
	inTemplate := false
	for _, t := range template {
		if t == slot.Time {
			inTemplate = true
			break
		}
	}
	if !inTemplate {
		return validationError("time", fmt.Sprintf("%s is not a bookable time for this provider", slot.Time))
	}
	start, err := c.slotStart(slot.Date, slot.Time)
	if err != nil {
		return err
	}
	if start.Before(c.earliest()) {
		return validationError("date", "requested slot is in the past or inside the minimum lead time")
	}
	return nil
}

func (c *Calculator) template(ctx context.Context, providerID string) ([]string, error) {
	template, err := c.templates.TemplateFor(ctx, providerID)
	if err != nil {
		if errors.Is(err, schedule.ErrUnknownProvider) {
			return nil, &Error{Kind: KindUnknownProvider, Field: "provider_id", Message: fmt.Sprintf("unknown provider %s", providerID)}
		}
		return nil, fmt.Errorf("bookings: load template: %w", err)
	}
	return template, nil
}

func (c *Calculator) earliest() time.Time {
	return c.now().In(c.loc).Add(c.minLead)
}

func (c *Calculator) slotStart(date, slot string) (time.Time, error) {
	start, err := time.ParseInLocation(DateLayout+" "+schedule.SlotLayout, date+" "+slot, c.loc)
	if err != nil {
		return time.Time{}, validationError("time", "time must be formatted HH:MM")
	}
	return start, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
