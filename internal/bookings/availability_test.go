package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking/internal/schedule"
)

func TestAvailableSlotsEmptyDay(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, slots)
}

func TestAvailableSlotsExcludesActiveBookings(t *testing.T) {
	f := newFixture(t)
	f.book(t, "P1", "2025-06-10", "09:00")

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00"}, slots)

	other, err := f.svc.Availability(context.Background(), "P1", "2025-06-11")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, other)
}

func TestAvailableSlotsFullyBookedIsEmptyNotError(t *testing.T) {
	f := newFixture(t)
	for _, slot := range []string{"09:00", "10:00", "11:00"} {
		f.book(t, "P1", "2025-06-10", slot)
	}

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestAvailableSlotsCancelledBookingFreesSlot(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, "P1", "2025-06-10", "10:00")

	_, err := f.svc.Update(context.Background(), res.Reference, res.ManagementToken, PatientActor(), UpdateRequest{Status: statusPtr(StatusCancelled)})
	require.NoError(t, err)

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, slots)
}

func TestAvailableSlotsPastDateNotBookable(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-08")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDateNotBookable)
	assert.Empty(t, slots)
}

func TestAvailableSlotsSameDayRespectsLeadTime(t *testing.T) {
	f := newFixture(t)
	f.clock.now = time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)

	slots, err := f.svc.Availability(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00"}, slots, "09:00 falls inside the one hour lead time")
}

func TestAvailableSlotsUnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Availability(context.Background(), "nobody", "2025-06-10")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAvailableSlotsBadDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Availability(context.Background(), "P1", "June 10")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCalculatorHonorsLocation(t *testing.T) {
	loc := time.FixedZone("clinic", -5*3600)
	templates, err := schedule.NewStatic(map[string][]string{"P1": {"09:00", "10:00"}})
	require.NoError(t, err)

	// 14:30 UTC is 09:30 at the clinic.
	now := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)
	calc := NewCalculator(templates, NewMemoryRepository(), loc, 0).WithClock(func() time.Time { return now })

	slots, err := calc.AvailableSlots(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, slots)
}

func TestCheckSlotRejectsOffTemplateTime(t *testing.T) {
	f := newFixture(t)

	err := f.svc.calc.checkSlot(context.Background(), Slot{ProviderID: "P1", Date: "2025-06-10", Time: "09:15"})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindValidation, be.Kind)
	assert.Equal(t, "time", be.Field)
}
