package bookings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusPtr(s Status) *Status { return &s }

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusScheduled, StatusConfirmed, StatusRescheduled, StatusCancelled, StatusCompleted, StatusNoShow}
	legal := map[[2]Status]bool{
		{StatusScheduled, StatusConfirmed}:     true,
		{StatusScheduled, StatusRescheduled}:   true,
		{StatusScheduled, StatusCancelled}:     true,
		{StatusScheduled, StatusNoShow}:        true,
		{StatusScheduled, StatusCompleted}:     true,
		{StatusConfirmed, StatusRescheduled}:   true,
		{StatusConfirmed, StatusCancelled}:     true,
		{StatusConfirmed, StatusNoShow}:        true,
		{StatusConfirmed, StatusCompleted}:     true,
		{StatusRescheduled, StatusConfirmed}:   true,
		{StatusRescheduled, StatusCancelled}:   true,
		{StatusRescheduled, StatusNoShow}:      true,
		{StatusRescheduled, StatusCompleted}:   true,
	}
	staff := Actor{Role: RoleStaff}

	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			got, err := Transition(staff, from, statusPtr(to), false)
			if legal[[2]Status{from, to}] {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, KindIllegalTransition, KindOf(err), "%s -> %s", from, to)
			assert.Equal(t, from, got)
		}
	}
}

func TestTransitionTerminalStatesRejectEverything(t *testing.T) {
	staff := Actor{Role: RoleStaff}
	for _, terminal := range []Status{StatusCancelled, StatusCompleted, StatusNoShow} {
		assert.True(t, terminal.IsTerminal())

		_, err := Transition(staff, terminal, statusPtr(StatusScheduled), false)
		assert.Equal(t, KindIllegalTransition, KindOf(err))

		_, err = Transition(staff, terminal, nil, true)
		assert.Equal(t, KindIllegalTransition, KindOf(err), "slot change on %s", terminal)
	}
}

func TestTransitionCompletedToScheduledCarriesStatuses(t *testing.T) {
	_, err := Transition(Actor{Role: RoleStaff}, StatusCompleted, statusPtr(StatusScheduled), false)
	require.Error(t, err)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, StatusCompleted, be.From)
	assert.Equal(t, StatusScheduled, be.To)
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	got, err := Transition(Actor{Role: RoleStaff}, StatusConfirmed, statusPtr(StatusConfirmed), false)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got)

	got, err = Transition(Actor{Role: RoleStaff}, StatusCancelled, statusPtr(StatusCancelled), false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got)
}

func TestTransitionImplicitReschedule(t *testing.T) {
	got, err := Transition(PatientActor(), StatusScheduled, nil, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, got)

	got, err = Transition(PatientActor(), StatusRescheduled, nil, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, got)

	got, err = Transition(Actor{Role: RoleStaff}, StatusScheduled, statusPtr(StatusConfirmed), true)
	require.NoError(t, err, "explicit active status may accompany a slot change")
	assert.Equal(t, StatusConfirmed, got)
}

func TestTransitionPatientRestrictions(t *testing.T) {
	patient := PatientActor()

	got, err := Transition(patient, StatusScheduled, statusPtr(StatusCancelled), false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got)

	for _, target := range []Status{StatusConfirmed, StatusCompleted, StatusNoShow} {
		_, err := Transition(patient, StatusScheduled, statusPtr(target), false)
		assert.Equal(t, KindIllegalTransition, KindOf(err), "patient -> %s", target)
	}

	_, err = Transition(patient, StatusScheduled, statusPtr(StatusRescheduled), false)
	assert.Equal(t, KindIllegalTransition, KindOf(err), "reschedule needs a new slot")
}

func TestTransitionSlotChangeWithInactiveTarget(t *testing.T) {
	_, err := Transition(Actor{Role: RoleStaff}, StatusScheduled, statusPtr(StatusCancelled), true)
	assert.Equal(t, KindIllegalTransition, KindOf(err))
}

func TestTransitionUnknownStatus(t *testing.T) {
	_, err := Transition(Actor{Role: RoleStaff}, StatusScheduled, statusPtr(Status("archived")), false)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" No-Show ")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, s)

	_, err = ParseStatus("pending")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActiveStatuses(t *testing.T) {
	for _, s := range ActiveStatuses {
		assert.True(t, s.IsActive())
		assert.False(t, s.IsTerminal())
	}
	for _, s := range []Status{StatusCancelled, StatusCompleted, StatusNoShow} {
		assert.False(t, s.IsActive())
	}
}
