package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookingColumnNames = []string{
	"reference", "token_hash", "token_expires_at", "provider_id", "location_id",
	"slot_date", "slot_time", "patient_name", "patient_email", "patient_phone",
	"service_code", "notes", "status", "version", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresRepositoryWithQuerier(mock), mock
}

func sampleBooking() *Booking {
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	return &Booking{
		Reference:      "SB-20250610-ABCDEF",
		TokenHash:      HashToken("tok"),
		TokenExpiresAt: now.Add(72 * time.Hour),
		ProviderID:     "P1",
		LocationID:     "downtown",
		Date:           "2025-06-10",
		Time:           "09:00",
		Patient:        Patient{Name: "Ana Ruiz", Email: "ana@example.com"},
		ServiceCode:    "botox",
		Status:         StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func insertArgs() []any {
	args := make([]any, 16)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()

	mock.ExpectExec("INSERT INTO bookings").WithArgs(insertArgs()...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), b))
	assert.Equal(t, 1, b.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertActiveSlotViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO bookings").WithArgs(insertArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_active_slot_uidx"})

	err := repo.Insert(context.Background(), sampleBooking())
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertDuplicateReference(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO bookings").WithArgs(insertArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_pkey"})

	err := repo.Insert(context.Background(), sampleBooking())
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
}

func TestPostgresFindActiveConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	slot := Slot{ProviderID: "P1", Date: "2025-06-10", Time: "09:00"}

	mock.ExpectQuery("SELECT reference").
		WithArgs("P1", pgxmock.AnyArg(), "09:00", "").
		WillReturnRows(pgxmock.NewRows([]string{"reference"}).AddRow("SB-20250610-ABCDEF"))
	mock.ExpectQuery("SELECT reference").
		WithArgs("P1", pgxmock.AnyArg(), "09:00", "SB-20250610-ABCDEF").
		WillReturnError(pgx.ErrNoRows)

	holder, taken, err := repo.FindActiveConflict(context.Background(), slot, "")
	require.NoError(t, err)
	assert.True(t, taken)
	assert.Equal(t, "SB-20250610-ABCDEF", holder)

	_, taken, err = repo.FindActiveConflict(context.Background(), slot, "SB-20250610-ABCDEF")
	require.NoError(t, err)
	assert.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresActiveTimes(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT slot_time").
		WithArgs("P1", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"slot_time"}).AddRow("09:00").AddRow("11:00"))

	times, err := repo.ActiveTimes(context.Background(), "P1", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "11:00"}, times)
}

func TestPostgresUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.Time = "10:00"
	b.Status = StatusRescheduled

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("UPDATE bookings").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), b, 3))
	assert.Equal(t, 4, b.Version)
}

func TestPostgresUpdateStaleAndMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	mock.ExpectExec("UPDATE bookings").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM bookings WHERE reference").WithArgs(b.Reference).
		WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))

	assert.ErrorIs(t, repo.Update(context.Background(), b, 1), ErrStaleBooking)

	mock.ExpectExec("UPDATE bookings").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM bookings WHERE reference").WithArgs(b.Reference).
		WillReturnError(pgx.ErrNoRows)

	assert.ErrorIs(t, repo.Update(context.Background(), b, 1), ErrBookingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSlotViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("UPDATE bookings").WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_active_slot_uidx"})

	assert.ErrorIs(t, repo.Update(context.Background(), sampleBooking(), 1), ErrSlotConflict)
}

func bookingRow(b *Booking) []any {
	day, _ := time.Parse(DateLayout, b.Date)
	return []any{
		b.Reference, b.TokenHash, b.TokenExpiresAt, b.ProviderID, b.LocationID,
		day, b.Time, b.Patient.Name, b.Patient.Email, b.Patient.Phone,
		b.ServiceCode, b.Notes, string(b.Status), 2, b.CreatedAt, b.UpdatedAt,
	}
}

func TestPostgresGetByReference(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()

	mock.ExpectQuery("SELECT reference, token_hash").WithArgs(b.Reference).
		WillReturnRows(pgxmock.NewRows(bookingColumnNames).AddRow(bookingRow(b)...))

	got, err := repo.GetByReference(context.Background(), b.Reference)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", got.Date)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, b.Patient, got.Patient)

	mock.ExpectQuery("SELECT reference, token_hash").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetByReference(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestPostgresListByProviderFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	cancelled := StatusCancelled
	b.Status = cancelled

	mock.ExpectQuery(`provider_id = \$1 AND status = \$2 AND slot_date >= \$3 AND slot_date <= \$4 ORDER BY slot_date, slot_time, created_at`).
		WithArgs("P1", "cancelled", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(bookingColumnNames).AddRow(bookingRow(b)...))

	list, err := repo.ListByProvider(context.Background(), "P1", ListFilter{Status: &cancelled, From: "2025-06-01", To: "2025-06-30"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusCancelled, list[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
