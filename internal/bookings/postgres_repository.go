package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	// activeSlotIndex is the partial unique index enforcing one active
	// booking per (provider, date, time). See migrations.
	activeSlotIndex = "bookings_active_slot_uidx"

	activeStatusPredicate = "status IN ('scheduled', 'confirmed', 'rescheduled')"

	bookingColumns = `reference, token_hash, token_expires_at, provider_id, location_id,
		slot_date, slot_time, patient_name, patient_email, patient_phone,
		service_code, notes, status, version, created_at, updated_at`
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores bookings in Postgres.
type PostgresRepository struct {
	pool pgxQuerier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q pgxQuerier) *PostgresRepository {
	if q == nil {
		panic("bookings: querier required")
	}
	return &PostgresRepository{pool: q}
}

func (r *PostgresRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM bookings WHERE reference = $1`, reference)
}

func (r *PostgresRepository) TokenExists(ctx context.Context, tokenHash string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM bookings WHERE token_hash = $1`, tokenHash)
}

func (r *PostgresRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var one int
	if err := r.pool.QueryRow(ctx, query, arg).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("bookings: exists probe: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) FindActiveConflict(ctx context.Context, slot Slot, excludingReference string) (string, bool, error) {
	date, err := dateArg(slot.Date)
	if err != nil {
		return "", false, err
	}
	query := `
		SELECT reference
		FROM bookings
		WHERE provider_id = $1 AND slot_date = $2 AND slot_time = $3
		  AND reference <> $4
		  AND ` + activeStatusPredicate + `
		LIMIT 1
	`
	var ref string
	if err := r.pool.QueryRow(ctx, query, slot.ProviderID, date, slot.Time, excludingReference).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("bookings: find conflict: %w", err)
	}
	return ref, true, nil
}

func (r *PostgresRepository) ActiveTimes(ctx context.Context, providerID, date string) ([]string, error) {
	day, err := dateArg(date)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT slot_time
		FROM bookings
		WHERE provider_id = $1 AND slot_date = $2
		  AND ` + activeStatusPredicate + `
		ORDER BY slot_time
	`
	rows, err := r.pool.Query(ctx, query, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("bookings: active times: %w", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("bookings: scan active time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (r *PostgresRepository) Insert(ctx context.Context, b *Booking) error {
	day, err := dateArg(b.Date)
	if err != nil {
		return err
	}
	if b.Version == 0 {
		b.Version = 1
	}
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.pool.Exec(ctx, query,
		b.Reference,
		b.TokenHash,
		b.TokenExpiresAt,
		b.ProviderID,
		b.LocationID,
		day,
		b.Time,
		b.Patient.Name,
		b.Patient.Email,
		b.Patient.Phone,
		b.ServiceCode,
		b.Notes,
		string(b.Status),
		b.Version,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if mapped := classifyWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("bookings: insert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, b *Booking, expectedVersion int) error {
	day, err := dateArg(b.Date)
	if err != nil {
		return err
	}
	query := `
		UPDATE bookings
		SET provider_id = $3, location_id = $4, slot_date = $5, slot_time = $6,
		    patient_name = $7, patient_email = $8, patient_phone = $9,
		    notes = $10, status = $11, updated_at = $12, version = version + 1
		WHERE reference = $1 AND version = $2
	`
	ct, err := r.pool.Exec(ctx, query,
		b.Reference,
		expectedVersion,
		b.ProviderID,
		b.LocationID,
		day,
		b.Time,
		b.Patient.Name,
		b.Patient.Email,
		b.Patient.Phone,
		b.Notes,
		string(b.Status),
		b.UpdatedAt,
	)
	if err != nil {
		if mapped := classifyWriteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("bookings: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		found, err := r.ReferenceExists(ctx, b.Reference)
		if err != nil {
			return err
		}
		if !found {
			return ErrBookingNotFound
		}
		return ErrStaleBooking
	}
	b.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = $1`
	b, err := scanBooking(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("bookings: select failed: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) ListByProvider(ctx context.Context, providerID string, filter ListFilter) ([]*Booking, error) {
	clauses := []string{"provider_id = $1"}
	args := []any{providerID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	for _, f := range []struct {
		clause string
		value  string
	}{
		{"slot_date = $%d", filter.Date},
		{"slot_date >= $%d", filter.From},
		{"slot_date <= $%d", filter.To},
	} {
		if f.value == "" {
			continue
		}
		day, err := dateArg(f.value)
		if err != nil {
			return nil, err
		}
		add(f.clause, day)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY slot_date, slot_time, created_at`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: list by provider: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b      Booking
		day    time.Time
		status string
	)
	if err := row.Scan(
		&b.Reference,
		&b.TokenHash,
		&b.TokenExpiresAt,
		&b.ProviderID,
		&b.LocationID,
		&day,
		&b.Time,
		&b.Patient.Name,
		&b.Patient.Email,
		&b.Patient.Phone,
		&b.ServiceCode,
		&b.Notes,
		&status,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Date = day.Format(DateLayout)
	b.Status = Status(status)
	return &b, nil
}

func classifyWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == activeSlotIndex {
		return ErrSlotConflict
	}
	return ErrDuplicateIdentifier
}

func dateArg(date string) (time.Time, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, validationError("date", "date must be formatted YYYY-MM-DD")
	}
	return day, nil
}
