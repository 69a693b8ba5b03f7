package bookings

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
)

var (
	auditEntropyMu sync.Mutex
	auditEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// newAuditID returns a sortable id so entries written in one update keep
// their insertion order.
func newAuditID(at time.Time) string {
	auditEntropyMu.Lock()
	defer auditEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), auditEntropy).String()
}

// SQLAuditStore persists audit entries in the booking_audit table.
type SQLAuditStore struct {
	db *sql.DB
}

// NewSQLAuditStore creates an audit store.
func NewSQLAuditStore(db *sql.DB) *SQLAuditStore {
	if db == nil {
		panic("bookings: sql db required")
	}
	return &SQLAuditStore{db: db}
}

// Append inserts all entries in one transaction.
func (s *SQLAuditStore) Append(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bookings: begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO booking_audit (
			id, booking_reference, field, old_value, new_value, changed_by, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range entries {
		if e.ChangedAt.IsZero() {
			e.ChangedAt = time.Now().UTC()
		}
		if e.ID == "" {
			e.ID = newAuditID(e.ChangedAt)
		}
		if _, err := tx.ExecContext(ctx, query,
			e.ID,
			e.BookingReference,
			e.Field,
			e.OldValue,
			e.NewValue,
			string(e.ChangedBy),
			e.ChangedAt,
		); err != nil {
			return fmt.Errorf("bookings: insert audit entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bookings: commit audit tx: %w", err)
	}
	return nil
}

// ListForBooking returns entries for a booking in write order, optionally
// restricted to the named fields.
func (s *SQLAuditStore) ListForBooking(ctx context.Context, reference string, fields []string) ([]AuditEntry, error) {
	query := `
		SELECT id, booking_reference, field, old_value, new_value, changed_by, changed_at
		FROM booking_audit
		WHERE booking_reference = $1
	`
	args := []any{reference}
	if len(fields) > 0 {
		query += ` AND field = ANY($2)`
		args = append(args, pq.Array(fields))
	}
	query += ` ORDER BY changed_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			changedBy string
		)
		if err := rows.Scan(&e.ID, &e.BookingReference, &e.Field, &e.OldValue, &e.NewValue, &changedBy, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan audit: %w", err)
		}
		e.ChangedBy = Role(changedBy)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MemoryAuditStore keeps audit entries in process.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entries []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.ChangedAt.IsZero() {
			e.ChangedAt = time.Now().UTC()
		}
		if e.ID == "" {
			e.ID = newAuditID(e.ChangedAt)
		}
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *MemoryAuditStore) ListForBooking(_ context.Context, reference string, fields []string) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	var out []AuditEntry
	for _, e := range s.entries {
		if e.BookingReference != reference {
			continue
		}
		if len(want) > 0 && !want[e.Field] {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.Before(out[j].ChangedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
