package bookings

import (
	"context"
	"sort"
	"sync"
)

// Repository is the persistence boundary of the booking core. Implementations
// must enforce, at commit time, that no two active bookings share a slot
// (ErrSlotConflict) and that references and token hashes are never reused
// (ErrDuplicateIdentifier).
type Repository interface {
	IdentifierProbe

	// FindActiveConflict returns the reference of an active booking holding
	// slot, ignoring excludingReference.
	FindActiveConflict(ctx context.Context, slot Slot, excludingReference string) (string, bool, error)
	// ActiveTimes lists the occupied times for a provider on a date.
	ActiveTimes(ctx context.Context, providerID, date string) ([]string, error)
	Insert(ctx context.Context, b *Booking) error
	// Update persists b only if the stored version equals expectedVersion,
	// returning ErrStaleBooking otherwise. On success b.Version is advanced.
	Update(ctx context.Context, b *Booking, expectedVersion int) error
	GetByReference(ctx context.Context, reference string) (*Booking, error)
	ListByProvider(ctx context.Context, providerID string, filter ListFilter) ([]*Booking, error)
}

// MemoryRepository is an in-process Repository used for local development
// and tests. Its mutex stands in for the database's unique indexes.
type MemoryRepository struct {
	mu          sync.Mutex
	bookings    map[string]*Booking
	tokens      map[string]string
	activeSlots map[Slot]string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings:    make(map[string]*Booking),
		tokens:      make(map[string]string),
		activeSlots: make(map[Slot]string),
	}
}

func (r *MemoryRepository) ReferenceExists(_ context.Context, reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bookings[reference]
	return ok, nil
}

func (r *MemoryRepository) TokenExists(_ context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[tokenHash]
	return ok, nil
}

func (r *MemoryRepository) FindActiveConflict(_ context.Context, slot Slot, excludingReference string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.activeSlots[slot]
	if !ok || ref == excludingReference {
		return "", false, nil
	}
	return ref, true, nil
}

func (r *MemoryRepository) ActiveTimes(_ context.Context, providerID, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var times []string
	for slot := range r.activeSlots {
		if slot.ProviderID == providerID && slot.Date == date {
			times = append(times, slot.Time)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r *MemoryRepository) Insert(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bookings[b.Reference]; ok {
		return ErrDuplicateIdentifier
	}
	if _, ok := r.tokens[b.TokenHash]; ok {
		return ErrDuplicateIdentifier
	}
	if b.IsActive() {
		if _, taken := r.activeSlots[b.Slot()]; taken {
			return ErrSlotConflict
		}
		r.activeSlots[b.Slot()] = b.Reference
	}
	if b.Version == 0 {
		b.Version = 1
	}
	r.bookings[b.Reference] = b.clone()
	r.tokens[b.TokenHash] = b.Reference
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, b *Booking, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[b.Reference]
	if !ok {
		return ErrBookingNotFound
	}
	if stored.Version != expectedVersion {
		return ErrStaleBooking
	}

	if b.IsActive() {
		if holder, taken := r.activeSlots[b.Slot()]; taken && holder != b.Reference {
			return ErrSlotConflict
		}
	}
	if stored.IsActive() {
		delete(r.activeSlots, stored.Slot())
	}
	if b.IsActive() {
		r.activeSlots[b.Slot()] = b.Reference
	}

	b.Version = expectedVersion + 1
	r.bookings[b.Reference] = b.clone()
	return nil
}

func (r *MemoryRepository) GetByReference(_ context.Context, reference string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[reference]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return b.clone(), nil
}

func (r *MemoryRepository) ListByProvider(_ context.Context, providerID string, filter ListFilter) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Booking
	for _, b := range r.bookings {
		if b.ProviderID != providerID || !filter.matches(b) {
			continue
		}
		out = append(out, b.clone())
	}
	sortBookings(out)
	return out, nil
}

func (f ListFilter) matches(b *Booking) bool {
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	if f.Date != "" && b.Date != f.Date {
		return false
	}
	if f.From != "" && b.Date < f.From {
		return false
	}
	if f.To != "" && b.Date > f.To {
		return false
	}
	return true
}

func sortBookings(list []*Booking) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		if list[i].Time != list[j].Time {
			return list[i].Time < list[j].Time
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
