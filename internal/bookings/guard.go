package bookings

import (
	"context"
	"errors"
	"fmt"
)

// ConflictFinder looks up an active booking holding a slot.
type ConflictFinder interface {
	FindActiveConflict(ctx context.Context, slot Slot, excludingReference string) (string, bool, error)
}

// Guard enforces that no two active bookings share a slot. The pre-check is a
// fast path only; the repository's unique index decides the race, and a
// commit rejected by it is reported as SlotTaken as well.
type Guard struct {
	finder   ConflictFinder
	observer Observer
}

// NewGuard creates a conflict guard.
func NewGuard(finder ConflictFinder, observer Observer) *Guard {
	if finder == nil {
		panic("bookings: conflict finder required")
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Guard{finder: finder, observer: observer}
}

// CheckAndReserve verifies slot is free (ignoring excludingReference) and then
// runs commit. Conflicts are never retried: the slot is genuinely gone.
func (g *Guard) CheckAndReserve(ctx context.Context, slot Slot, excludingReference string, commit func(ctx context.Context) error) error {
	holder, taken, err := g.finder.FindActiveConflict(ctx, slot, excludingReference)
	if err != nil {
		return fmt.Errorf("bookings: conflict check: %w", err)
	}
	if taken {
		g.observer.ObserveSlotConflict("precheck")
		return slotTaken(slot, fmt.Errorf("held by %s", holder))
	}

	if err := commit(ctx); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			g.observer.ObserveSlotConflict("commit")
			return slotTaken(slot, err)
		}
		return err
	}
	return nil
}

func slotTaken(slot Slot, cause error) *Error {
	return &Error{
		Kind:    KindSlotTaken,
		Message: fmt.Sprintf("slot %s %s with provider %s is no longer available", slot.Date, slot.Time, slot.ProviderID),
		Err:     cause,
	}
}
