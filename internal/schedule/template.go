// Package schedule supplies the per-provider daily slot templates that bookable
// availability is derived from.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SlotLayout is the wire format for a time-of-day slot.
const SlotLayout = "15:04"

// ErrUnknownProvider is returned when no template exists for a provider.
var ErrUnknownProvider = errors.New("schedule: unknown provider")

// Provider looks up the ordered list of bookable slots for a provider.
type Provider interface {
	TemplateFor(ctx context.Context, providerID string) ([]string, error)
}

// Static is an immutable, configuration-backed template provider.
type Static struct {
	templates map[string][]string
}

// NewStatic builds a static provider, normalizing each template.
func NewStatic(templates map[string][]string) (*Static, error) {
	out := make(map[string][]string, len(templates))
	for providerID, slots := range templates {
		providerID = strings.TrimSpace(providerID)
		if providerID == "" {
			return nil, errors.New("schedule: empty provider id")
		}
		normalized, err := NormalizeSlots(slots)
		if err != nil {
			return nil, fmt.Errorf("schedule: provider %s: %w", providerID, err)
		}
		out[providerID] = normalized
	}
	return &Static{templates: out}, nil
}

// ParseStatic decodes a JSON object of provider id to slot list, e.g.
// {"P1": ["09:00", "10:00"]}. An empty string yields an empty provider.
func ParseStatic(raw string) (*Static, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Static{templates: map[string][]string{}}, nil
	}
	var templates map[string][]string
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		return nil, fmt.Errorf("schedule: parse templates: %w", err)
	}
	return NewStatic(templates)
}

// TemplateFor returns a copy of the configured slots.
func (s *Static) TemplateFor(_ context.Context, providerID string) ([]string, error) {
	if s == nil {
		return nil, ErrUnknownProvider
	}
	slots, ok := s.templates[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return append([]string(nil), slots...), nil
}

// NormalizeSlots validates HH:MM values, rewrites them in canonical form
// ("9:00" becomes "09:00") and rejects duplicates. Order is preserved.
func NormalizeSlots(slots []string) ([]string, error) {
	if len(slots) == 0 {
		return nil, errors.New("template has no slots")
	}
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, raw := range slots {
		slot, err := NormalizeSlot(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[slot]; dup {
			return nil, fmt.Errorf("duplicate slot %s", slot)
		}
		seen[slot] = struct{}{}
		out = append(out, slot)
	}
	return out, nil
}

// NormalizeSlot parses a single time-of-day and returns it as HH:MM. A
// seconds component is accepted only when it is zero.
func NormalizeSlot(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{SlotLayout, "3:04", "15:04:05"} {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// Slots start on the minute; other seconds would name a different time.
		if t.Second() != 0 {
			break
		}
		return t.Format(SlotLayout), nil
	}
	return "", fmt.Errorf("invalid slot %q", raw)
}
