package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking/internal/schedule"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// fixtureNow is the day before the booked date in most scenarios.
var fixtureNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Type)
	}
	return out
}

type countingObserver struct {
	mu            sync.Mutex
	creates       map[string]int
	conflicts     map[string]int
	transitions   []string
	auditFailures int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{creates: map[string]int{}, conflicts: map[string]int{}}
}

func (o *countingObserver) ObserveCreate(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creates[result]++
}

func (o *countingObserver) ObserveSlotConflict(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts[stage]++
}

func (o *countingObserver) ObserveTransition(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from+"->"+to)
}

func (o *countingObserver) ObserveAuditFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auditFailures++
}

func (o *countingObserver) ObserveAvailability(float64) {}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	audit    *MemoryAuditStore
	notifier *recordingNotifier
	observer *countingObserver
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithAudit(t, nil)
}

func newFixtureWithAudit(t *testing.T, store AuditStore) *fixture {
	t.Helper()
	templates, err := schedule.NewStatic(map[string][]string{
		"P1": {"09:00", "10:00", "11:00"},
		"P2": {"14:00", "15:00"},
	})
	require.NoError(t, err)

	f := &fixture{
		repo:     NewMemoryRepository(),
		audit:    NewMemoryAuditStore(),
		notifier: &recordingNotifier{},
		observer: newCountingObserver(),
		clock:    &testClock{now: fixtureNow},
	}
	if store == nil {
		store = f.audit
	}
	f.svc = NewService(ServiceOptions{
		Repository:    f.repo,
		Templates:     templates,
		Audit:         store,
		Notifier:      f.notifier,
		Observer:      f.observer,
		Logger:        logging.NewWithFormat("error", "json", nil),
		Location:      time.UTC,
		MinLeadTime:   time.Hour,
		TokenValidity: 72 * time.Hour,
		Retry:         DefaultRetryPolicy(),
		Now:           f.clock.Now,
	})
	return f
}

func createRequest(providerID, date, slot string) CreateRequest {
	return CreateRequest{
		ProviderID:  providerID,
		LocationID:  "downtown",
		Date:        date,
		Time:        slot,
		Patient:     Patient{Name: "Ana Ruiz", Email: "ana@example.com"},
		ServiceCode: "botox",
	}
}

func (f *fixture) book(t *testing.T, providerID, date, slot string) *CreateResult {
	t.Helper()
	res, err := f.svc.Create(context.Background(), createRequest(providerID, date, slot))
	require.NoError(t, err)
	return res
}
