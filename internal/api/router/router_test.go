package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking/internal/bookings"
	httpmiddleware "github.com/wolfman30/medspa-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/schedule"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const testSecret = "router-secret"

var routerNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.NewWithFormat("error", "json", nil)
	static, err := schedule.NewStatic(map[string][]string{
		"P1": {"09:00", "10:00"},
	})
	if err != nil {
		t.Fatalf("static templates: %v", err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	templates := schedule.NewRedisStore(client, static)

	svc := bookings.NewService(bookings.ServiceOptions{
		Repository:  bookings.NewMemoryRepository(),
		Templates:   templates,
		Logger:      logger,
		MinLeadTime: time.Hour,
		Now:         func() time.Time { return routerNow },
	})

	cfg := &Config{
		Logger:         logger,
		Bookings:       bookings.NewHandler(svc, ActorFromRequest, logger),
		Templates:      schedule.NewHandler(templates, logger),
		StaffJWTSecret: testSecret,
		HTTPMetrics:    metrics.NewHTTPMetrics(prometheus.NewRegistry()),
	}
	return New(cfg)
}

func bearer(t *testing.T, role, subject string) string {
	t.Helper()
	claims := httpmiddleware.StaffClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func do(router http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := do(router, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterBookingFlow(t *testing.T) {
	router := newTestRouter(t)

	rr := do(router, http.MethodPost, "/bookings/", "", bookings.CreateRequest{
		ProviderID:  "P1",
		LocationID:  "downtown",
		Date:        "2025-06-10",
		Time:        "09:00",
		Patient:     bookings.Patient{Name: "Ana Ruiz", Email: "ana@example.com"},
		ServiceCode: "botox",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
	var created bookings.CreateResult
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	rr = do(router, http.MethodGet, "/providers/P1/availability?date=2025-06-10", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected availability 200, got %d", rr.Code)
	}
	var avail struct {
		Slots []string `json:"slots"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&avail)
	if len(avail.Slots) != 1 || avail.Slots[0] != "10:00" {
		t.Fatalf("expected [10:00], got %v", avail.Slots)
	}

	req := httptest.NewRequest(http.MethodGet, "/bookings/"+created.Reference, nil)
	req.Header.Set(bookings.ManagementTokenHeader, created.ManagementToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected token read 200, got %d", rr.Code)
	}

	rr = do(router, http.MethodGet, "/bookings/"+created.Reference, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected anonymous read 404, got %d", rr.Code)
	}

	rr = do(router, http.MethodPatch, "/bookings/"+created.Reference, bearer(t, httpmiddleware.RoleProvider, "P1"), map[string]string{"status": "confirmed"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected provider confirm 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(router, http.MethodGet, "/bookings/"+created.Reference+"/audit", bearer(t, httpmiddleware.RoleStaff, "desk"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected audit 200, got %d", rr.Code)
	}
	var trail struct {
		Entries []bookings.AuditEntry `json:"entries"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&trail)
	if len(trail.Entries) != 1 || trail.Entries[0].Field != "status" {
		t.Fatalf("expected one status entry, got %+v", trail.Entries)
	}
}

func TestRouterStaffRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		method, path, auth string
		want               int
	}{
		{http.MethodGet, "/providers/P1/bookings", "", http.StatusUnauthorized},
		{http.MethodGet, "/providers/P1/bookings", "Bearer garbage", http.StatusUnauthorized},
		{http.MethodGet, "/providers/P1/bookings", bearer(t, httpmiddleware.RoleStaff, "desk"), http.StatusOK},
		{http.MethodGet, "/bookings/SB-20250610-AAAAAA/audit", "", http.StatusUnauthorized},
		{http.MethodGet, "/providers/P1/template", bearer(t, httpmiddleware.RoleProvider, "P1"), http.StatusForbidden},
		{http.MethodGet, "/providers/P1/template", bearer(t, httpmiddleware.RoleStaff, "desk"), http.StatusOK},
	}
	for _, tc := range cases {
		rr := do(router, tc.method, tc.path, tc.auth, nil)
		if rr.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rr.Code)
		}
	}
}

func TestRouterTemplateChangeAffectsAvailability(t *testing.T) {
	router := newTestRouter(t)
	staff := bearer(t, httpmiddleware.RoleStaff, "desk")

	rr := do(router, http.MethodPut, "/providers/P1/template", staff, map[string][]string{"slots": {"13:00", "16:00"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected template put 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(router, http.MethodGet, "/providers/P1/availability?date=2025-06-10", "", nil)
	var avail struct {
		Slots []string `json:"slots"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&avail)
	if len(avail.Slots) != 2 || avail.Slots[0] != "13:00" {
		t.Fatalf("expected template slots, got %v", avail.Slots)
	}
}
