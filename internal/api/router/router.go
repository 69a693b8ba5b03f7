package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-booking/internal/bookings"
	httpmiddleware "github.com/wolfman30/medspa-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/schedule"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Bookings           *bookings.Handler
	Templates          *schedule.Handler
	StaffJWTSecret     string
	MetricsHandler     http.Handler
	HTTPMetrics        *metrics.HTTPMetrics
	CORSAllowedOrigins []string

	// Public write limits per client IP. Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// ActorFromRequest resolves the booking actor from verified staff claims.
func ActorFromRequest(r *http.Request) (bookings.Actor, bool) {
	claims, ok := httpmiddleware.StaffFromContext(r.Context())
	if !ok {
		return bookings.Actor{}, false
	}
	switch claims.Role {
	case httpmiddleware.RoleStaff:
		return bookings.Actor{Role: bookings.RoleStaff, ID: claims.Subject}, true
	case httpmiddleware.RoleProvider:
		return bookings.Actor{Role: bookings.RoleProvider, ID: claims.Subject}, true
	default:
		return bookings.Actor{}, false
	}
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Instrument)
	}
	r.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	b := cfg.Bookings
	r.Route("/bookings", func(br chi.Router) {
		if cfg.RateLimitRPS > 0 {
			br.With(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)).Post("/", b.Create)
		} else {
			br.Post("/", b.Create)
		}
		br.Get("/{reference}", b.Get)
		br.Patch("/{reference}", b.Update)
		br.With(httpmiddleware.RequireStaff).Get("/{reference}/audit", b.AuditTrail)
	})

	r.Route("/providers/{providerID}", func(pr chi.Router) {
		pr.Get("/availability", b.Availability)
		pr.With(httpmiddleware.RequireStaff).Get("/bookings", b.ListByProvider)
		if cfg.Templates != nil {
			pr.Group(func(tr chi.Router) {
				tr.Use(httpmiddleware.RequireRole(httpmiddleware.RoleStaff))
				tr.Get("/template", cfg.Templates.Get)
				tr.Put("/template", cfg.Templates.Put)
				tr.Delete("/template", cfg.Templates.Delete)
			})
		}
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
