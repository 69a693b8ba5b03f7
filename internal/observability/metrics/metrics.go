package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for booking flows. It satisfies
// the booking service observer and the notification delivery observers.
type BookingMetrics struct {
	createsTotal        *prometheus.CounterVec
	slotConflictsTotal  *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	auditFailuresTotal  prometheus.Counter
	availabilityLatency prometheus.Histogram
	dispatchTotal       *prometheus.CounterVec
	deliveryTotal       *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "bookings",
			Name:      "create_total",
			Help:      "Booking create attempts by result",
		}, []string{"result"}),
		slotConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "bookings",
			Name:      "slot_conflicts_total",
			Help:      "Slot conflicts detected, by detection stage",
		}, []string{"stage"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "bookings",
			Name:      "status_transitions_total",
			Help:      "Committed booking status transitions",
		}, []string{"from", "to"}),
		auditFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "bookings",
			Name:      "audit_write_failures_total",
			Help:      "Audit writes that failed after a committed update",
		}),
		availabilityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "bookings",
			Name:      "availability_latency_seconds",
			Help:      "Latency of availability calculations",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification hand-offs by event type and result",
		}, []string{"event_type", "result"}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "notify",
			Name:      "outbox_delivery_total",
			Help:      "Outbox deliveries by event type and result",
		}, []string{"event_type", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.createsTotal,
		m.slotConflictsTotal,
		m.transitionsTotal,
		m.auditFailuresTotal,
		m.availabilityLatency,
		m.dispatchTotal,
		m.deliveryTotal,
	)
	return m
}

func (m *BookingMetrics) ObserveCreate(result string) {
	if m == nil {
		return
	}
	m.createsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict(stage string) {
	if m == nil {
		return
	}
	m.slotConflictsTotal.WithLabelValues(stage).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailuresTotal.Inc()
}

func (m *BookingMetrics) ObserveAvailability(seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveDispatch(eventType, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(eventType, result).Inc()
}

func (m *BookingMetrics) ObserveDelivery(eventType, result string) {
	if m == nil {
		return
	}
	m.deliveryTotal.WithLabelValues(eventType, result).Inc()
}

// HTTPMetrics records request counts and latencies per route pattern.
type HTTPMetrics struct {
	inFlight        prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medspa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "In-flight HTTP requests",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inFlight, m.requestsTotal, m.requestDuration)
	return m
}

// Instrument wraps next. Routes are labelled by chi pattern so booking
// references do not explode label cardinality.
func (m *HTTPMetrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		labels := []string{r.Method, route, strconv.Itoa(status)}
		m.requestsTotal.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}
