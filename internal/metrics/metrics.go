// Package metrics exposes prometheus collectors for the locker service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_reconciliations_total",
			Help: "Reconciliation passes by outcome (ok, degraded, error)",
		},
		[]string{"outcome"},
	)

	Degraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "locker_degraded",
			Help: "1 while the locker table is running on unverified last-known state",
		},
	)

	LockersByPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locker_lockers",
			Help: "Number of lockers by phase",
		},
		[]string{"phase"},
	)

	HardwareRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_hardware_requests_total",
			Help: "Requests to the locker controller by operation and result",
		},
		[]string{"operation", "result"},
	)

	HardwareRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locker_hardware_request_duration_seconds",
			Help:    "Locker controller request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DoorCloseWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "locker_door_close_wait_seconds",
			Help:    "Time between a pickup open and the confirmed door close",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	PickupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_pickups_total",
			Help: "Pickup attempts by outcome",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locker_notifications_total",
			Help: "Push notifications by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationsTotal)
	prometheus.MustRegister(Degraded)
	prometheus.MustRegister(LockersByPhase)
	prometheus.MustRegister(HardwareRequestsTotal)
	prometheus.MustRegister(HardwareRequestDuration)
	prometheus.MustRegister(DoorCloseWait)
	prometheus.MustRegister(PickupsTotal)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler returns the prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on the given observer.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}

// SetDegraded mirrors the table's degraded flag.
func SetDegraded(degraded bool) {
	if degraded {
		Degraded.Set(1)
		return
	}
	Degraded.Set(0)
}
