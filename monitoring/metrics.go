package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"culturepass/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickets_total",
			Help: "Current number of tickets per lifecycle status",
		},
		[]string{"status"},
	)

	ticketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Ticket lifecycle transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	reconcileEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Payment notifications by source, type and outcome",
		},
		[]string{"source", "type", "outcome"},
	)

	registryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cpid_issue_attempts",
			Help:    "Insert attempts needed to issue a public identifier",
			Buckets: []float64{1, 2, 3, 5, 10, 15, 20},
		},
		[]string{"kind"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_duration_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "outcome"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// StatusCounter is the slice of the ticket store the monitor reads.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.TicketStatus]int, error)
}

type Monitor struct {
	tickets  StatusCounter
	interval time.Duration
}

func NewMonitor(tickets StatusCounter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{tickets: tickets, interval: interval}
}

// Run collects gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collectMetrics(ctx)
	for {
		select {
		case <-ticker.C:
			m.collectMetrics(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	counts, err := m.tickets.CountByStatus(ctx)
	if err != nil {
		slog.Warn("monitor: count tickets by status", "error", err)
	} else {
		for _, s := range []models.TicketStatus{
			models.TicketPending, models.TicketConfirmed, models.TicketUsed,
			models.TicketCancelled, models.TicketExpired,
		} {
			ticketsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
		}
	}

	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

func TrackTransition(action, outcome string) {
	ticketTransitions.WithLabelValues(action, outcome).Inc()
}

func TrackCheckout(outcome string) {
	checkoutOutcomes.WithLabelValues(outcome).Inc()
}

func TrackNotification(source, typ, outcome string) {
	reconcileEvents.WithLabelValues(source, typ, outcome).Inc()
}

func TrackIssueAttempts(kind string, attempts int) {
	registryAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

func TrackRateLimited(action string) {
	rateLimited.WithLabelValues(action).Inc()
}

func TrackGatewayCall(provider, operation string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayLatency.WithLabelValues(provider, operation, outcome).Observe(d.Seconds())
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
