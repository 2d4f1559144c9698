package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"culturepass/internal/lifecycle"
	"culturepass/internal/services/gateway"
	"culturepass/internal/store/memstore"
	"culturepass/models"
	"culturepass/security"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var sydney = mustLocation("Australia/Sydney")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("AEDT", 11*60*60)
	}
	return loc
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *fakeClock
	tickets  *memstore.Tickets
	registry *memstore.Registry
	gw       *gateway.SimulatedGateway
	replay   *security.MemoryReplayGuard

	registrySvc  *RegistryService
	ticketSvc    *TicketService
	checkoutSvc  *CheckoutService
	reconcileSvc *ReconcileService
	scanSvc      *ScanService
}

func newFixture(t *testing.T, opts ...TicketOption) *fixture {
	t.Helper()

	f := &fixture{clock: &fakeClock{now: time.Date(2026, 11, 8, 18, 0, 0, 0, sydney)}}
	f.tickets, f.registry = memstore.New()
	memstore.SetClock(f.tickets, f.registry, f.clock.Now)

	gw, err := gateway.NewSimulatedGateway(&gateway.SimulatedConfig{
		SigningKey: "test-key",
		BaseURL:    "http://localhost:8090",
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	f.gw = gw
	f.replay = security.NewMemoryReplayGuard(time.Hour, f.clock.Now)

	f.registrySvc = NewRegistryService(f.registry)
	opts = append([]TicketOption{WithClock(f.clock.Now)}, opts...)
	f.ticketSvc = NewTicketService(f.tickets, f.registrySvc, f.gw, opts...)

	guard := security.NewGuard(security.NewMemoryLimiter(f.clock.Now), map[string]security.Rule{
		security.ActionCheckout: {Limit: 5, Window: time.Minute},
	})
	f.checkoutSvc = NewCheckoutService(f.ticketSvc, f.tickets, f.gw, guard, "http://localhost:8090")
	f.reconcileSvc = NewReconcileService(f.ticketSvc, f.tickets, f.gw, f.replay)
	f.scanSvc = NewScanService(f.ticketSvc, sydney)
	f.scanSvc.now = f.clock.Now
	return f
}

func ticketRequest(user, event string, total string) models.TicketRequest {
	return models.TicketRequest{
		UserID:  user,
		EventID: event,
		Event: models.EventSnapshot{
			Title: "Diwali Night",
			Date:  "2026-11-08",
			Time:  "19:00",
			Venue: "Town Hall",
			Tier:  "General",
		},
		Quantity: 1,
		Total:    decimal.RequireFromString(total),
		Currency: "AUD",
	}
}

// paidTicket runs a checkout and completes its session.
func (f *fixture) paidTicket(t *testing.T, user, event string) *models.Ticket {
	t.Helper()
	ctx := context.Background()

	res, err := f.checkoutSvc.Checkout(ctx, "10.0.0."+user, ticketRequest(user, event, "45.00"))
	require.NoError(t, err)
	_, err = f.gw.Complete(res.SessionID)
	require.NoError(t, err)

	tk, err := f.reconcileSvc.ConfirmCheckout(ctx, res.SessionID, res.Ticket.ID)
	require.NoError(t, err)
	require.Equal(t, models.TicketConfirmed, tk.Status)
	return tk
}

// failingGateway refuses to open sessions.
type failingGateway struct {
	gateway.Gateway
}

func (failingGateway) CreateCheckoutSession(context.Context, *gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	return nil, errors.New("processor unavailable")
}

// flakyTickets fails the next n updates with an infrastructure error.
type flakyTickets struct {
	*memstore.Tickets
	mu       sync.Mutex
	failNext int
}

func (s *flakyTickets) Update(ctx context.Context, t *models.Ticket, prev lifecycle.State) error {
	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.Tickets.Update(ctx, t, prev)
}

// countingGateway counts refunds and can run hook before each one.
type countingGateway struct {
	gateway.Gateway
	mu      sync.Mutex
	refunds int
	hook    func()
	fail    error
}

func (g *countingGateway) Refund(ctx context.Context, paymentRef string) (string, error) {
	g.mu.Lock()
	g.refunds++
	hook, fail := g.hook, g.fail
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != nil {
		return "", fail
	}
	return g.Gateway.Refund(ctx, paymentRef)
}

func (g *countingGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunds
}
