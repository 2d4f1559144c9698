package gateway

import (
	"context"
	"time"

	"culturepass/monitoring"
	"culturepass/utils"
)

// Guarded bounds every outbound call of a gateway with a timeout and a
// circuit breaker.
type Guarded struct {
	inner   Gateway
	timeout time.Duration
	breaker *utils.CircuitBreaker
}

func NewGuarded(inner Gateway, timeout time.Duration, breaker *utils.CircuitBreaker) *Guarded {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if breaker == nil {
		breaker = utils.NewCircuitBreaker("payment-gateway")
	}
	return &Guarded{inner: inner, timeout: timeout, breaker: breaker}
}

// Unwrap returns the wrapped gateway.
func (g *Guarded) Unwrap() Gateway {
	return g.inner
}

func (g *Guarded) Provider() Provider {
	return g.inner.Provider()
}

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.breaker.Execute(ctx, func() (any, error) {
		return fn(ctx)
	})
	monitoring.TrackGatewayCall(string(g.inner.Provider()), op, err, time.Since(start))
	return res, err
}

func (g *Guarded) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	res, err := g.call(ctx, "create_session", func(ctx context.Context) (any, error) {
		return g.inner.CreateCheckoutSession(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*CheckoutSession), nil
}

func (g *Guarded) RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	res, err := g.call(ctx, "retrieve_session", func(ctx context.Context) (any, error) {
		return g.inner.RetrieveSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*SessionStatus), nil
}

func (g *Guarded) Refund(ctx context.Context, paymentRef string) (string, error) {
	res, err := g.call(ctx, "refund", func(ctx context.Context) (any, error) {
		return g.inner.Refund(ctx, paymentRef)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// ParseNotification is local verification and bypasses the breaker.
func (g *Guarded) ParseNotification(payload []byte, signature string) (*Notification, error) {
	return g.inner.ParseNotification(payload, signature)
}
