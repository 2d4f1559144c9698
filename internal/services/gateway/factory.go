package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory creates gateways based on provider type
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create builds a gateway for provider from its typed config.
func (f *Factory) Create(provider Provider, config any) (Gateway, error) {
	switch provider {
	case ProviderStripe:
		cfg, ok := config.(*StripeConfig)
		if !ok {
			return nil, fmt.Errorf("invalid stripe config type, expected *gateway.StripeConfig")
		}
		return NewStripeGateway(cfg)

	case ProviderSimulated:
		cfg, ok := config.(*SimulatedConfig)
		if !ok {
			return nil, fmt.Errorf("invalid simulated config type, expected *gateway.SimulatedConfig")
		}
		return NewSimulatedGateway(cfg)

	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

func (f *Factory) SupportedProviders() []Provider {
	return []Provider{ProviderStripe, ProviderSimulated}
}

// Registry manages configured gateways and which one checkout uses.
type Registry struct {
	mu       sync.RWMutex
	gateways map[Provider]Gateway
	factory  *Factory
	primary  Provider
}

func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		gateways: make(map[Provider]Gateway),
		factory:  factory,
	}
}

// Register creates and stores a gateway. The first one registered
// becomes primary.
func (r *Registry) Register(provider Provider, config any) (Gateway, error) {
	gw, err := r.factory.Create(provider, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s gateway: %w", provider, err)
	}
	r.Add(gw)
	return gw, nil
}

// Add stores an already built gateway, replacing one of the same provider.
func (r *Registry) Add(gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[gw.Provider()] = gw
	if r.primary == "" {
		r.primary = gw.Provider()
	}
}

func (r *Registry) Get(provider Provider) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("payment provider %s not registered", provider)
	}
	return gw, nil
}

func (r *Registry) Primary() (Gateway, error) {
	r.mu.RLock()
	primary := r.primary
	r.mu.RUnlock()

	if primary == "" {
		return nil, fmt.Errorf("no primary payment provider configured")
	}
	return r.Get(primary)
}

func (r *Registry) SetPrimary(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[provider]; !ok {
		return fmt.Errorf("payment provider %s not registered", provider)
	}
	r.primary = provider
	return nil
}

// Closer is implemented by gateways holding background resources.
type Closer interface {
	Close(ctx context.Context) error
}

func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for provider, gw := range r.gateways {
		c, ok := gw.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			// Log error but continue closing other gateways
			slog.Error("close payment gateway", "provider", provider, "error", err)
		}
	}
	return nil
}
