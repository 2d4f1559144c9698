package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"culturepass/config"
	"culturepass/internal/handlers"
	"culturepass/internal/services"
	"culturepass/internal/services/gateway"
	"culturepass/internal/store/pbstore"
	_ "culturepass/migrations"
	"culturepass/monitoring"
	"culturepass/security"
	"culturepass/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Rate limiting and webhook replay state, shared through Redis when
	// several instances run behind a load balancer
	var (
		redisClient *redis.Client
		memLimiter  *security.MemoryLimiter
		memReplay   *security.MemoryReplayGuard
		limiter     security.Limiter
		replay      security.ReplayGuard
	)
	if cfg.RateLimitBackend == "redis" {
		client, err := utils.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		limiter = security.NewRedisLimiter(client)
		replay = security.NewRedisReplayGuard(client, cfg.WebhookReplayTTL)
	} else {
		memLimiter = security.NewMemoryLimiter(nil)
		limiter = memLimiter
		memReplay = security.NewMemoryReplayGuard(cfg.WebhookReplayTTL, nil)
		replay = memReplay
	}
	guard := security.NewGuard(limiter, cfg.RateRules())

	// Initialize PubNub
	pn := newPubNub(cfg)

	// Payment gateway
	gw, simulated, err := newGateway(cfg)
	if err != nil {
		return err
	}

	// Initialize services
	ticketStore := pbstore.NewTicketStore(app)
	registryStore := pbstore.NewRegistryStore(app)

	var publisher services.Publisher = services.NopPublisher{}
	if pn != nil {
		publisher = services.NewPubNubPublisher(pn)
	}

	registryService := services.NewRegistryService(registryStore)
	ticketService := services.NewTicketService(ticketStore, registryService, gw,
		services.WithDefaultCurrency(cfg.DefaultCurrency),
		services.WithPublisher(publisher),
	)
	checkoutService := services.NewCheckoutService(ticketService, ticketStore, gw, guard, cfg.PublicBaseURL,
		services.WithSessionTTL(cfg.PendingTicketTTL),
	)
	reconcileService := services.NewReconcileService(ticketService, ticketStore, gw, replay)
	scanService := services.NewScanService(ticketService, cfg.Location())

	var feed *gateway.Feed
	if pn != nil && cfg.PaymentNotifyChannel != "" {
		feed = gateway.NewFeed(pn, cfg.PaymentNotifyChannel, reconcileService.HandleNotification)
	}
	if !cfg.IsDevelopment() {
		simulated = nil
	}

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(ticketService, scanService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, reconcileService)
	paymentHandler := handlers.NewPaymentHandler(reconcileService, simulated, feed)
	registryHandler := handlers.NewRegistryHandler(registryService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})
	registerCommands(app, ticketService, reconcileService, cfg.PendingTicketTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Start background tasks
		go reconcileService.Run(ctx, cfg.ReconcileInterval, cfg.PendingTicketTTL)
		if memLimiter != nil {
			go memLimiter.RunPruner(ctx, time.Minute)
		}
		if memReplay != nil {
			go memReplay.RunPruner(ctx, time.Minute)
		}
		if feed != nil {
			go feed.Run(ctx)
		}
		if cfg.EnableMetrics {
			go monitoring.NewMonitor(ticketStore, 30*time.Second).Run(ctx)
			go serveMetrics(ctx, cfg.MetricsPort)
		}

		// Processor callbacks stay outside the anti-bot group
		e.Router.POST("/api/v1/payments/webhook", paymentHandler.Webhook)

		api := e.Router.Group("/api/v1")
		api.BindFunc(guard.AntiBot())

		// Checkout endpoints
		api.POST("/checkout", checkoutHandler.CreateSession)
		api.GET("/checkout/success", checkoutHandler.Success)
		api.GET("/checkout/cancel", checkoutHandler.Cancel)

		// Ticket endpoints
		api.POST("/tickets", ticketHandler.CreateTicket)
		api.GET("/tickets", ticketHandler.ListTickets)
		api.POST("/tickets/scan", ticketHandler.ScanTicket).BindFunc(guard.RateLimit(security.ActionScan))
		api.POST("/tickets/backfill-artifacts", ticketHandler.BackfillArtifacts)
		api.GET("/tickets/{id}", ticketHandler.GetTicket)
		api.POST("/tickets/{id}/cancel", ticketHandler.CancelTicket)
		api.POST("/tickets/{id}/refund", ticketHandler.RefundTicket).BindFunc(guard.RateLimit(security.ActionRefund))
		api.GET("/users/{userId}/tickets", ticketHandler.ListUserTickets)
		api.GET("/users/{userId}/tickets/count", ticketHandler.CountUserTickets)
		api.GET("/events/{eventId}/tickets", ticketHandler.ListEventTickets)

		// CulturePass ID endpoints
		api.GET("/cpid/lookup/{code}", registryHandler.Lookup)
		api.POST("/cpid/generate", registryHandler.Generate).BindFunc(guard.RateLimit(security.ActionIssue))
		api.GET("/cpid/registry", registryHandler.List)

		// Test endpoint for payment simulation
		if cfg.IsDevelopment() {
			api.POST("/test/simulate-payment", paymentHandler.SimulatePayment)
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					return e.JSON(http.StatusServiceUnavailable, map[string]string{
						"status": "unhealthy",
						"error":  err.Error(),
					})
				}
			}
			return e.JSON(http.StatusOK, map[string]string{
				"status":  "healthy",
				"gateway": string(gw.Provider()),
			})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// newPubNub returns nil when no keys are configured; realtime updates and
// the notification feed are then disabled.
func newPubNub(cfg *config.Config) *pubnub.PubNub {
	if cfg.PubNubSubscribeKey == "" {
		slog.Warn("pubnub not configured, realtime updates disabled")
		return nil
	}
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	return pubnub.NewPubNub(pnConfig)
}

// newGateway registers the configured provider and wraps it with a timeout
// and circuit breaker. The simulated gateway is also returned unwrapped
// for the development payment simulator.
func newGateway(cfg *config.Config) (gateway.Gateway, *gateway.SimulatedGateway, error) {
	registry := gateway.NewRegistry(gateway.NewFactory())

	var (
		provider = gateway.Provider(cfg.PaymentProvider)
		gwConfig any
	)
	switch provider {
	case gateway.ProviderStripe:
		gwConfig = &gateway.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}
	case gateway.ProviderSimulated:
		gwConfig = &gateway.SimulatedConfig{
			SigningKey: cfg.SimulatedSigningKey,
			BaseURL:    cfg.PublicBaseURL,
		}
	default:
		return nil, nil, fmt.Errorf("unsupported PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}

	if _, err := registry.Register(provider, gwConfig); err != nil {
		return nil, nil, err
	}
	primary, err := registry.Primary()
	if err != nil {
		return nil, nil, err
	}
	simulated, _ := primary.(*gateway.SimulatedGateway)

	breaker := utils.NewCircuitBreaker("payment-gateway",
		utils.WithStateChange(func(name string, from, to utils.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			monitoring.SetBreakerState(name, int(to))
		}),
	)
	slog.Info("payment gateway ready", "provider", provider)
	return gateway.NewGuarded(primary, cfg.GatewayTimeout, breaker), simulated, nil
}

func serveMetrics(ctx context.Context, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics listening on :%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
