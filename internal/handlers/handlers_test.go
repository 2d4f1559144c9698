package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"culturepass/internal/services"
	"culturepass/internal/services/gateway"
	"culturepass/internal/store/memstore"
	"culturepass/models"
	"culturepass/security"

	"github.com/pocketbase/pocketbase/core"
	_ "github.com/pocketbase/pocketbase/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app       core.App
	gw        *gateway.SimulatedGateway
	tickets   *TicketHandler
	checkout  *CheckoutHandler
	payments  *PaymentHandler
	registry  *RegistryHandler
	ticketSvc *services.TicketService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	app := core.NewBaseApp(core.BaseAppConfig{DataDir: t.TempDir()})
	require.NoError(t, app.Bootstrap())
	t.Cleanup(func() { _ = app.ResetBootstrapState() })

	ticketStore, registryStore := memstore.New()
	gw, err := gateway.NewSimulatedGateway(&gateway.SimulatedConfig{SigningKey: "handler-key", BaseURL: "http://localhost"})
	require.NoError(t, err)

	guard := security.NewGuard(security.NewMemoryLimiter(nil), map[string]security.Rule{
		security.ActionCheckout: {Limit: 5, Window: time.Minute},
	})
	registrySvc := services.NewRegistryService(registryStore)
	ticketSvc := services.NewTicketService(ticketStore, registrySvc, gw)
	reconcileSvc := services.NewReconcileService(ticketSvc, ticketStore, gw, security.NewMemoryReplayGuard(time.Hour, nil))
	checkoutSvc := services.NewCheckoutService(ticketSvc, ticketStore, gw, guard, "http://localhost")
	scanSvc := services.NewScanService(ticketSvc, time.UTC)

	return &testEnv{
		app:       app,
		gw:        gw,
		tickets:   NewTicketHandler(ticketSvc, scanSvc),
		checkout:  NewCheckoutHandler(checkoutSvc, reconcileSvc),
		payments:  NewPaymentHandler(reconcileSvc, gw, nil),
		registry:  NewRegistryHandler(registrySvc),
		ticketSvc: ticketSvc,
	}
}

func (env *testEnv) event(method, target string, body any) (*core.RequestEvent, *httptest.ResponseRecorder) {
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			r = bytes.NewReader(b)
		default:
			raw, _ := json.Marshal(b)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{App: env.app}
	e.Request = req
	e.Response = rec
	return e, rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func purchase(event string) map[string]any {
	return map[string]any{
		"ticketData": map[string]any{
			"userId":     "user-1",
			"eventId":    event,
			"eventTitle": "Lunar New Year Festival",
			"eventDate":  time.Now().UTC().Format("2006-01-02"),
			"tierName":   "VIP",
			"quantity":   2,
			"totalPrice": 45.00,
		},
	}
}

func TestCheckoutToScanOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	e, rec := env.event(http.MethodPost, "/api/v1/checkout", purchase("event-1"))
	require.NoError(t, env.checkout.CreateSession(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session struct {
		CheckoutURL string `json:"checkoutUrl"`
		SessionID   string `json:"sessionId"`
		TicketID    string `json:"ticketId"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &session))
	assert.NotEmpty(t, session.CheckoutURL)

	e, rec = env.event(http.MethodPost, "/api/v1/test/simulate-payment", map[string]string{"session_id": session.SessionID})
	require.NoError(t, env.payments.SimulatePayment(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e, rec = env.event(http.MethodGet, "/api/v1/checkout/success?session_id="+session.SessionID+"&ticket_id="+session.TicketID, nil)
	require.NoError(t, env.checkout.Success(e))
	assert.Contains(t, rec.Body.String(), "Payment Successful!")

	tk, err := env.ticketSvc.Get(e.Request.Context(), session.TicketID)
	require.NoError(t, err)

	e, rec = env.event(http.MethodPost, "/api/v1/tickets/scan", map[string]string{"ticketCode": tk.Code, "scannedBy": "door"})
	require.NoError(t, env.tickets.ScanTicket(e))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e, rec = env.event(http.MethodPost, "/api/v1/tickets/scan", map[string]string{"ticketCode": tk.Code})
	require.NoError(t, env.tickets.ScanTicket(e))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "TICKET_ALREADY_SCANNED", body.Error.Code)
	assert.NotEmpty(t, body.Error.Details["scanned_at"])

	e, rec = env.event(http.MethodPost, "/api/v1/tickets/"+tk.ID+"/refund", nil)
	e.Request.SetPathValue("id", tk.ID)
	require.NoError(t, env.tickets.RefundTicket(e))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TICKET_CANNOT_REFUND", decode(t, rec).Error.Code)
}

func TestCheckout_RateLimitSetsRetryAfter(t *testing.T) {
	env := newTestEnv(t)

	for i, ev := range []string{"a", "b", "c", "d", "e"} {
		e, rec := env.event(http.MethodPost, "/api/v1/checkout", purchase(ev))
		require.NoError(t, env.checkout.CreateSession(e))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d: %s", i+1, rec.Body.String())
	}

	e, rec := env.event(http.MethodPost, "/api/v1/checkout", purchase("f"))
	require.NoError(t, env.checkout.CreateSession(e))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, rec).Error.Code)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	e, rec := env.event(http.MethodPost, "/api/v1/payments/webhook", []byte(`{"id":"evt_1","type":"payment.succeeded","ticket_id":"x"}`))
	e.Request.Header.Set("X-Signature", "00ff")
	require.NoError(t, env.payments.Webhook(e))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode(t, rec).Error.Code)

	e, rec = env.event(http.MethodPost, "/api/v1/payments/webhook", []byte(`{}`))
	require.NoError(t, env.payments.Webhook(e))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_AcceptsSignedNotification(t *testing.T) {
	env := newTestEnv(t)

	e, rec := env.event(http.MethodPost, "/api/v1/checkout", purchase("event-1"))
	require.NoError(t, env.checkout.CreateSession(e))
	var session struct {
		SessionID string `json:"sessionId"`
		TicketID  string `json:"ticketId"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &session))

	n, err := env.gw.Complete(session.SessionID)
	require.NoError(t, err)
	payload, sig, err := env.gw.Encode(n)
	require.NoError(t, err)

	e, rec = env.event(http.MethodPost, "/api/v1/payments/webhook", payload)
	e.Request.Header.Set("X-Signature", sig)
	require.NoError(t, env.payments.Webhook(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	tk, err := env.ticketSvc.Get(e.Request.Context(), session.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketConfirmed, tk.Status)
}

func TestRegistryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	e, rec := env.event(http.MethodPost, "/api/v1/cpid/generate", map[string]string{"targetId": "sponsor-9", "entityType": "sponsor"})
	require.NoError(t, env.registry.Generate(e))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var generated struct {
		Code string `json:"culturePassId"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &generated))
	assert.Regexp(t, `^CP-`, generated.Code)

	e, rec = env.event(http.MethodGet, "/api/v1/cpid/lookup/x", nil)
	e.Request.SetPathValue("code", generated.Code)
	require.NoError(t, env.registry.Lookup(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	e, rec = env.event(http.MethodGet, "/api/v1/cpid/lookup/x", nil)
	e.Request.SetPathValue("code", "CP-NOPE22")
	require.NoError(t, env.registry.Lookup(e))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CPID_NOT_FOUND", decode(t, rec).Error.Code)

	e, rec = env.event(http.MethodPost, "/api/v1/cpid/generate", map[string]string{"targetId": "x", "entityType": "planet"})
	require.NoError(t, env.registry.Generate(e))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFail_HidesInternalErrors(t *testing.T) {
	env := newTestEnv(t)

	e, rec := env.event(http.MethodGet, "/api/v1/tickets", nil)
	require.NoError(t, fail(e, "test", errors.New("sqlite: disk I/O error")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "sqlite")
}
