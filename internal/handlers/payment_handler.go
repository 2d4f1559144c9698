package handlers

import (
	"errors"
	"io"
	"net/http"

	"culturepass/internal/services"
	"culturepass/internal/services/gateway"
	"culturepass/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

const maxNotificationBytes = 64 << 10

type PaymentHandler struct {
	reconcile *services.ReconcileService
	simulated *gateway.SimulatedGateway
	feed      *gateway.Feed
}

// NewPaymentHandler wires the webhook. simulated and feed are only set in
// development and back SimulatePayment.
func NewPaymentHandler(reconcile *services.ReconcileService, simulated *gateway.SimulatedGateway, feed *gateway.Feed) *PaymentHandler {
	return &PaymentHandler{reconcile: reconcile, simulated: simulated, feed: feed}
}

func signatureHeader(r *http.Request) string {
	if sig := r.Header.Get("Stripe-Signature"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Signature")
}

// Webhook receives processor notifications. The raw body is handed over
// untouched because the signature covers its exact bytes.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	payload, err := io.ReadAll(io.LimitReader(e.Request.Body, maxNotificationBytes))
	if err != nil {
		return badRequest(e, err)
	}

	sig := signatureHeader(e.Request)
	if sig == "" {
		return fail(e, "paymentHandler.Webhook()", status.ErrInvalidSignature)
	}

	if err := h.reconcile.HandleNotification(e.Request.Context(), payload, sig); err != nil {
		return fail(e, "paymentHandler.Webhook()", err)
	}
	return e.JSON(http.StatusOK, map[string]bool{"received": true})
}

// SimulatePayment settles a simulated checkout session and delivers the
// signed notification, over the PubNub feed when one is configured.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if h.simulated == nil {
		return e.JSON(http.StatusNotFound, status.ErrInvalidRequest.With(map[string]any{
			"reason": "simulated payments are disabled",
		}).Body())
	}

	var body struct {
		SessionID string `json:"session_id"`
		Outcome   string `json:"outcome"` // paid or failed
	}
	if err := e.BindBody(&body); err != nil {
		return badRequest(e, err)
	}
	if body.SessionID == "" {
		return fail(e, "paymentHandler.SimulatePayment()", status.MissingField("session_id"))
	}

	settle := h.simulated.Complete
	if body.Outcome == "failed" {
		settle = h.simulated.Expire
	}
	n, err := settle(body.SessionID)
	if errors.Is(err, gateway.ErrSessionNotFound) {
		return fail(e, "paymentHandler.SimulatePayment()", status.ErrTicketNotFound.With(map[string]any{"session_id": body.SessionID}))
	}
	if err != nil {
		return fail(e, "paymentHandler.SimulatePayment()", err)
	}

	payload, sig, err := h.simulated.Encode(n)
	if err != nil {
		return fail(e, "paymentHandler.SimulatePayment()", err)
	}

	via := "direct"
	if h.feed != nil {
		if err := h.feed.Publish(payload, sig); err != nil {
			return fail(e, "paymentHandler.SimulatePayment()", err)
		}
		via = "pubnub"
	} else if err := h.reconcile.HandleNotification(e.Request.Context(), payload, sig); err != nil {
		return fail(e, "paymentHandler.SimulatePayment()", err)
	}

	return ok(e, http.StatusOK, map[string]any{
		"notification": n,
		"delivered":    via,
	})
}
