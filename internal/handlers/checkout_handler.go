package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"culturepass/internal/services"
	"culturepass/models"

	"github.com/pocketbase/pocketbase/core"
)

type CheckoutHandler struct {
	checkout  *services.CheckoutService
	reconcile *services.ReconcileService
}

func NewCheckoutHandler(checkout *services.CheckoutService, reconcile *services.ReconcileService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, reconcile: reconcile}
}

func (h *CheckoutHandler) CreateSession(e *core.RequestEvent) error {
	var body ticketEnvelope
	if err := e.BindBody(&body); err != nil {
		return badRequest(e, err)
	}

	res, err := h.checkout.Checkout(e.Request.Context(), e.RealIP(), body.request())
	if err != nil {
		return fail(e, "checkoutHandler.CreateSession()", err)
	}
	return ok(e, http.StatusOK, map[string]any{
		"checkoutUrl": res.URL,
		"sessionId":   res.SessionID,
		"ticketId":    res.Ticket.ID,
	})
}

// Success is where the hosted checkout sends the customer after paying.
func (h *CheckoutHandler) Success(e *core.RequestEvent) error {
	q := e.Request.URL.Query()
	t, err := h.reconcile.ConfirmCheckout(e.Request.Context(), q.Get("session_id"), q.Get("ticket_id"))
	if err != nil {
		slog.Error("checkoutHandler.Success()", "session", q.Get("session_id"), "ticket", q.Get("ticket_id"), "error", err)
		return resultPage(e, http.StatusOK, pageProcessing)
	}
	if t.PaymentStatus != models.PaymentPaid {
		return resultPage(e, http.StatusOK, pageProcessing)
	}
	return resultPage(e, http.StatusOK, pageSuccess)
}

// Cancel is where the hosted checkout sends the customer after backing out.
func (h *CheckoutHandler) Cancel(e *core.RequestEvent) error {
	ticketID := e.Request.URL.Query().Get("ticket_id")
	if ticketID != "" {
		if _, err := h.reconcile.CancelCheckout(e.Request.Context(), ticketID); err != nil {
			slog.Warn("checkoutHandler.Cancel()", "ticket", ticketID, "error", err)
		}
	}
	return resultPage(e, http.StatusOK, pageCancelled)
}

type page struct {
	Title, Message, Icon, Background, Color string
}

var (
	pageSuccess = page{
		Title:      "Payment Successful!",
		Message:    "Your ticket has been confirmed. You can close this page and return to the app.",
		Icon:       "✓",
		Background: "#f0fdf4",
		Color:      "#166534",
	}
	pageProcessing = page{
		Title:      "Payment Processing",
		Message:    "We are confirming your payment. Your ticket will update in the app shortly.",
		Icon:       "⌛",
		Background: "#fffbeb",
		Color:      "#92400e",
	}
	pageCancelled = page{
		Title:      "Payment Cancelled",
		Message:    "Your ticket purchase was cancelled. You can close this page and return to the app.",
		Icon:       "✕",
		Background: "#fef2f2",
		Color:      "#991b1b",
	}
)

var pageTemplate = template.Must(template.New("result").Parse(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:-apple-system,system-ui,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:{{.Background}};color:{{.Color}}}
.container{text-align:center;padding:40px}.icon{font-size:64px;margin-bottom:16px}.title{font-size:24px;font-weight:700;margin-bottom:8px}.sub{font-size:16px;opacity:0.8}</style>
</head><body><div class="container"><div class="icon">{{.Icon}}</div><div class="title">{{.Title}}</div><div class="sub">{{.Message}}</div></div></body></html>`))

func resultPage(e *core.RequestEvent, code int, p page) error {
	e.Response.Header().Set("Content-Type", "text/html; charset=utf-8")
	e.Response.WriteHeader(code)
	return pageTemplate.Execute(e.Response, p)
}
