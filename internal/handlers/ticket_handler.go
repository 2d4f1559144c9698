package handlers

import (
	"net/http"
	"strings"

	"culturepass/internal/services"
	"culturepass/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// ticketPayload is the purchase data the app sends, either at the top
// level or wrapped in ticketData.
type ticketPayload struct {
	UserID     string          `json:"userId"`
	EventID    string          `json:"eventId"`
	EventTitle string          `json:"eventTitle"`
	EventDate  string          `json:"eventDate"`
	EventTime  string          `json:"eventTime"`
	EventVenue string          `json:"eventVenue"`
	TierName   string          `json:"tierName"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Currency   string          `json:"currency"`
}

type ticketEnvelope struct {
	ticketPayload
	TicketData *ticketPayload `json:"ticketData"`
}

func (p ticketEnvelope) request() models.TicketRequest {
	src := p.ticketPayload
	if p.TicketData != nil {
		src = *p.TicketData
	}
	qty := src.Quantity
	if qty == 0 {
		qty = 1
	}
	return models.TicketRequest{
		UserID:  strings.TrimSpace(src.UserID),
		EventID: strings.TrimSpace(src.EventID),
		Event: models.EventSnapshot{
			Title: src.EventTitle,
			Date:  src.EventDate,
			Time:  src.EventTime,
			Venue: src.EventVenue,
			Tier:  src.TierName,
		},
		Quantity: qty,
		Total:    src.TotalPrice,
		Currency: src.Currency,
	}
}

type TicketHandler struct {
	tickets *services.TicketService
	scans   *services.ScanService
}

func NewTicketHandler(tickets *services.TicketService, scans *services.ScanService) *TicketHandler {
	return &TicketHandler{tickets: tickets, scans: scans}
}

// CreateTicket issues a ticket without a checkout, used for free events.
func (h *TicketHandler) CreateTicket(e *core.RequestEvent) error {
	var body ticketEnvelope
	if err := e.BindBody(&body); err != nil {
		return badRequest(e, err)
	}

	t, err := h.tickets.Create(e.Request.Context(), body.request())
	if err != nil {
		return fail(e, "ticketHandler.CreateTicket()", err)
	}
	return ok(e, http.StatusCreated, t)
}

func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	t, err := h.tickets.Get(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return fail(e, "ticketHandler.GetTicket()", err)
	}
	return ok(e, http.StatusOK, t)
}

func (h *TicketHandler) ListUserTickets(e *core.RequestEvent) error {
	tickets, err := h.tickets.ListByUser(e.Request.Context(), e.Request.PathValue("userId"))
	if err != nil {
		return fail(e, "ticketHandler.ListUserTickets()", err)
	}
	return ok(e, http.StatusOK, tickets)
}

func (h *TicketHandler) CountUserTickets(e *core.RequestEvent) error {
	n, err := h.tickets.CountConfirmed(e.Request.Context(), e.Request.PathValue("userId"))
	if err != nil {
		return fail(e, "ticketHandler.CountUserTickets()", err)
	}
	return ok(e, http.StatusOK, map[string]int{"count": n})
}

func (h *TicketHandler) ListEventTickets(e *core.RequestEvent) error {
	tickets, err := h.tickets.ListByEvent(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return fail(e, "ticketHandler.ListEventTickets()", err)
	}
	return ok(e, http.StatusOK, tickets)
}

func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	tickets, err := h.tickets.ListAll(e.Request.Context())
	if err != nil {
		return fail(e, "ticketHandler.ListTickets()", err)
	}
	return ok(e, http.StatusOK, tickets)
}

func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if e.Request.ContentLength > 0 {
		if err := e.BindBody(&body); err != nil {
			return badRequest(e, err)
		}
	}

	t, err := h.tickets.Cancel(e.Request.Context(), e.Request.PathValue("id"), body.Reason)
	if err != nil {
		return fail(e, "ticketHandler.CancelTicket()", err)
	}
	return ok(e, http.StatusOK, t)
}

func (h *TicketHandler) RefundTicket(e *core.RequestEvent) error {
	t, err := h.tickets.Refund(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return fail(e, "ticketHandler.RefundTicket()", err)
	}

	msg := "Ticket cancelled"
	if t.RefundRef != "" {
		msg = "Payment refunded and ticket cancelled"
	}
	return ok(e, http.StatusOK, map[string]any{
		"message":  msg,
		"refundId": t.RefundRef,
		"ticket":   t,
	})
}

func (h *TicketHandler) ScanTicket(e *core.RequestEvent) error {
	var body struct {
		TicketCode string `json:"ticketCode"`
		ScannedBy  string `json:"scannedBy"`
	}
	if err := e.BindBody(&body); err != nil {
		return badRequest(e, err)
	}

	t, err := h.scans.Scan(e.Request.Context(), body.TicketCode, body.ScannedBy)
	if err != nil {
		return fail(e, "ticketHandler.ScanTicket()", err)
	}
	return ok(e, http.StatusOK, map[string]any{
		"message": "Ticket scanned successfully",
		"ticket":  t,
	})
}

func (h *TicketHandler) BackfillArtifacts(e *core.RequestEvent) error {
	n, err := h.tickets.BackfillArtifacts(e.Request.Context())
	if err != nil {
		return fail(e, "ticketHandler.BackfillArtifacts()", err)
	}
	return ok(e, http.StatusOK, map[string]int{"updated": n})
}
