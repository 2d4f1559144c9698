package services

import (
	"context"
	"log/slog"

	"culturepass/models"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher announces ticket state changes to connected clients.
type Publisher interface {
	TicketChanged(ctx context.Context, t *models.Ticket)
}

type NopPublisher struct{}

func (NopPublisher) TicketChanged(context.Context, *models.Ticket) {}

// PubNubPublisher sends each change to the owner's tickets-<userId>
// channel.
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) *PubNubPublisher {
	return &PubNubPublisher{pn: pn}
}

func TicketChannel(userID string) string {
	return "tickets-" + userID
}

func (p *PubNubPublisher) TicketChanged(_ context.Context, t *models.Ticket) {
	msg := map[string]any{
		"type":           "ticket_update",
		"ticket_id":      t.ID,
		"ticket_code":    t.Code,
		"status":         t.Status,
		"payment_status": t.PaymentStatus,
	}

	_, _, err := p.pn.Publish().
		Channel(TicketChannel(t.UserID)).
		Message(msg).
		Execute()
	if err != nil {
		slog.Warn("ticket update not published", "ticket", t.ID, "error", err)
	}
}
