package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SimulatedConfig struct {
	SigningKey string `json:"signing_key"`
	BaseURL    string `json:"base_url"`

	// Now drives session expiry; nil means time.Now.
	Now func() time.Time `json:"-"`
}

// SimulatedGateway stands in for a real processor in development. Sessions
// live in memory and notifications are signed with an HMAC-SHA256 key.
type SimulatedGateway struct {
	mu         sync.Mutex
	sessions   map[string]*SessionStatus
	byKey      map[string]*CheckoutSession
	refunds    map[string]string
	signingKey []byte
	baseURL    string
	now        func() time.Time
}

func NewSimulatedGateway(cfg *SimulatedConfig) (*SimulatedGateway, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("simulated gateway: signing key is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SimulatedGateway{
		sessions:   make(map[string]*SessionStatus),
		byKey:      make(map[string]*CheckoutSession),
		refunds:    make(map[string]string),
		signingKey: []byte(cfg.SigningKey),
		baseURL:    cfg.BaseURL,
		now:        now,
	}, nil
}

func (g *SimulatedGateway) Provider() Provider {
	return ProviderSimulated
}

func (g *SimulatedGateway) CreateCheckoutSession(_ context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if sess, ok := g.byKey[req.IdempotencyKey]; ok {
			c := *sess
			return &c, nil
		}
	}

	id := "cs_sim_" + uuid.NewString()
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	g.sessions[id] = &SessionStatus{SessionID: id, State: SessionOpen, Metadata: meta, ExpiresAt: req.ExpiresAt}

	sess := &CheckoutSession{
		ID:  id,
		URL: fmt.Sprintf("%s/simulated-checkout?session_id=%s", g.baseURL, url.QueryEscape(id)),
	}
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = sess
	}
	c := *sess
	return &c, nil
}

func (g *SimulatedGateway) RetrieveSession(_ context.Context, sessionID string) (*SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	g.lapse(st)
	c := *st
	return &c, nil
}

// lapse closes an open session whose expiry has passed.
func (g *SimulatedGateway) lapse(st *SessionStatus) {
	if st.State == SessionOpen && !st.ExpiresAt.IsZero() && !g.now().Before(st.ExpiresAt) {
		st.State = SessionExpired
	}
}

func (g *SimulatedGateway) Refund(_ context.Context, paymentRef string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, ok := g.refunds[paymentRef]; ok {
		return ref, nil
	}
	for _, st := range g.sessions {
		if st.PaymentRef == paymentRef && st.State == SessionPaid {
			ref := "re_sim_" + uuid.NewString()
			g.refunds[paymentRef] = ref
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPayment, paymentRef)
}

func (g *SimulatedGateway) ParseNotification(payload []byte, signature string) (*Notification, error) {
	if !VerifyHMAC(g.signingKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("simulated gateway: decode notification: %w", err)
	}
	if n.ID == "" || n.Type == "" {
		return nil, fmt.Errorf("simulated gateway: notification missing id or type")
	}
	return &n, nil
}

// Complete marks the session paid and returns the notification a real
// processor would push. A session past its expiry can no longer be paid.
func (g *SimulatedGateway) Complete(sessionID string) (*Notification, error) {
	return g.settle(sessionID, SessionPaid)
}

// Expire abandons the session.
func (g *SimulatedGateway) Expire(sessionID string) (*Notification, error) {
	return g.settle(sessionID, SessionExpired)
}

func (g *SimulatedGateway) settle(sessionID string, state SessionState) (*Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	g.lapse(st)
	if st.State == SessionOpen {
		st.State = state
		if state == SessionPaid {
			st.PaymentRef = "pi_sim_" + uuid.NewString()
		}
	}

	n := &Notification{
		ID:         "evt_sim_" + uuid.NewString(),
		Type:       NotifyPaymentFailed,
		SessionID:  st.SessionID,
		PaymentRef: st.PaymentRef,
		TicketID:   st.Metadata[MetaTicketID],
	}
	if st.State == SessionPaid {
		n.Type = NotifyPaymentSucceeded
	}
	return n, nil
}

// Sign returns the hex HMAC of payload under the signing key.
func (g *SimulatedGateway) Sign(payload []byte) string {
	return Hmac256(payload, g.signingKey)
}

// Encode serializes n and signs it.
func (g *SimulatedGateway) Encode(n *Notification) (payload []byte, signature string, err error) {
	payload, err = json.Marshal(n)
	if err != nil {
		return nil, "", err
	}
	return payload, g.Sign(payload), nil
}
