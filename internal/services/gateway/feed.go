package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// NotificationHandler consumes a raw, still unverified notification.
type NotificationHandler func(ctx context.Context, payload []byte, signature string) error

// Envelope is how a signed notification travels over PubNub.
type Envelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Feed relays processor notifications published on a PubNub channel.
type Feed struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channel  string
	handle   NotificationHandler
}

func NewFeed(pn *pubnub.PubNub, channel string, handle NotificationHandler) *Feed {
	return &Feed{
		pn:       pn,
		listener: pubnub.NewListener(),
		channel:  channel,
		handle:   handle,
	}
}

// Run subscribes and dispatches messages until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	f.pn.AddListener(f.listener)
	f.pn.Subscribe().Channels([]string{f.channel}).Execute()
	defer func() {
		f.pn.Unsubscribe().Channels([]string{f.channel}).Execute()
		f.pn.RemoveListener(f.listener)
	}()

	for {
		select {
		case st := <-f.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("payment feed connected", "channel", f.channel)
			case pubnub.PNReconnectedCategory:
				slog.Info("payment feed reconnected", "channel", f.channel)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("payment feed disconnected", "channel", f.channel)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("payment feed access denied", "channel", f.channel)
			case pubnub.PNReconnectionAttemptsExhausted:
				slog.Error("payment feed reconnection attempts exhausted", "channel", f.channel)
			}

		case msg := <-f.listener.Message:
			if err := f.dispatch(ctx, msg.Message); err != nil {
				slog.Error("payment feed message rejected", "channel", f.channel, "error", err)
			}

		case <-ctx.Done():
			slog.Info("payment feed closed", "channel", f.channel)
			return
		}
	}
}

func (f *Feed) dispatch(ctx context.Context, message any) error {
	env, err := decodeEnvelope(message)
	if err != nil {
		return err
	}
	return f.handle(ctx, []byte(env.Payload), env.Signature)
}

// Publish sends a signed notification onto the feed channel.
func (f *Feed) Publish(payload []byte, signature string) error {
	_, _, err := f.pn.Publish().
		Channel(f.channel).
		Message(Envelope{Payload: string(payload), Signature: signature}).
		Execute()
	return err
}

// decodeEnvelope accepts the shapes PubNub hands back: a decoded JSON
// object or a JSON string.
func decodeEnvelope(message any) (*Envelope, error) {
	var raw []byte
	switch m := message.(type) {
	case string:
		raw = []byte(m)
	case map[string]any:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("payment feed: unexpected message type %T", message)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("payment feed: decode envelope: %w", err)
	}
	if env.Payload == "" || env.Signature == "" {
		return nil, fmt.Errorf("payment feed: envelope missing payload or signature")
	}
	return &env, nil
}
