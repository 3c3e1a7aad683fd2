package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Broadcast channels are fixed at startup and never created at runtime.
const (
	ChannelPriceUpdates          = "price-updates"
	ChannelPriceUpdatesSecondary = "price-updates-secondary"
	ChannelActivityUpdates       = "activity-updates"
	ChannelBalanceUpdates        = "balance-updates"
)

// BroadcastChannels returns the full fixed set the bus subscribes to.
func BroadcastChannels() []string {
	return []string{
		ChannelPriceUpdates,
		ChannelPriceUpdatesSecondary,
		ChannelActivityUpdates,
		ChannelBalanceUpdates,
	}
}

// Message type tags on the wire.
const (
	MessageTypePrice = "price_update"
	MessageTypeBatch = "batch"
)

// PriceMessage is the wire payload carried on the price channels.
type PriceMessage struct {
	Type         string     `json:"type"`
	GameID       string     `json:"gameId"`
	Slug         string     `json:"slug"`
	AwaySide     SidePrices `json:"awaySide"`
	HomeSide     SidePrices `json:"homeSide"`
	UpdatedSides []Side     `json:"updatedSides,omitempty"`
	Ticker       string     `json:"ticker"`
	Timestamp    int64      `json:"timestamp"`
}

// Envelope is the decoded form of one bus frame: exactly one of Single or
// Batch is set. Raw preserves the frame bytes for verbatim forwarding.
type Envelope struct {
	Single *PriceMessage
	Batch  []PriceMessage
	Raw    []byte
}

// Items flattens the envelope into its messages.
func (e Envelope) Items() []PriceMessage {
	if e.Single != nil {
		return []PriceMessage{*e.Single}
	}
	return e.Batch
}

type batchFrame struct {
	Type  string         `json:"type"`
	Items []PriceMessage `json:"items"`
}

// DecodeEnvelope inspects the type tag and decodes either a single message
// or a batch frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, fmt.Errorf("domain: decode envelope: %w", err)
	}
	if probe.Type == MessageTypeBatch {
		var b batchFrame
		if err := json.Unmarshal(raw, &b); err != nil {
			return Envelope{}, fmt.Errorf("domain: decode batch frame: %w", err)
		}
		return Envelope{Batch: b.Items, Raw: raw}, nil
	}
	var m PriceMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, fmt.Errorf("domain: decode price message: %w", err)
	}
	return Envelope{Single: &m, Raw: raw}, nil
}

// EncodeBatch wraps messages in the batch frame. Callers publish a lone
// message as-is rather than as a one-item batch.
func EncodeBatch(items []PriceMessage) ([]byte, error) {
	raw, err := json.Marshal(batchFrame{Type: MessageTypeBatch, Items: items})
	if err != nil {
		return nil, fmt.Errorf("domain: encode batch frame: %w", err)
	}
	return raw, nil
}

// BroadcastBus fans messages out to every worker process in the cluster,
// including the publisher itself. Publishing is best-effort: when the bus is
// not configured or not ready, messages are dropped, never queued.
type BroadcastBus interface {
	Init(ctx context.Context) bool
	Ready() bool
	Publish(ctx context.Context, channel string, msg PriceMessage)
	PublishKeyed(ctx context.Context, channel, dedupKey string, msg PriceMessage)
	Subscribe(channel string, fn func(Envelope)) (unsubscribe func())
	Close() error
}
