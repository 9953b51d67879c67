// Package events re-publishes provider events onto a Watermill message bus,
// for host applications that consume wallet state changes over their own
// messaging infrastructure instead of in-process callbacks.
package events

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/nyknyc/nyknyc-go/pkg/idx"
	"github.com/nyknyc/nyknyc-go/pkg/provider"
)

// Bus topics, one per provider event.
const (
	TopicAccountsChanged = "nyknyc.accounts_changed"
	TopicChainChanged    = "nyknyc.chain_changed"
	TopicDisconnect      = "nyknyc.disconnect"
	TopicError           = "nyknyc.error"
)

// AccountsChangedEvent is the accounts_changed message payload.
type AccountsChangedEvent struct {
	Accounts []string `json:"accounts"`
}

// ChainChangedEvent is the chain_changed message payload.
type ChainChangedEvent struct {
	ChainID string `json:"chain_id"` // hex
}

// ErrorEvent is the error message payload.
type ErrorEvent struct {
	Error string `json:"error"`
}

// Bridge subscribes to a provider's events and forwards them as JSON
// messages. Publish failures are logged, never propagated: the bus is an
// observer, not a participant.
type Bridge struct {
	publisher message.Publisher
	logger    *slog.Logger

	prov        *provider.Provider
	listenerIDs map[string]int
}

// NewBridge attaches a bridge to a provider. Call Close to detach.
func NewBridge(prov *provider.Provider, publisher message.Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		publisher:   publisher,
		logger:      logger,
		prov:        prov,
		listenerIDs: make(map[string]int),
	}

	b.listenerIDs[provider.EventAccountsChanged] = prov.On(
		provider.EventAccountsChanged, func(payload any) {
			accounts, ok := payload.([]string)
			if !ok {
				return
			}
			b.publish(TopicAccountsChanged, AccountsChangedEvent{Accounts: accounts})
		})
	b.listenerIDs[provider.EventChainChanged] = prov.On(
		provider.EventChainChanged, func(payload any) {
			chainID, ok := payload.(string)
			if !ok {
				return
			}
			b.publish(TopicChainChanged, ChainChangedEvent{ChainID: chainID})
		})
	b.listenerIDs[provider.EventDisconnect] = prov.On(
		provider.EventDisconnect, func(any) {
			b.publish(TopicDisconnect, struct{}{})
		})
	b.listenerIDs[provider.EventError] = prov.On(
		provider.EventError, func(payload any) {
			err, ok := payload.(error)
			if !ok {
				return
			}
			b.publish(TopicError, ErrorEvent{Error: err.Error()})
		})

	return b
}

func (b *Bridge) publish(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("events: marshaling event failed", "topic", topic, "error", err)
		return
	}

	msg := message.NewMessage(idx.New().String(), payload)
	if err := b.publisher.Publish(topic, msg); err != nil {
		b.logger.Error("events: publishing event failed", "topic", topic, "error", err)
	}
}

// Close detaches the bridge from the provider. The publisher itself is the
// caller's to close.
func (b *Bridge) Close() {
	for event, id := range b.listenerIDs {
		b.prov.RemoveListener(event, id)
	}
	b.listenerIDs = make(map[string]int)
}
