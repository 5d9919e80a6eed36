package wallet

import "walletdash/pkg/models"

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventConnecting     EventType = "connecting"
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventError          EventType = "error"
	EventBalanceUpdated EventType = "balance_updated"
	EventNetworkChanged EventType = "network_changed"
	EventAccountChanged EventType = "account_changed"
	// EventSnapshot is never emitted by the manager. It labels the current
	// session sent to a new subscriber.
	EventSnapshot EventType = "snapshot"
)

// Event carries the session snapshot taken right after a change.
type Event struct {
	Type    EventType            `json:"type"`
	Session models.WalletSession `json:"session"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
