// Package provider defines the wallet provider capability: an EIP-1193 style
// request interface plus account and chain change notifications.
package provider

import "context"

// Wallet RPC methods used by the connection manager.
const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodAccounts        = "eth_accounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"
	MethodSwitchChain     = "wallet_switchEthereumChain"
)

// EventType names a provider notification.
type EventType string

const (
	EventAccountsChanged EventType = "accountsChanged"
	EventChainChanged    EventType = "chainChanged"
)

// Event is a provider notification. Accounts is set for accountsChanged,
// ChainID for chainChanged.
type Event struct {
	Type     EventType
	Accounts []string
	ChainID  int64
}

// Subscription delivers provider events until Unsubscribe is called. The
// events channel is closed on unsubscribe or when the provider is closed.
type Subscription interface {
	Events() <-chan Event
	Unsubscribe()
}

// WalletProvider is a wallet reachable through request-style calls.
type WalletProvider interface {
	// Name identifies the provider in logs.
	Name() string
	// Request calls method with params and decodes the JSON result into
	// result, which must be a pointer or nil.
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	Subscribe() Subscription
	Close()
}

// SwitchChainParam is the single parameter of wallet_switchEthereumChain.
type SwitchChainParam struct {
	ChainID string `json:"chainId"`
}
