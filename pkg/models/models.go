package models

import (
	"math/big"
	"time"
)

// Status is the lifecycle phase of a wallet session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// WalletSession is a snapshot of the wallet connection state. Snapshots are
// values; changing one never affects the manager that produced it.
type WalletSession struct {
	Status            Status   `json:"status"`
	Address           *string  `json:"address"`
	IsConnected       bool     `json:"isConnected"`
	IsConnecting      bool     `json:"isConnecting"`
	ChainID           *int64   `json:"chainId"`
	IsExpectedNetwork bool     `json:"isExpectedNetwork"`
	Balance           *big.Int `json:"-"`
	BalanceFormatted  string   `json:"balanceFormatted"`
	Symbol            string   `json:"symbol"`
	Demo              bool     `json:"demo"`
	ErrorCode         string   `json:"errorCode,omitempty"`
	LastError         string   `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the session.
func (s WalletSession) Clone() WalletSession {
	out := s
	if s.Address != nil {
		addr := *s.Address
		out.Address = &addr
	}
	if s.ChainID != nil {
		id := *s.ChainID
		out.ChainID = &id
	}
	if s.Balance != nil {
		out.Balance = new(big.Int).Set(s.Balance)
	}
	return out
}

// AddressOrEmpty returns the active account or "" when disconnected.
func (s WalletSession) AddressOrEmpty() string {
	if s.Address == nil {
		return ""
	}
	return *s.Address
}

// ChainIDOrZero returns the active chain id or 0 when disconnected.
func (s WalletSession) ChainIDOrZero() int64 {
	if s.ChainID == nil {
		return 0
	}
	return *s.ChainID
}

// Transaction holds basic transaction details.
type Transaction struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber uint64 `json:"blockNumber"`
	GasLimit    uint64 `json:"gasLimit"`
	GasPrice    string `json:"gasPrice"`
	Nonce       uint64 `json:"nonce"`
}

// PriceData contains the current USD price of a coin.
type PriceData struct {
	CoinID string  `json:"coinId"`
	Price  float64 `json:"price"`
	Err    error   `json:"-"`
}

// GasPriceData contains the current gas price.
type GasPriceData struct {
	Price      *big.Int `json:"price"`
	FailedRPCs []string `json:"failedRpcs,omitempty"`
	Err        error    `json:"-"`
}

// BalancePoint holds a timestamped balance value.
type BalancePoint struct {
	Timestamp time.Time
	Value     float64
}

// NetworkResult holds check results for a configured network.
type NetworkResult struct {
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	ConfigChainID   int64       `json:"config_chain_id"`
	RPCs            []RPCResult `json:"rpcs"`
	Inconsistent    bool        `json:"inconsistent"`
	ChainIDUpdated  bool        `json:"chain_id_updated"`
	ObservedChainID int64       `json:"observed_chain_id,omitempty"`
}

// RPCResult holds check results for a specific RPC URL.
type RPCResult struct {
	URL       string `json:"url"`
	Status    string `json:"status"` // "ok" or "error"
	ChainID   int64  `json:"chain_id,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// WalletResult holds the result of probing the wallet endpoint.
type WalletResult struct {
	Endpoint string   `json:"endpoint,omitempty"`
	Status   string   `json:"status"` // "ok", "error" or "demo"
	Accounts []string `json:"accounts,omitempty"`
	ChainID  int64    `json:"chain_id,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// CheckReport holds the results of the configuration check.
type CheckReport struct {
	ConfigPath         string          `json:"config_path"`
	ValidStructure     bool            `json:"valid_structure"`
	StructureErrors    []string        `json:"structure_errors,omitempty"`
	NetworkCount       int             `json:"network_count"`
	Networks           []NetworkResult `json:"networks,omitempty"`
	InconsistentChains []string        `json:"inconsistent_chains,omitempty"`
	Wallet             *WalletResult   `json:"wallet,omitempty"`
	ConfigUpdated      bool            `json:"config_updated"`
	SaveError          string          `json:"save_error,omitempty"`
	DryRun             bool            `json:"dry_run"`
}
