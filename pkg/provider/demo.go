package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Demo wallet defaults.
const (
	DemoChainID int64 = 8217
	DemoSymbol        = "KAIA"
)

// DemoBalanceWei is the fixed demo balance: 1250.5 KAIA.
var DemoBalanceWei, _ = new(big.Int).SetString("1250500000000000000000", 10)

// DemoProvider is an in-process wallet used when no real wallet is available.
// Its account is derived from a throwaway key that is never stored.
type DemoProvider struct {
	mu      sync.Mutex
	account common.Address
	chainID int64
	balance *big.Int
	allowed map[int64]bool
	hub     *hub
}

// NewDemoProvider creates a demo wallet on DemoChainID. When chainIDs are
// given, switching is limited to them; otherwise any chain is accepted.
func NewDemoProvider(chainIDs ...int64) (*DemoProvider, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate demo account: %w", err)
	}
	p := &DemoProvider{
		account: crypto.PubkeyToAddress(key.PublicKey),
		chainID: DemoChainID,
		balance: new(big.Int).Set(DemoBalanceWei),
		hub:     newHub(nil),
	}
	if len(chainIDs) > 0 {
		p.allowed = map[int64]bool{DemoChainID: true}
		for _, id := range chainIDs {
			p.allowed[id] = true
		}
	}
	return p, nil
}

func (p *DemoProvider) Name() string { return "demo" }

// Account returns the demo account address.
func (p *DemoProvider) Account() string { return p.account.Hex() }

func (p *DemoProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	account, chainID := p.account, p.chainID
	balance := new(big.Int).Set(p.balance)
	p.mu.Unlock()

	switch method {
	case MethodRequestAccounts, MethodAccounts:
		return assign(result, []string{account.Hex()})
	case MethodChainID:
		return assign(result, hexutil.Uint64(chainID))
	case MethodGetBalance:
		var addr common.Address
		if len(params) == 0 || assign(&addr, params[0]) != nil {
			return &RequestError{Code: CodeInvalidParams, Message: "invalid address"}
		}
		if addr != account {
			return assign(result, (*hexutil.Big)(new(big.Int)))
		}
		return assign(result, (*hexutil.Big)(balance))
	case MethodSwitchChain:
		target, err := parseSwitchParam(params)
		if err != nil {
			return err
		}
		return p.switchChain(target)
	default:
		return &RequestError{Code: CodeUnsupportedMethod, Message: fmt.Sprintf("demo wallet does not support %s", method)}
	}
}

func (p *DemoProvider) switchChain(target int64) error {
	p.mu.Lock()
	if p.allowed != nil && !p.allowed[target] {
		p.mu.Unlock()
		return &RequestError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain id %d", target)}
	}
	changed := p.chainID != target
	p.chainID = target
	p.mu.Unlock()

	if changed {
		p.hub.emit(Event{Type: EventChainChanged, ChainID: target})
	}
	return nil
}

func (p *DemoProvider) Subscribe() Subscription { return p.hub.subscribe() }

func (p *DemoProvider) Close() { p.hub.close() }

func parseSwitchParam(params []interface{}) (int64, error) {
	if len(params) == 0 {
		return 0, &RequestError{Code: CodeInvalidParams, Message: "missing chainId"}
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return 0, &RequestError{Code: CodeInvalidParams, Message: err.Error()}
	}
	var param struct {
		ChainID hexutil.Uint64 `json:"chainId"`
	}
	if err := json.Unmarshal(raw, &param); err != nil {
		return 0, &RequestError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid chainId: %v", err)}
	}
	return int64(param.ChainID), nil
}

// assign copies v into result the way an RPC client decodes a response.
func assign(result interface{}, v interface{}) error {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}
