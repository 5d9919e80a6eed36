package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const DefaultPollInterval = 4 * time.Second

// RPCProvider talks to a wallet exposing JSON-RPC over HTTP or WebSocket,
// such as a desktop wallet's local endpoint. JSON-RPC has no portable account
// or chain change notification, so events are derived by polling eth_accounts
// and eth_chainId while at least one subscription is open.
type RPCProvider struct {
	endpoint     string
	client       *rpc.Client
	pollInterval time.Duration
	logger       *zap.Logger
	hub          *hub

	mu         sync.Mutex
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	// poll state, owned by the poll goroutine
	primed       bool
	lastAccounts []string
	lastChainID  int64
}

// DialRPC connects to a wallet endpoint.
func DialRPC(ctx context.Context, endpoint string, pollInterval time.Duration, logger *zap.Logger) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet endpoint %s: %w", endpoint, err)
	}
	return NewRPCProvider(client, endpoint, pollInterval, logger), nil
}

// NewRPCProvider wraps an existing rpc client.
func NewRPCProvider(client *rpc.Client, endpoint string, pollInterval time.Duration, logger *zap.Logger) *RPCProvider {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RPCProvider{
		endpoint:     endpoint,
		client:       client,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("provider", "rpc")),
	}
	p.hub = newHub(p.stopPolling)
	return p
}

func (p *RPCProvider) Name() string {
	return "rpc:" + p.endpoint
}

func (p *RPCProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.client.CallContext(ctx, result, method, params...)
}

// Subscribe starts the change poller on first use.
func (p *RPCProvider) Subscribe() Subscription {
	s := p.hub.subscribe()
	p.startPolling()
	return s
}

// Close stops polling, closes every subscription and the rpc client.
func (p *RPCProvider) Close() {
	p.stopPolling()
	p.hub.close()
	p.client.Close()
}

func (p *RPCProvider) startPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelPoll != nil || p.hub.count() == 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancelPoll = cancel
	p.pollDone = done
	go p.pollLoop(ctx, done)
}

func (p *RPCProvider) stopPolling() {
	p.mu.Lock()
	cancel, done := p.cancelPoll, p.pollDone
	p.cancelPoll, p.pollDone = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *RPCProvider) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	p.primed = false

	p.poll(ctx)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// poll reads accounts and chain id and emits events for what changed since the
// previous poll. The first successful poll only records a baseline.
func (p *RPCProvider) poll(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, p.pollInterval)
	defer cancel()

	var accounts []string
	if err := p.client.CallContext(callCtx, &accounts, MethodAccounts); err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("Account poll failed", zap.Error(err))
		}
		return
	}
	var chainID hexutil.Uint64
	if err := p.client.CallContext(callCtx, &chainID, MethodChainID); err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("Chain id poll failed", zap.Error(err))
		}
		return
	}

	if !p.primed {
		p.primed = true
		p.lastAccounts = accounts
		p.lastChainID = int64(chainID)
		return
	}

	if !sameAccounts(p.lastAccounts, accounts) {
		p.lastAccounts = accounts
		p.logger.Debug("Accounts changed", zap.Int("count", len(accounts)))
		p.hub.emit(Event{Type: EventAccountsChanged, Accounts: append([]string(nil), accounts...)})
	}
	if int64(chainID) != p.lastChainID {
		p.lastChainID = int64(chainID)
		p.logger.Debug("Chain changed", zap.Int64("chain_id", int64(chainID)))
		p.hub.emit(Event{Type: EventChainChanged, ChainID: int64(chainID)})
	}
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
