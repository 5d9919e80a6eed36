// Package wallet holds the wallet connection manager: the single owner of the
// wallet session shared by every view of the dashboard.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/metrics"
	"walletdash/pkg/models"
	"walletdash/pkg/provider"
	"walletdash/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// NativeDecimals is the number of decimals of the native coin. Every
	// supported network uses 18.
	NativeDecimals = 18
	// BalanceDisplayDecimals is the number of fractional digits shown.
	BalanceDisplayDecimals = 4
	// DefaultSymbol is shown until a network is known.
	DefaultSymbol = provider.DemoSymbol

	DefaultCallTimeout = 30 * time.Second
)

// errSuperseded is returned by a connect that lost to a disconnect.
var errSuperseded = fmt.Errorf("connect superseded by disconnect: %w", ErrNotConnected)

// PlaceholderBalance is shown while no balance has been read.
var PlaceholderBalance = utils.FormatUnits(nil, NativeDecimals, BalanceDisplayDecimals)

// Options configures a Manager.
type Options struct {
	// Provider is the detected wallet, or nil when none was found.
	Provider        provider.WalletProvider
	DemoMode        string
	ExpectedChainID int64
	Networks        []config.NetworkConfig
	CallTimeout     time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Manager owns the wallet session. Consumers read snapshots through Session
// or Subscribe; only the manager's operations change the session.
type Manager struct {
	provider        provider.WalletProvider
	demo            bool
	expectedChainID int64
	networks        []config.NetworkConfig
	callTimeout     time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics

	mu      sync.RWMutex
	session models.WalletSession
	busy    bool
	// gen is bumped by connect and disconnect so that results of calls
	// started before a reset are dropped.
	gen uint64

	connectGroup singleflight.Group

	subMu       sync.RWMutex
	subscribers []Subscriber

	stopEvents context.CancelFunc
	eventsDone chan struct{}
}

// NewManager builds a manager around the detected provider. With demo mode
// "auto" a missing provider is replaced by a demo wallet; with "always" the
// demo wallet is used regardless.
func NewManager(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.DemoMode == "" {
		opts.DemoMode = config.DemoAuto
	}

	m := &Manager{
		provider:        opts.Provider,
		expectedChainID: opts.ExpectedChainID,
		networks:        opts.Networks,
		callTimeout:     opts.CallTimeout,
		logger:          opts.Logger.With(zap.String("component", "wallet")),
		metrics:         opts.Metrics,
	}

	useDemo := opts.DemoMode == config.DemoAlways || (opts.DemoMode == config.DemoAuto && opts.Provider == nil)
	if useDemo {
		var chainIDs []int64
		for _, n := range opts.Networks {
			if n.ChainID != 0 {
				chainIDs = append(chainIDs, n.ChainID)
			}
		}
		demo, err := provider.NewDemoProvider(chainIDs...)
		if err != nil {
			return nil, err
		}
		m.provider = demo
		m.demo = true
		m.logger.Info("Using demo wallet", zap.String("demo_mode", opts.DemoMode))
	}

	m.session = m.defaultSession()
	return m, nil
}

func (m *Manager) defaultSession() models.WalletSession {
	return models.WalletSession{
		Status:           models.StatusIdle,
		BalanceFormatted: PlaceholderBalance,
		Symbol:           DefaultSymbol,
		Demo:             m.demo,
	}
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() models.WalletSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// IsDemo reports whether the manager runs against the demo wallet.
func (m *Manager) IsDemo() bool { return m.demo }

// HasProvider reports whether any wallet (real or demo) is available.
func (m *Manager) HasProvider() bool { return m.provider != nil }

// ProviderName returns the active provider's name.
func (m *Manager) ProviderName() string {
	if m.provider == nil {
		return "none"
	}
	return m.provider.Name()
}

func (m *Manager) ExpectedChainID() int64 { return m.expectedChainID }

// Networks returns the configured networks.
func (m *Manager) Networks() []config.NetworkConfig {
	return append([]config.NetworkConfig(nil), m.networks...)
}

// Network returns the configured network for chainID.
func (m *Manager) Network(chainID int64) (config.NetworkConfig, bool) {
	for _, n := range m.networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return config.NetworkConfig{}, false
}

// Connect requests account access and the active chain from the provider.
// Concurrent calls share a single attempt. The session always ends either
// connected or in the error status; the returned error is informational.
//
// The shared attempt is bounded by the call timeout, not by any caller's
// ctx. A caller whose ctx ends first returns early with CANCELED or TIMEOUT
// while the attempt carries on for the others.
func (m *Manager) Connect(ctx context.Context) (models.WalletSession, error) {
	ch := m.connectGroup.DoChan("connect", func() (interface{}, error) {
		return m.connect(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("Joined in-flight connect")
		}
		return res.Val.(models.WalletSession), res.Err
	case <-ctx.Done():
		m.logger.Debug("Connect caller left before the attempt finished", zap.Error(ctx.Err()))
		return m.Session(), newError("connect", ctx.Err())
	}
}

func (m *Manager) connect(ctx context.Context) (models.WalletSession, error) {
	const op = "connect"

	m.mu.Lock()
	if m.busy {
		snap := m.session.Clone()
		m.mu.Unlock()
		err := newError(op, ErrBusy)
		m.metrics.ObserveOperation(op, err)
		return snap, err
	}
	if m.provider == nil {
		gen := m.gen
		m.mu.Unlock()
		return m.failConnect(gen, newError(op, ErrProviderUnavailable))
	}
	m.busy = true
	m.gen++
	gen := m.gen
	m.session = m.defaultSession()
	m.session.Status = models.StatusConnecting
	m.session.IsConnecting = true
	snap := m.session.Clone()
	m.mu.Unlock()
	defer m.release()

	m.logger.Debug("Connecting wallet", zap.String("provider", m.provider.Name()))
	m.notify(Event{Type: EventConnecting, Session: snap})

	accounts, err := m.requestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = ErrNoAccounts
	}
	if err != nil {
		return m.failConnect(gen, newError(op, err))
	}

	chainID, err := m.readChainID(ctx)
	if err != nil {
		return m.failConnect(gen, newError(op, err))
	}

	balance, err := m.readBalance(ctx, accounts[0])
	if err != nil {
		m.logger.Warn("Balance unavailable after connect", zap.String("address", accounts[0]), zap.Error(err))
		balance = nil
	}

	m.mu.Lock()
	if gen != m.gen {
		snap := m.session.Clone()
		m.mu.Unlock()
		err := newError(op, errSuperseded)
		m.metrics.ObserveOperation(op, err)
		return snap, err
	}
	address := accounts[0]
	m.session = models.WalletSession{
		Status:      models.StatusConnected,
		Address:     &address,
		IsConnected: true,
		Demo:        m.demo,
	}
	m.applyChainLocked(chainID)
	m.applyBalanceLocked(balance)
	snap = m.session.Clone()
	m.mu.Unlock()

	m.metrics.SetConnected(true)
	m.metrics.ObserveOperation(op, nil)
	m.logger.Info("Wallet connected",
		zap.String("address", address),
		zap.Int64("chain_id", chainID),
		zap.Bool("demo", m.demo),
	)
	m.notify(Event{Type: EventConnected, Session: snap})
	return snap, nil
}

func (m *Manager) failConnect(gen uint64, werr *Error) (models.WalletSession, error) {
	m.mu.Lock()
	if gen == m.gen {
		m.session = m.defaultSession()
		m.session.Status = models.StatusError
		m.session.ErrorCode = string(werr.Code)
		m.session.LastError = werr.Error()
	}
	snap := m.session.Clone()
	m.mu.Unlock()

	m.metrics.SetConnected(false)
	m.metrics.ObserveOperation(werr.Op, werr)
	m.logger.Warn("Wallet connect failed", zap.String("code", string(werr.Code)), zap.Error(werr.Err))
	m.notify(Event{Type: EventError, Session: snap})
	return snap, werr
}

// Disconnect resets the session to its defaults. The provider's own session
// is left alone. Calling it repeatedly is harmless.
func (m *Manager) Disconnect() models.WalletSession {
	m.mu.Lock()
	m.gen++
	m.session = m.defaultSession()
	snap := m.session.Clone()
	m.mu.Unlock()

	m.metrics.SetConnected(false)
	m.metrics.ObserveOperation("disconnect", nil)
	m.logger.Info("Wallet disconnected")
	m.notify(Event{Type: EventDisconnected, Session: snap})
	return snap
}

// RefreshBalance re-reads the balance of the connected account. It is a no-op
// when not connected. On failure the previous balance stays in place.
func (m *Manager) RefreshBalance(ctx context.Context) error {
	const op = "refresh_balance"

	m.mu.Lock()
	if !m.session.IsConnected {
		m.mu.Unlock()
		return nil
	}
	if m.busy {
		m.mu.Unlock()
		err := newError(op, ErrBusy)
		m.metrics.ObserveOperation(op, err)
		return err
	}
	m.busy = true
	address := *m.session.Address
	gen := m.gen
	m.mu.Unlock()
	defer m.release()

	balance, err := m.readBalance(ctx, address)
	if err != nil {
		werr := newError(op, err)
		m.metrics.ObserveOperation(op, werr)
		m.logger.Warn("Balance refresh failed", zap.String("code", string(werr.Code)), zap.Error(err))
		return werr
	}

	if snap, ok := m.storeBalance(gen, address, balance); ok {
		m.notify(Event{Type: EventBalanceUpdated, Session: snap})
	}
	m.metrics.ObserveOperation(op, nil)
	return nil
}

// SwitchNetwork asks the provider to switch to chainID. On failure the
// session is left untouched and the error is returned; nothing is retried.
func (m *Manager) SwitchNetwork(ctx context.Context, chainID int64) error {
	const op = "switch_network"

	if chainID <= 0 {
		err := newError(op, fmt.Errorf("%w: %d", ErrInvalidChainID, chainID))
		m.metrics.ObserveOperation(op, err)
		return err
	}

	m.mu.Lock()
	if !m.session.IsConnected {
		m.mu.Unlock()
		err := newError(op, ErrNotConnected)
		m.metrics.ObserveOperation(op, err)
		return err
	}
	if m.busy {
		m.mu.Unlock()
		err := newError(op, ErrBusy)
		m.metrics.ObserveOperation(op, err)
		return err
	}
	m.busy = true
	address := *m.session.Address
	gen := m.gen
	m.mu.Unlock()
	defer m.release()

	param := provider.SwitchChainParam{ChainID: hexutil.EncodeUint64(uint64(chainID))}
	if err := m.call(ctx, nil, provider.MethodSwitchChain, param); err != nil {
		werr := newError(op, err)
		m.metrics.ObserveOperation(op, werr)
		m.logger.Warn("Network switch failed", zap.Int64("chain_id", chainID), zap.String("code", string(werr.Code)), zap.Error(err))
		return werr
	}

	m.mu.Lock()
	if gen != m.gen || !m.session.IsConnected {
		m.mu.Unlock()
		m.metrics.ObserveOperation(op, nil)
		return nil
	}
	m.applyChainLocked(chainID)
	snap := m.session.Clone()
	m.mu.Unlock()

	m.logger.Info("Network switched", zap.Int64("chain_id", chainID))
	m.notify(Event{Type: EventNetworkChanged, Session: snap})

	// Balances are per chain.
	if balance, err := m.readBalance(ctx, address); err != nil {
		m.logger.Debug("Balance unavailable after network switch", zap.Error(err))
	} else if snap, ok := m.storeBalance(gen, address, balance); ok {
		m.notify(Event{Type: EventBalanceUpdated, Session: snap})
	}

	m.metrics.ObserveOperation(op, nil)
	return nil
}

// Start listens for provider account and chain changes until ctx is done or
// Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.provider == nil || m.stopEvents != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := m.provider.Subscribe()
	done := make(chan struct{})
	m.stopEvents = cancel
	m.eventsDone = done
	m.mu.Unlock()

	go m.eventLoop(ctx, sub, done)
}

// Close stops event handling, closes every subscriber channel and releases
// the demo wallet. A real provider is owned by the caller.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, done := m.stopEvents, m.eventsDone
	m.stopEvents, m.eventsDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.subMu.Lock()
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.subMu.Unlock()

	if m.demo {
		m.provider.Close()
	}
}

func (m *Manager) eventLoop(ctx context.Context, sub provider.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.handleProviderEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleProviderEvent(ctx context.Context, ev provider.Event) {
	switch ev.Type {
	case provider.EventAccountsChanged:
		m.mu.Lock()
		if !m.session.IsConnected {
			m.mu.Unlock()
			return
		}
		if len(ev.Accounts) == 0 {
			m.mu.Unlock()
			m.logger.Info("Wallet reported no accounts")
			m.Disconnect()
			return
		}
		if strings.EqualFold(*m.session.Address, ev.Accounts[0]) {
			m.mu.Unlock()
			return
		}
		address := ev.Accounts[0]
		m.session.Address = &address
		m.applyBalanceLocked(nil)
		snap := m.session.Clone()
		m.mu.Unlock()

		m.logger.Info("Wallet account changed", zap.String("address", address))
		m.notify(Event{Type: EventAccountChanged, Session: snap})
		if err := m.RefreshBalance(ctx); err != nil {
			m.logger.Debug("Balance refresh after account change failed", zap.Error(err))
		}

	case provider.EventChainChanged:
		m.mu.Lock()
		if !m.session.IsConnected || (m.session.ChainID != nil && *m.session.ChainID == ev.ChainID) {
			m.mu.Unlock()
			return
		}
		m.applyChainLocked(ev.ChainID)
		snap := m.session.Clone()
		m.mu.Unlock()

		m.logger.Info("Wallet chain changed", zap.Int64("chain_id", ev.ChainID))
		m.notify(Event{Type: EventNetworkChanged, Session: snap})
		if err := m.RefreshBalance(ctx); err != nil {
			m.logger.Debug("Balance refresh after chain change failed", zap.Error(err))
		}
	}
}

func (m *Manager) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

// storeBalance applies balance if the session still belongs to address.
func (m *Manager) storeBalance(gen uint64, address string, balance *big.Int) (models.WalletSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.session.IsConnected || !strings.EqualFold(*m.session.Address, address) {
		return models.WalletSession{}, false
	}
	m.applyBalanceLocked(balance)
	return m.session.Clone(), true
}

func (m *Manager) applyChainLocked(chainID int64) {
	id := chainID
	m.session.ChainID = &id
	m.session.IsExpectedNetwork = chainID == m.expectedChainID
	m.session.Symbol = DefaultSymbol
	if n, ok := m.Network(chainID); ok && n.Symbol != "" {
		m.session.Symbol = n.Symbol
	}
}

func (m *Manager) applyBalanceLocked(balance *big.Int) {
	if balance == nil {
		m.session.Balance = nil
		m.session.BalanceFormatted = PlaceholderBalance
		return
	}
	m.session.Balance = new(big.Int).Set(balance)
	m.session.BalanceFormatted = utils.FormatUnits(balance, NativeDecimals, BalanceDisplayDecimals)
}

// call runs one provider request under the call timeout.
func (m *Manager) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	err := m.provider.Request(callCtx, result, method, params...)
	m.metrics.ObserveCall(method, time.Since(start), err)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// requestAccounts asks for account access, falling back to eth_accounts for
// endpoints that do not implement the wallet method.
func (m *Manager) requestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := m.call(ctx, &accounts, provider.MethodRequestAccounts)
	if err != nil && provider.IsMethodUnsupported(err) {
		m.logger.Debug("eth_requestAccounts unsupported, using eth_accounts")
		accounts = nil
		err = m.call(ctx, &accounts, provider.MethodAccounts)
	}
	return accounts, err
}

func (m *Manager) readChainID(ctx context.Context) (int64, error) {
	var chainID hexutil.Uint64
	if err := m.call(ctx, &chainID, provider.MethodChainID); err != nil {
		return 0, err
	}
	return int64(chainID), nil
}

func (m *Manager) readBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance hexutil.Big
	if err := m.call(ctx, &balance, provider.MethodGetBalance, common.HexToAddress(address), "latest"); err != nil {
		return nil, err
	}
	return new(big.Int).Set((*big.Int)(&balance)), nil
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (m *Manager) Subscribe() Subscriber {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	ch := make(Subscriber, 100)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Manager) Unsubscribe(ch Subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (m *Manager) notify(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			m.logger.Debug("Dropping wallet event for slow subscriber", zap.String("type", string(event.Type)))
		}
	}
}
