package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"walletdash/pkg/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeWallet is a JSON-RPC wallet endpoint with mutable state.
type fakeWallet struct {
	mu       sync.Mutex
	accounts []string
	chainID  uint64
	reject   map[string]int
}

func (f *fakeWallet) setAccounts(a ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = a
}

func (f *fakeWallet) setChain(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = id
}

func (f *fakeWallet) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []interface{}   `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if code, ok := f.reject[req.Method]; ok {
			resp["error"] = map[string]interface{}{"code": code, "message": "rejected"}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}

		switch req.Method {
		case MethodRequestAccounts, MethodAccounts:
			resp["result"] = f.accounts
		case MethodChainID:
			resp["result"] = hexutil.EncodeUint64(f.chainID)
		case MethodGetBalance:
			resp["result"] = "0x22B1C8C1227A0000"
		default:
			resp["result"] = nil
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCProvider_Request(t *testing.T) {
	fw := &fakeWallet{accounts: []string{"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"}, chainID: 8217}
	srv := fw.server(t)

	p, err := DialRPC(context.Background(), srv.URL, time.Second, nil)
	require.NoError(t, err)
	defer p.Close()

	var chainID hexutil.Uint64
	require.NoError(t, p.Request(context.Background(), &chainID, MethodChainID))
	assert.Equal(t, uint64(8217), uint64(chainID))

	var accounts []string
	require.NoError(t, p.Request(context.Background(), &accounts, MethodRequestAccounts))
	assert.Equal(t, fw.accounts, accounts)

	var balance hexutil.Big
	require.NoError(t, p.Request(context.Background(), &balance, MethodGetBalance, common.HexToAddress(accounts[0]), "latest"))
	assert.Equal(t, "2500000000000000000", (*big.Int)(&balance).String())
	assert.Equal(t, "rpc:"+srv.URL, p.Name())
}

func TestRPCProvider_ErrorCode(t *testing.T) {
	fw := &fakeWallet{chainID: 1, reject: map[string]int{MethodRequestAccounts: CodeUserRejected, MethodSwitchChain: CodeMethodNotFound}}
	srv := fw.server(t)

	p, err := DialRPC(context.Background(), srv.URL, time.Second, nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Request(context.Background(), nil, MethodRequestAccounts)
	require.Error(t, err)
	code, ok := ErrorCode(err)
	assert.True(t, ok)
	assert.Equal(t, CodeUserRejected, code)
	assert.False(t, IsMethodUnsupported(err))

	err = p.Request(context.Background(), nil, MethodSwitchChain, SwitchChainParam{ChainID: "0x1"})
	assert.True(t, IsMethodUnsupported(err))
}

func TestRPCProvider_PollEvents(t *testing.T) {
	fw := &fakeWallet{accounts: []string{"0x1111111111111111111111111111111111111111"}, chainID: 8217}
	srv := fw.server(t)

	p, err := DialRPC(context.Background(), srv.URL, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer p.Close()

	sub := p.Subscribe()
	defer sub.Unsubscribe()

	// Let the first poll record a baseline.
	time.Sleep(60 * time.Millisecond)

	fw.setAccounts()
	ev := waitEvent(t, sub)
	assert.Equal(t, EventAccountsChanged, ev.Type)
	assert.Empty(t, ev.Accounts)

	fw.setChain(1001)
	ev = waitEvent(t, sub)
	assert.Equal(t, EventChainChanged, ev.Type)
	assert.Equal(t, int64(1001), ev.ChainID)
}

func TestRPCProvider_UnsubscribeStopsPolling(t *testing.T) {
	fw := &fakeWallet{chainID: 1}
	srv := fw.server(t)

	p, err := DialRPC(context.Background(), srv.URL, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer p.Close()

	sub := p.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.Events()
	assert.False(t, open)

	p.mu.Lock()
	assert.Nil(t, p.cancelPoll)
	p.mu.Unlock()
}

func TestDemoProvider(t *testing.T) {
	p, err := NewDemoProvider(1001)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	var accounts []string
	require.NoError(t, p.Request(ctx, &accounts, MethodRequestAccounts))
	require.Len(t, accounts, 1)
	assert.Regexp(t, regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`), accounts[0])
	assert.Equal(t, p.Account(), accounts[0])

	var chainID hexutil.Uint64
	require.NoError(t, p.Request(ctx, &chainID, MethodChainID))
	assert.Equal(t, uint64(DemoChainID), uint64(chainID))

	var balance hexutil.Big
	require.NoError(t, p.Request(ctx, &balance, MethodGetBalance, common.HexToAddress(accounts[0]), "latest"))
	assert.Equal(t, DemoBalanceWei.String(), (*big.Int)(&balance).String())

	require.NoError(t, p.Request(ctx, &balance, MethodGetBalance, "0x0000000000000000000000000000000000000001", "latest"))
	assert.Equal(t, "0", (*big.Int)(&balance).String())

	sub := p.Subscribe()
	defer sub.Unsubscribe()

	require.NoError(t, p.Request(ctx, nil, MethodSwitchChain, SwitchChainParam{ChainID: "0x3e9"}))
	ev := waitEvent(t, sub)
	assert.Equal(t, EventChainChanged, ev.Type)
	assert.Equal(t, int64(1001), ev.ChainID)

	err = p.Request(ctx, nil, MethodSwitchChain, SwitchChainParam{ChainID: "0x1"})
	code, ok := ErrorCode(err)
	assert.True(t, ok)
	assert.Equal(t, CodeUnrecognizedChain, code)

	err = p.Request(ctx, nil, "eth_sendTransaction")
	assert.True(t, IsMethodUnsupported(err))
}

func TestDemoProvider_CancelledContext(t *testing.T) {
	p, err := NewDemoProvider()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Request(ctx, nil, MethodChainID), context.Canceled)
}

func TestDemoProvider_UniqueAccounts(t *testing.T) {
	a, err := NewDemoProvider()
	require.NoError(t, err)
	b, err := NewDemoProvider()
	require.NoError(t, err)
	assert.NotEqual(t, a.Account(), b.Account())
}

func TestHub_CloseClosesSubscriptions(t *testing.T) {
	h := newHub(nil)
	s := h.subscribe()
	h.close()
	_, open := <-s.Events()
	assert.False(t, open)

	late := h.subscribe()
	_, open = <-late.Events()
	assert.False(t, open)
	assert.NotPanics(t, s.Unsubscribe)
}

func TestDetect(t *testing.T) {
	assert.Nil(t, Detect(context.Background(), config.WalletConfig{}, nil))

	fw := &fakeWallet{chainID: 8217}
	srv := fw.server(t)

	p := Detect(context.Background(), config.WalletConfig{Endpoint: srv.URL, DemoMode: config.DemoAuto, PollIntervalMs: 1000}, nil)
	require.NotNil(t, p)
	p.Close()

	assert.Nil(t, Detect(context.Background(), config.WalletConfig{Endpoint: srv.URL, DemoMode: config.DemoAlways}, nil))

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	assert.Nil(t, Detect(context.Background(), config.WalletConfig{Endpoint: dead.URL, DemoMode: config.DemoAuto}, nil))
}

func waitEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider event")
		return Event{}
	}
}
