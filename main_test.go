package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/models"
	"walletdash/pkg/server"
	"walletdash/pkg/wallet"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// resetFlags restores the package level flag values after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configFlag, verboseFlag = "", false
		jsonFlag, dryRunFlag = false, false
		addrFlag, urlFlag = "", ""
	})
}

func newCmd(ctx context.Context, out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	return cmd
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletdash.json")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func newChainIDServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": chainID})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// syncBuffer is written by the realtime read loop and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.Run(newCmd(context.Background(), &out), nil)
	assert.Equal(t, "walletdash version dev\n", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "check", "watch", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, checkCmd.Flags().Lookup("dry-run"))
	assert.NotNil(t, serveCmd.Flags().Lookup("addr"))
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	resetFlags(t)
	configFlag = filepath.Join(t.TempDir(), "absent.json")

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, configFlag, path)
	assert.Equal(t, int64(8217), cfg.Wallet.ExpectedChainID)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	resetFlags(t)
	configFlag = filepath.Join(t.TempDir(), "absent.json")
	t.Setenv("WALLETDASH_SERVER_ADDR", ":9090")
	t.Setenv("WALLETDASH_DEMO_MODE", "ALWAYS")

	cfg, _, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, config.DemoAlways, cfg.Wallet.DemoMode)

	t.Setenv("WALLETDASH_DEMO_MODE", "sometimes")
	_, _, err = loadConfig()
	assert.Error(t, err)
}

func TestNewApp_DemoWallet(t *testing.T) {
	resetFlags(t)
	cfg := config.Default()
	cfg.Wallet.DemoMode = config.DemoAlways

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer a.close()

	assert.True(t, a.manager.IsDemo())
	assert.NotNil(t, a.market)
	assert.NotNil(t, a.cache)

	session, err := a.manager.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1250.5000", session.BalanceFormatted)
}

func TestNewApp_NoWalletAndDemoDisabled(t *testing.T) {
	resetFlags(t)
	cfg := config.Default()
	cfg.Wallet.DemoMode = config.DemoNever

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	defer a.close()

	assert.False(t, a.manager.HasProvider())
	_, err = a.manager.Connect(context.Background())
	assert.Error(t, err)
}

func TestAppClose_ReleasesDetectedWallet(t *testing.T) {
	resetFlags(t)
	endpoint := newChainIDServer(t, "0x2019")

	cfg := config.Default()
	cfg.Wallet.Endpoint = endpoint.URL
	cfg.Wallet.DemoMode = config.DemoAuto

	a, err := newApp(context.Background(), cfg, true)
	require.NoError(t, err)
	require.NotNil(t, a.provider)
	assert.False(t, a.manager.IsDemo())

	var chainID string
	require.NoError(t, a.provider.Request(context.Background(), &chainID, "eth_chainId"))
	assert.Equal(t, "0x2019", chainID)

	a.close()
	err = a.provider.Request(context.Background(), &chainID, "eth_chainId")
	assert.ErrorIs(t, err, rpc.ErrClientQuit)
}

func TestRunCheck_JSON(t *testing.T) {
	resetFlags(t)
	node := newChainIDServer(t, "0x2019")

	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{{Name: "Kaia", Symbol: "KAIA", RPCURLs: []string{node.URL}}}
	configFlag = writeConfig(t, cfg)
	jsonFlag = true

	var out bytes.Buffer
	require.NoError(t, runCheck(newCmd(context.Background(), &out), nil))

	var report models.CheckReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.ValidStructure)
	require.Len(t, report.Networks, 1)
	assert.True(t, report.Networks[0].ChainIDUpdated)
	assert.True(t, report.ConfigUpdated)

	saved, err := config.LoadConfigFromFile(configFlag)
	require.NoError(t, err)
	assert.Equal(t, int64(8217), saved.Networks[0].ChainID)
}

func TestRunCheck_DryRunText(t *testing.T) {
	resetFlags(t)
	node := newChainIDServer(t, "0x2019")

	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{{Name: "Kaia", Symbol: "KAIA", RPCURLs: []string{node.URL}}}
	configFlag = writeConfig(t, cfg)
	dryRunFlag = true

	var out bytes.Buffer
	require.NoError(t, runCheck(newCmd(context.Background(), &out), nil))
	assert.Contains(t, out.String(), "Found 1 networks.")
	assert.Contains(t, out.String(), "UPDATED CONFIG (DRY RUN)")

	saved, err := config.LoadConfigFromFile(configFlag)
	require.NoError(t, err)
	assert.Zero(t, saved.Networks[0].ChainID)
}

func TestWatchURL(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "ws://localhost:8080/ws", watchURL(cfg, ""))
	assert.Equal(t, "ws://other/ws", watchURL(cfg, "ws://other/ws"))

	cfg.Server.Addr = "127.0.0.1:9000"
	assert.Equal(t, "ws://127.0.0.1:9000/ws", watchURL(cfg, ""))

	cfg.Realtime.URL = "wss://feed.example/ws"
	assert.Equal(t, "wss://feed.example/ws", watchURL(cfg, ""))
}

func TestFormatEvent(t *testing.T) {
	addr := "0x0000000000000000000000000000000000000abc"
	chain := int64(8217)
	line := formatEvent(wallet.Event{
		Type: wallet.EventConnected,
		Session: models.WalletSession{
			Status:           models.StatusConnected,
			Address:          &addr,
			ChainID:          &chain,
			BalanceFormatted: "1250.5000",
			Symbol:           "KAIA",
		},
	})
	assert.Contains(t, line, "connected")
	assert.Contains(t, line, "address="+addr)
	assert.Contains(t, line, "chain=8217")
	assert.Contains(t, line, "balance=1250.5000 KAIA")
	assert.NotContains(t, line, "error=")

	line = formatEvent(wallet.Event{
		Type:    wallet.EventError,
		Session: models.WalletSession{Status: models.StatusError, ErrorCode: "USER_REJECTED"},
	})
	assert.Contains(t, line, "address=-")
	assert.Contains(t, line, "chain=-")
	assert.Contains(t, line, "error=USER_REJECTED")
}

func TestRunWatch(t *testing.T) {
	resetFlags(t)

	mgr, err := wallet.NewManager(wallet.Options{
		DemoMode:        config.DemoAlways,
		ExpectedChainID: 8217,
		Networks:        config.DefaultNetworks(),
		CallTimeout:     time.Second,
	})
	require.NoError(t, err)
	defer mgr.Close()

	srv := server.NewServer(server.Options{Manager: mgr, Config: config.Default().Server})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Realtime.ReconnectIntervalMs = 50
	cfg.Realtime.MaxReconnectAttempts = 1
	cfg.Logging.Level = "error"
	configFlag = writeConfig(t, cfg)
	urlFlag = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)

	errCh := make(chan error, 1)
	go func() { errCh <- runWatch(cmd, nil) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "snapshot")
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "status=idle")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
