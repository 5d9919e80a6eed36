package check

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRPCServer answers eth_chainId with chainID and eth_accounts with accounts.
func newRPCServer(t *testing.T, chainID string, accounts []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result interface{}
		switch req.Method {
		case "eth_chainId":
			result = chainID
		case "eth_accounts":
			result = accounts
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletdash.json")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func TestRun_UpdatesMissingChainID(t *testing.T) {
	kaia := newRPCServer(t, "0x2019", nil)

	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{{Name: "Kaia", Symbol: "KAIA", RPCURLs: []string{kaia.URL}}}
	cfg.Wallet.DemoMode = config.DemoAuto
	path := writeConfig(t, cfg)

	report, err := Run(context.Background(), cfg, path, Options{Timeout: time.Second})
	require.NoError(t, err)

	assert.True(t, report.ValidStructure)
	assert.Equal(t, 1, report.NetworkCount)
	require.Len(t, report.Networks, 1)
	assert.True(t, report.Networks[0].ChainIDUpdated)
	assert.Equal(t, int64(8217), report.Networks[0].ObservedChainID)
	assert.Equal(t, "ok", report.Networks[0].RPCs[0].Status)
	assert.True(t, report.ConfigUpdated)
	assert.Empty(t, report.SaveError)
	require.NotNil(t, report.Wallet)
	assert.Equal(t, "demo", report.Wallet.Status)

	saved, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8217), saved.Networks[0].ChainID)

	backups, _ := filepath.Glob(path + ".*.bak")
	assert.Len(t, backups, 1)
}

func TestRun_DryRunDoesNotSave(t *testing.T) {
	kaia := newRPCServer(t, "0x2019", nil)

	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{{Name: "Kaia", Symbol: "KAIA", RPCURLs: []string{kaia.URL}}}
	path := writeConfig(t, cfg)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	report, err := Run(context.Background(), cfg, path, Options{DryRun: true, Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.True(t, report.ConfigUpdated)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	var out bytes.Buffer
	WriteText(&out, report)
	assert.Contains(t, out.String(), "UPDATED CONFIG (DRY RUN)")
	assert.Contains(t, out.String(), "Dry run enabled: Configuration NOT saved.")
}

func TestRun_InconsistentAndMismatch(t *testing.T) {
	a := newRPCServer(t, "0x2019", nil)
	b := newRPCServer(t, "0x3e9", nil)

	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{
		{Name: "Kaia", Symbol: "KAIA", ChainID: 8217, RPCURLs: []string{a.URL, b.URL, "http://127.0.0.1:1"}},
	}
	path := writeConfig(t, cfg)

	report, err := Run(context.Background(), cfg, path, Options{Timeout: time.Second})
	require.NoError(t, err)

	require.Len(t, report.Networks, 1)
	n := report.Networks[0]
	assert.True(t, n.Inconsistent)
	assert.False(t, n.ChainIDUpdated)
	assert.Equal(t, []string{"Kaia"}, report.InconsistentChains)

	require.Len(t, n.RPCs, 3)
	assert.Equal(t, "ok", n.RPCs[0].Status)
	assert.Empty(t, n.RPCs[0].Error)
	assert.Equal(t, "ok", n.RPCs[1].Status)
	assert.Equal(t, "Mismatch! Expected 8217", n.RPCs[1].Error)
	assert.Equal(t, "error", n.RPCs[2].Status)
	assert.False(t, report.ConfigUpdated)

	var out bytes.Buffer
	WriteText(&out, report)
	assert.Contains(t, out.String(), "WARNING: Inconsistent RPCs detected!")
}

func TestRun_InvalidStructure(t *testing.T) {
	cfg := &config.Config{Networks: []config.NetworkConfig{{Name: "", RPCURLs: nil}}}

	report, err := Run(context.Background(), cfg, "unused.json", Options{})
	require.ErrorIs(t, err, ErrInvalidStructure)
	assert.False(t, report.ValidStructure)
	assert.Len(t, report.StructureErrors, 2)

	report, err = Run(context.Background(), &config.Config{}, "unused.json", Options{})
	require.ErrorIs(t, err, ErrInvalidStructure)
	assert.Equal(t, []string{"No networks found in configuration."}, report.StructureErrors)
}

func TestCheckWallet(t *testing.T) {
	wallet := newRPCServer(t, "0x2019", []string{"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"})

	res := checkWallet(context.Background(), config.WalletConfig{Endpoint: wallet.URL, DemoMode: config.DemoNever}, time.Second, nil)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, int64(8217), res.ChainID)
	assert.Equal(t, []string{"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"}, res.Accounts)

	res = checkWallet(context.Background(), config.WalletConfig{Endpoint: "http://127.0.0.1:1", DemoMode: config.DemoNever}, time.Second, nil)
	assert.Equal(t, "error", res.Status)
	assert.NotEmpty(t, res.Error)

	res = checkWallet(context.Background(), config.WalletConfig{DemoMode: config.DemoNever}, time.Second, nil)
	assert.Equal(t, "error", res.Status)

	res = checkWallet(context.Background(), config.WalletConfig{Endpoint: wallet.URL, DemoMode: config.DemoAlways}, time.Second, nil)
	assert.Equal(t, "demo", res.Status)
}

func TestWriteJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteJSON(&out, models.CheckReport{ConfigPath: "x.json", ValidStructure: true}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "x.json", decoded["config_path"])
	assert.Equal(t, true, decoded["valid_structure"])
}
