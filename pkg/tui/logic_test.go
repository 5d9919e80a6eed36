package tui

import (
	"errors"
	"math/big"
	"testing"

	"walletdash/pkg/config"
	"walletdash/pkg/models"
	"walletdash/pkg/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleNetwork(t *testing.T) {
	networks := []config.NetworkConfig{
		{Name: "Kaia", ChainID: 8217},
		{Name: "Kairos", ChainID: 1001},
		{Name: "Ethereum", ChainID: 1},
	}

	n, ok := cycleNetwork(networks, 8217, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1001), n.ChainID)

	n, _ = cycleNetwork(networks, 1, 1)
	assert.Equal(t, int64(8217), n.ChainID, "wraps forward")

	n, _ = cycleNetwork(networks, 8217, -1)
	assert.Equal(t, int64(1), n.ChainID, "wraps backward")

	n, _ = cycleNetwork(networks, 42, 1)
	assert.Equal(t, int64(8217), n.ChainID, "unknown chain starts at the first network")

	_, ok = cycleNetwork(nil, 8217, 1)
	assert.False(t, ok)
}

func TestNetworkLabel(t *testing.T) {
	networks := config.DefaultNetworks()
	kaia := int64(8217)
	other := int64(5)

	assert.Equal(t, "No network", networkLabel(networks, models.WalletSession{}))
	assert.Equal(t, "Kaia", networkLabel(networks, models.WalletSession{ChainID: &kaia}))
	assert.Equal(t, "Chain 5", networkLabel(networks, models.WalletSession{ChainID: &other}))
}

func TestAppendHistory(t *testing.T) {
	var h []float64
	for i := 0; i < 5; i++ {
		h = appendHistory(h, float64(i), 3)
	}
	assert.Equal(t, []float64{2, 3, 4}, h)
}

func TestBalanceUnits(t *testing.T) {
	bal, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.InDelta(t, 2.5, balanceUnits(models.WalletSession{Balance: bal}), 1e-12)
	assert.Zero(t, balanceUnits(models.WalletSession{}))
}

func TestExplorerAddressURL(t *testing.T) {
	url, err := explorerAddressURL(config.NetworkConfig{Name: "Kaia", ExplorerURL: "https://kaiascan.io/"}, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "https://kaiascan.io/address/0xabc", url)

	_, err = explorerAddressURL(config.NetworkConfig{Name: "Local"}, "0xabc")
	assert.Error(t, err)
}

func TestDescribeError(t *testing.T) {
	rejected := &wallet.Error{Op: "connect", Code: wallet.CodeUserRejected, Err: errors.New("denied")}
	assert.Equal(t, "Connect rejected in wallet", describeError("Connect", rejected))

	busy := &wallet.Error{Op: "refresh", Code: wallet.CodeBusy, Err: wallet.ErrBusy}
	assert.Equal(t, "Another wallet operation is in progress", describeError("Refresh", busy))

	assert.Equal(t, "Refresh failed: boom", describeError("Refresh", errors.New("boom")))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Not connected", statusText(models.WalletSession{Status: models.StatusIdle}))
	assert.Equal(t, "Connecting...", statusText(models.WalletSession{Status: models.StatusConnecting}))
	assert.Equal(t, "Connected", statusText(models.WalletSession{Status: models.StatusConnected}))
	assert.Equal(t, "Error", statusText(models.WalletSession{Status: models.StatusError}))
}

func TestRenderQR(t *testing.T) {
	code, err := renderQR("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", 8217)
	require.NoError(t, err)
	assert.Contains(t, code, "█")
	assert.Greater(t, len(code), 100)
}
