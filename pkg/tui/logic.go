package tui

import (
	"fmt"
	"strings"

	"walletdash/pkg/config"
	"walletdash/pkg/models"
	"walletdash/pkg/utils"
	"walletdash/pkg/wallet"

	tea "github.com/charmbracelet/bubbletea"
)

// historyLimit bounds the balance history kept for the graph.
const historyLimit = 240

// cycleNetwork returns the network after (dir > 0) or before (dir < 0) the one
// with chainID. An unknown chain starts from the first network.
func cycleNetwork(networks []config.NetworkConfig, chainID int64, dir int) (config.NetworkConfig, bool) {
	if len(networks) == 0 {
		return config.NetworkConfig{}, false
	}
	idx := -1
	for i, n := range networks {
		if n.ChainID == chainID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return networks[0], true
	}
	next := (idx + dir + len(networks)) % len(networks)
	return networks[next], true
}

func networkFor(networks []config.NetworkConfig, chainID int64) (config.NetworkConfig, bool) {
	for _, n := range networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return config.NetworkConfig{}, false
}

// networkLabel names the session's chain, falling back to its id.
func networkLabel(networks []config.NetworkConfig, session models.WalletSession) string {
	if session.ChainID == nil {
		return "No network"
	}
	if n, ok := networkFor(networks, *session.ChainID); ok {
		return n.Name
	}
	return fmt.Sprintf("Chain %d", *session.ChainID)
}

func balanceUnits(session models.WalletSession) float64 {
	return utils.UnitsToFloat(session.Balance, wallet.NativeDecimals)
}

// appendHistory adds v and keeps at most limit points.
func appendHistory(history []float64, v float64, limit int) []float64 {
	history = append(history, v)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func explorerAddressURL(network config.NetworkConfig, address string) (string, error) {
	if network.ExplorerURL == "" {
		return "", fmt.Errorf("explorer URL not configured for %s", network.Name)
	}
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(network.ExplorerURL, "/"), address), nil
}

func statusText(session models.WalletSession) string {
	switch session.Status {
	case models.StatusConnecting:
		return "Connecting..."
	case models.StatusConnected:
		return "Connected"
	case models.StatusError:
		return "Error"
	default:
		return "Not connected"
	}
}

// describeError turns a manager failure into a status line.
func describeError(op string, err error) string {
	switch wallet.CodeOf(err) {
	case wallet.CodeUserRejected:
		return fmt.Sprintf("%s rejected in wallet", op)
	case wallet.CodeBusy:
		return "Another wallet operation is in progress"
	case wallet.CodeNotConnected:
		return "Connect a wallet first"
	case wallet.CodeNoProvider:
		return "No wallet available; set wallet.endpoint or enable demo mode"
	case wallet.CodeUnrecognizedChain:
		return "Network is not known to the wallet"
	case wallet.CodeTimeout:
		return fmt.Sprintf("%s timed out", op)
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

// --- Commands ---

type opResultMsg struct {
	op  string
	err error
}

type priceMsg struct {
	data models.PriceData
}

type activityMsg struct {
	address string
	txs     []models.Transaction
	err     error
}

type walletClosedMsg struct{}

func listenForWallet(sub wallet.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return walletClosedMsg{}
		}
		return ev
	}
}

func (m model) connectCmd() tea.Cmd {
	mgr, ctx := m.manager, m.ctx
	return func() tea.Msg {
		_, err := mgr.Connect(ctx)
		return opResultMsg{op: "Connect", err: err}
	}
}

func (m model) refreshCmd() tea.Cmd {
	mgr, ctx := m.manager, m.ctx
	return func() tea.Msg {
		return opResultMsg{op: "Refresh", err: mgr.RefreshBalance(ctx)}
	}
}

func (m model) switchCmd(chainID int64) tea.Cmd {
	mgr, ctx := m.manager, m.ctx
	return func() tea.Msg {
		return opResultMsg{op: "Network switch", err: mgr.SwitchNetwork(ctx, chainID)}
	}
}

func (m model) priceCmd() tea.Cmd {
	if m.market == nil {
		return nil
	}
	chainID := m.session.ChainIDOrZero()
	if chainID == 0 {
		chainID = m.manager.ExpectedChainID()
	}
	network, ok := networkFor(m.networks, chainID)
	if !ok || network.CoinGeckoID == "" {
		return nil
	}
	svc, ctx := m.market, m.ctx
	return func() tea.Msg {
		data, _ := svc.FetchPrice(ctx, network.CoinGeckoID)
		return priceMsg{data: data}
	}
}

func (m model) activityCmd() tea.Cmd {
	if m.market == nil || !m.session.IsConnected {
		return nil
	}
	network, ok := networkFor(m.networks, m.session.ChainIDOrZero())
	if !ok || len(network.RPCURLs) == 0 {
		return nil
	}
	svc, ctx := m.market, m.ctx
	address := m.session.AddressOrEmpty()
	decimals := m.cfg.TokenDecimals
	return func() tea.Msg {
		txs, _, err := svc.FetchRecentActivity(ctx, network.RPCURLs, address, decimals)
		return activityMsg{address: address, txs: txs, err: err}
	}
}
