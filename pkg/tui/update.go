package tui

import (
	"fmt"
	"time"

	"walletdash/pkg/wallet"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case wallet.Event:
		cmds = append(cmds, listenForWallet(m.sub))
		cmds = append(cmds, m.applyEvent(msg)...)

	case walletClosedMsg:
		return m, tea.Quit

	case opResultMsg:
		m.pending = ""
		if msg.err != nil {
			cmds = append(cmds, m.setStatus(describeError(msg.op, msg.err), true))
		} else if msg.op == "Refresh" {
			cmds = append(cmds, m.setStatus("Balance refreshed", false))
		}

	case priceMsg:
		m.priceErr = msg.data.Err != nil
		if msg.data.Err == nil {
			m.price = msg.data.Price
		}

	case activityMsg:
		if msg.address != m.session.AddressOrEmpty() {
			break
		}
		if msg.err != nil {
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Activity unavailable: %v", msg.err), true))
			break
		}
		m.txs = msg.txs

	case refreshTickMsg:
		if m.session.IsConnected && m.pending == "" {
			cmds = append(cmds, m.refreshCmd(), m.priceCmd())
		}
		cmds = append(cmds, m.refreshTick())

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.statusMessage = ""
			m.statusIsError = false
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.pending != "" || m.session.IsConnecting {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// applyEvent folds a manager event into the model and returns the lookups
// the change calls for.
func (m *model) applyEvent(ev wallet.Event) []tea.Cmd {
	prevChain := m.session.ChainIDOrZero()
	m.session = ev.Session
	m.lastUpdate = time.Now()

	var cmds []tea.Cmd
	switch ev.Type {
	case wallet.EventConnected, wallet.EventAccountChanged:
		m.txs = nil
		m.history = nil
		if ev.Session.Balance != nil {
			m.history = appendHistory(m.history, balanceUnits(ev.Session), historyLimit)
		}
		cmds = append(cmds, m.activityCmd(), m.priceCmd())
	case wallet.EventNetworkChanged:
		m.txs = nil
		m.history = nil
		if ev.Session.ChainIDOrZero() != prevChain {
			m.price = 0
		}
		cmds = append(cmds, m.activityCmd(), m.priceCmd())
	case wallet.EventBalanceUpdated:
		if ev.Session.Balance != nil {
			m.history = appendHistory(m.history, balanceUnits(ev.Session), historyLimit)
		}
	case wallet.EventDisconnected:
		m.txs = nil
		m.history = nil
		m.showQR = false
	case wallet.EventError:
		if ev.Session.LastError != "" {
			cmds = append(cmds, m.setStatus(ev.Session.LastError, true))
		}
	}
	return cmds
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		if key == "q" || key == "esc" {
			m.showHelp = false
		}
		return m, nil
	}
	if m.showQR && (key == "esc" || key == "q") {
		m.showQR = false
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "C":
		if m.session.IsConnected {
			return m, m.setStatus("Wallet already connected", false)
		}
		m.pending = "Connecting"
		return m, tea.Batch(m.connectCmd(), m.spinner.Tick)

	case "D":
		if !m.session.IsConnected {
			return m, m.setStatus("Wallet is not connected", false)
		}
		m.manager.Disconnect()
		return m, m.setStatus("Wallet disconnected", false)

	case "r":
		if !m.session.IsConnected {
			return m, m.setStatus("Connect a wallet first", true)
		}
		m.pending = "Refreshing"
		return m, tea.Batch(m.refreshCmd(), m.priceCmd(), m.activityCmd(), m.spinner.Tick)

	case "n", "N":
		if !m.session.IsConnected {
			return m, m.setStatus("Connect a wallet first", true)
		}
		dir := 1
		if key == "N" {
			dir = -1
		}
		target, ok := cycleNetwork(m.networks, m.session.ChainIDOrZero(), dir)
		if !ok || target.ChainID == m.session.ChainIDOrZero() {
			return m, m.setStatus("No other network configured", false)
		}
		m.pending = fmt.Sprintf("Switching to %s", target.Name)
		return m, tea.Batch(m.switchCmd(target.ChainID), m.spinner.Tick)

	case "c":
		if !m.session.IsConnected {
			return m, nil
		}
		if err := clipboard.WriteAll(m.session.AddressOrEmpty()); err != nil {
			return m, m.setStatus("Failed to copy to clipboard", true)
		}
		return m, m.setStatus("Address copied to clipboard!", false)

	case "o":
		if !m.session.IsConnected {
			return m, nil
		}
		network, _ := networkFor(m.networks, m.session.ChainIDOrZero())
		url, err := explorerAddressURL(network, m.session.AddressOrEmpty())
		if err != nil {
			return m, m.setStatus(err.Error(), true)
		}
		if err := openBrowser(url); err != nil {
			return m, m.setStatus(fmt.Sprintf("Failed to open browser: %v", err), true)
		}
		return m, m.setStatus("Opened in browser", false)

	case "Q":
		if m.session.IsConnected {
			m.showQR = !m.showQR
		}
	}
	return m, nil
}
