package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"walletdash/pkg/utils"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}
	if m.showQR && m.session.IsConnected {
		return m.viewQR()
	}

	targetWidth := m.width - 4
	if targetWidth < 0 {
		targetWidth = 0
	}
	contentWidth := targetWidth - 4
	if contentWidth < 0 {
		contentWidth = 0
	}

	title := fmt.Sprintf("walletdash - %s", networkLabel(m.networks, m.session))
	header := titleStyle.Render(title)
	if m.session.Demo || m.manager.IsDemo() {
		header = lipgloss.JoinHorizontal(lipgloss.Top, header, " ", demoBadgeStyle.Render("DEMO"))
	}

	content := boxStyle.Width(targetWidth).Align(lipgloss.Center).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			header,
			m.viewConnection(),
			"\n",
			m.viewBalance(contentWidth),
			m.viewGraph(contentWidth),
			"\n",
			m.viewActivity(),
		),
	)

	h := m.height - 1
	if h < 0 {
		h = 0
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewTopBar(),
		lipgloss.Place(
			m.width,
			h,
			lipgloss.Center,
			lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, content, "\n", m.viewFooter()),
		),
	)
}

func (m model) viewTopBar() string {
	symbol := m.session.Symbol
	priceDisplay := fmt.Sprintf("%s: N/A", symbol)
	if m.price > 0 {
		priceDisplay = fmt.Sprintf("%s: $%s", symbol, utils.FormatFloat(m.price, 4))
	} else if m.priceErr {
		priceDisplay = fmt.Sprintf("%s: price unavailable", symbol)
	}
	left := subtleStyle.Render(" " + priceDisplay)

	lastUpd := "never"
	if !m.lastUpdate.IsZero() {
		lastUpd = m.lastUpdate.Format(time.Kitchen)
	}
	right := subtleStyle.Render(fmt.Sprintf("provider: %s • updated %s ", m.manager.ProviderName(), lastUpd))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Repeat(" ", gap), right)
}

func (m model) viewConnection() string {
	status := statusText(m.session)
	if m.pending != "" {
		status = fmt.Sprintf("%s %s...", m.spinner.View(), m.pending)
	} else if m.session.IsConnecting {
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	}

	lines := []string{status}
	if m.session.IsConnected {
		lines = append(lines, fmt.Sprintf("Address: %s", m.session.AddressOrEmpty()))
		if !m.session.IsExpectedNetwork {
			expected := fmt.Sprintf("chain %d", m.manager.ExpectedChainID())
			if n, ok := networkFor(m.networks, m.manager.ExpectedChainID()); ok {
				expected = n.Name
			}
			lines = append(lines, warnStyle.Render(fmt.Sprintf("Wrong network: switch to %s", expected)))
		}
	} else if m.session.ErrorCode != "" {
		lines = append(lines, errStyle.Render(m.session.ErrorCode))
	}
	return strings.Join(lines, "\n")
}

func (m model) viewBalance(width int) string {
	balStr := fmt.Sprintf("%s %s", m.session.BalanceFormatted, m.session.Symbol)
	if m.session.IsConnected && m.price > 0 {
		usd := balanceUnits(m.session) * m.price
		balStr = fmt.Sprintf("%s (~$%s)", balStr, utils.FormatFloat(usd, m.cfg.FiatDecimals))
	}
	return balanceStyle.Width(width).Align(lipgloss.Center).Render(balStr)
}

func (m model) viewGraph(width int) string {
	if len(m.history) < 2 {
		return ""
	}
	graphWidth := width - 10
	if graphWidth < 10 {
		graphWidth = 10
	}
	return "\n" + asciigraph.Plot(m.history,
		asciigraph.Height(6),
		asciigraph.Width(graphWidth),
		asciigraph.Caption(fmt.Sprintf("Balance History (%s)", m.session.Symbol)),
	)
}

func (m model) viewActivity() string {
	if !m.session.IsConnected {
		return subtleStyle.Render("Press C to connect a wallet")
	}
	if m.market == nil {
		return ""
	}
	if len(m.txs) == 0 {
		return subtleStyle.Render("No recent transactions found")
	}

	headers := tableHeaderStyle.Render(fmt.Sprintf("%-4s %-12s %-12s %-14s", "DIR", "HASH", "PEER", "VALUE"))
	var rows []string
	for i, tx := range m.txs {
		if i >= 5 {
			break
		}
		dir, peer := "OUT", tx.To
		if !strings.EqualFold(tx.From, m.session.AddressOrEmpty()) {
			dir, peer = "IN", tx.From
		}
		rows = append(rows, fmt.Sprintf("%-4s %-12s %-12s %-14s",
			dir,
			utils.TruncateString(tx.Hash, 12),
			utils.ShortAddress(peer),
			tx.Value,
		))
	}
	return lipgloss.JoinVertical(lipgloss.Center, headers, strings.Join(rows, "\n"))
}

func (m model) viewFooter() string {
	line := "C:connect • D:disconnect • r:refresh • n/N:network • c:copy • o:explorer • Q:qr • ?:help • q:quit"
	line += fmt.Sprintf(" • v%s", Version)

	footer := subtleStyle.Render(line)
	if m.width > 0 {
		footer = subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line)
	}
	if m.statusMessage != "" {
		style := infoStyle
		if m.statusIsError {
			style = errStyle
		}
		footer = lipgloss.JoinVertical(lipgloss.Center, style.Render(m.statusMessage), footer)
	}
	return footer
}

func (m model) viewQR() string {
	header := titleStyle.Render("Receive")
	code, err := renderQR(m.session.AddressOrEmpty(), m.session.ChainIDOrZero())
	if err != nil {
		code = errStyle.Render(fmt.Sprintf("Failed to render QR code: %v", err))
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		header,
		"\n",
		code,
		"\n",
		m.session.AddressOrEmpty(),
	))
	footer := subtleStyle.Render("Q/q/esc: back")
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewHelp() string {
	shortcuts := []string{
		"C: Connect Wallet",
		"D: Disconnect",
		"r: Refresh Balance",
		"n: Next Network",
		"N: Previous Network",
		"c: Copy Address",
		"o: Open in Explorer",
		"Q: Show Address QR",
		"q/ctrl+c: Quit",
		"?: Toggle Help",
	}

	header := titleStyle.Render("Help")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}
