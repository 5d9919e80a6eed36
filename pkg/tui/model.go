package tui

import (
	"context"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/market"
	"walletdash/pkg/models"
	"walletdash/pkg/wallet"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// --- Messages ---

type clearStatusMsg struct{ seq int }
type refreshTickMsg time.Time

// --- Model ---

type model struct {
	ctx      context.Context
	manager  *wallet.Manager
	market   *market.Service
	sub      wallet.Subscriber
	networks []config.NetworkConfig
	cfg      config.UIConfig

	session    models.WalletSession
	price      float64
	priceErr   bool
	history    []float64
	txs        []models.Transaction
	lastUpdate time.Time

	width         int
	height        int
	spinner       spinner.Model
	pending       string // operation in flight, shown next to the spinner
	statusMessage string
	statusIsError bool
	statusSeq     int
	showHelp      bool
	showQR        bool
}

func initialModel(ctx context.Context, mgr *wallet.Manager, svc *market.Service, sub wallet.Subscriber, cfg config.UIConfig) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		ctx:      ctx,
		manager:  mgr,
		market:   svc,
		sub:      sub,
		networks: mgr.Networks(),
		cfg:      cfg,
		session:  mgr.Session(),
		spinner:  s,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForWallet(m.sub), m.spinner.Tick}
	if cmd := m.priceCmd(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	if m.cfg.RefreshSeconds > 0 {
		cmds = append(cmds, m.refreshTick())
	}
	return tea.Batch(cmds...)
}

func (m model) refreshTick() tea.Cmd {
	return tea.Tick(time.Duration(m.cfg.RefreshSeconds)*time.Second, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

// setStatus shows msg until the status timeout passes or a newer message
// replaces it.
func (m *model) setStatus(msg string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.statusMessage = msg
	m.statusIsError = isErr
	seq := m.statusSeq
	timeout := time.Duration(m.cfg.StatusTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return tea.Tick(timeout, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}
