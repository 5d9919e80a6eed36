package tui

import (
	"context"
	"fmt"

	"walletdash/pkg/config"
	"walletdash/pkg/market"
	"walletdash/pkg/wallet"

	tea "github.com/charmbracelet/bubbletea"
)

// Start runs the dashboard until the user quits or ctx is done. svc may be
// nil, in which case prices and activity are not shown.
func Start(ctx context.Context, mgr *wallet.Manager, svc *market.Service, cfg config.UIConfig, version string) error {
	Version = version

	sub := mgr.Subscribe()
	defer mgr.Unsubscribe(sub)

	p := tea.NewProgram(
		initialModel(ctx, mgr, svc, sub, cfg),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
