package provider

import (
	"context"
	"time"

	"walletdash/pkg/config"

	"go.uber.org/zap"
)

const detectTimeout = 5 * time.Second

// Detect looks for a real wallet once at startup. It returns nil when no
// endpoint is configured or the endpoint does not answer eth_chainId.
func Detect(ctx context.Context, cfg config.WalletConfig, logger *zap.Logger) WalletProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" || cfg.DemoMode == config.DemoAlways {
		logger.Info("No wallet endpoint in use", zap.String("demo_mode", cfg.DemoMode))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	p, err := DialRPC(ctx, cfg.Endpoint, cfg.PollInterval(), logger)
	if err != nil {
		logger.Warn("Wallet endpoint unavailable", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		return nil
	}

	var chainID string
	if err := p.Request(ctx, &chainID, MethodChainID); err != nil {
		logger.Warn("Wallet endpoint did not answer", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		p.Close()
		return nil
	}

	logger.Info("Wallet endpoint detected", zap.String("endpoint", cfg.Endpoint), zap.String("chain_id", chainID))
	return p
}
