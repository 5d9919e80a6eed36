// Package check verifies a configuration file against the live endpoints it
// names: every network RPC is probed for its chain id and the wallet endpoint
// is asked for its accounts. Chain ids missing from the file are filled in
// from what the RPCs report.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/market"
	"walletdash/pkg/models"
	"walletdash/pkg/provider"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = 10 * time.Second

// ErrInvalidStructure is returned when the configuration cannot be checked.
var ErrInvalidStructure = errors.New("configuration structure is invalid")

// Options controls a check run.
type Options struct {
	// DryRun reports chain id updates without saving them.
	DryRun  bool
	Timeout time.Duration
	Logger  *zap.Logger
}

// Run checks cfg, which was loaded from path, and saves discovered chain ids
// back to path unless DryRun is set. The report is returned even on error.
func Run(ctx context.Context, cfg *config.Config, path string, opts Options) (models.CheckReport, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("check")

	report := models.CheckReport{
		ConfigPath:     path,
		ValidStructure: true,
		DryRun:         opts.DryRun,
	}

	report.StructureErrors = structureErrors(cfg)
	if len(report.StructureErrors) > 0 {
		report.ValidStructure = false
		return report, ErrInvalidStructure
	}
	report.NetworkCount = len(cfg.Networks)

	configUpdated := false
	for i := range cfg.Networks {
		network := &cfg.Networks[i]
		result := checkNetwork(ctx, network, opts.Timeout)
		if result.ChainIDUpdated {
			network.ChainID = result.ObservedChainID
			configUpdated = true
		}
		if result.Inconsistent {
			report.InconsistentChains = append(report.InconsistentChains, network.Name)
			logger.Warn("RPCs disagree on chain id", zap.String("network", network.Name))
		}
		report.Networks = append(report.Networks, result)
	}

	report.Wallet = checkWallet(ctx, cfg.Wallet, opts.Timeout, logger)

	if configUpdated {
		report.ConfigUpdated = true
		if !opts.DryRun {
			if err := config.SaveConfig(cfg, path); err != nil {
				report.SaveError = err.Error()
				logger.Error("Failed to save config", zap.String("path", path), zap.Error(err))
			} else {
				logger.Info("Saved discovered chain ids", zap.String("path", path))
			}
		}
	}
	return report, nil
}

func structureErrors(cfg *config.Config) []string {
	if len(cfg.Networks) == 0 {
		return []string{"No networks found in configuration."}
	}
	var errs []string
	for i, n := range cfg.Networks {
		if strings.TrimSpace(n.Name) == "" {
			errs = append(errs, fmt.Sprintf("Network at index %d has no name.", i))
		}
		if len(n.RPCURLs) == 0 {
			errs = append(errs, fmt.Sprintf("Network '%s' has no RPC URLs.", n.Name))
		}
	}
	return errs
}

// checkNetwork probes every RPC of network concurrently. The first RPC that
// answers sets the observed chain id; any RPC disagreeing with it marks the
// network inconsistent.
func checkNetwork(ctx context.Context, network *config.NetworkConfig, timeout time.Duration) models.NetworkResult {
	result := models.NetworkResult{
		Name:          network.Name,
		Symbol:        network.Symbol,
		ConfigChainID: network.ChainID,
		RPCs:          make([]models.RPCResult, len(network.RPCURLs)),
	}

	var g errgroup.Group
	for i, url := range network.RPCURLs {
		g.Go(func() error {
			res, _ := market.ProbeRPC(ctx, url, timeout)
			result.RPCs[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for i := range result.RPCs {
		rpc := &result.RPCs[i]
		if rpc.Status != "ok" {
			continue
		}
		if result.ObservedChainID == 0 {
			result.ObservedChainID = rpc.ChainID
		} else if rpc.ChainID != result.ObservedChainID {
			result.Inconsistent = true
		}
		if network.ChainID != 0 && rpc.ChainID != network.ChainID {
			rpc.Error = fmt.Sprintf("Mismatch! Expected %d", network.ChainID)
		}
	}

	if network.ChainID == 0 && result.ObservedChainID != 0 && !result.Inconsistent {
		result.ChainIDUpdated = true
	}
	return result
}

func checkWallet(ctx context.Context, cfg config.WalletConfig, timeout time.Duration, logger *zap.Logger) *models.WalletResult {
	if cfg.Endpoint == "" || cfg.DemoMode == config.DemoAlways {
		if cfg.DemoMode == config.DemoNever {
			return &models.WalletResult{Status: "error", Error: "no wallet endpoint configured and demo mode is off"}
		}
		return &models.WalletResult{Status: "demo"}
	}

	result := &models.WalletResult{Endpoint: cfg.Endpoint}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := provider.DialRPC(ctx, cfg.Endpoint, cfg.PollInterval(), logger)
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		return result
	}
	defer p.Close()

	var chainID hexutil.Uint64
	if err := p.Request(ctx, &chainID, provider.MethodChainID); err != nil {
		result.Status = "error"
		result.Error = fmt.Sprintf("Failed to get ChainID: %v", err)
		return result
	}
	result.ChainID = int64(chainID)

	// eth_accounts does not prompt, so an empty list only means the wallet
	// has not authorized this client yet.
	if err := p.Request(ctx, &result.Accounts, provider.MethodAccounts); err != nil {
		result.Status = "error"
		result.Error = fmt.Sprintf("Failed to list accounts: %v", err)
		return result
	}
	result.Status = "ok"
	return result
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report models.CheckReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteText writes the report for a terminal.
func WriteText(w io.Writer, report models.CheckReport) {
	fmt.Fprintf(w, "Testing configuration at: %s\n", report.ConfigPath)
	if !report.ValidStructure {
		for _, e := range report.StructureErrors {
			fmt.Fprintf(w, "Error: %s\n", e)
		}
		return
	}
	fmt.Fprintf(w, "Found %d networks.\n", report.NetworkCount)

	for _, n := range report.Networks {
		fmt.Fprintf(w, "Testing Network: %s (%s)\n", n.Name, n.Symbol)
		for _, rpc := range n.RPCs {
			if rpc.Status != "ok" {
				fmt.Fprintf(w, "  RPC: %s ... Failed: %s\n", rpc.URL, rpc.Error)
				continue
			}
			fmt.Fprintf(w, "  RPC: %s ... OK (ChainID: %d, %dms)", rpc.URL, rpc.ChainID, rpc.LatencyMs)
			switch {
			case rpc.Error != "":
				fmt.Fprintf(w, " - %s", rpc.Error)
			case n.ChainIDUpdated:
				fmt.Fprint(w, " - UPDATED CONFIG")
				if report.DryRun {
					fmt.Fprint(w, " (DRY RUN)")
				}
			default:
				fmt.Fprint(w, " - Verified")
			}
			fmt.Fprintln(w)
		}
	}

	if len(report.InconsistentChains) > 0 {
		fmt.Fprintln(w, "\nWARNING: Inconsistent RPCs detected!")
		fmt.Fprintln(w, "The following networks have RPCs returning conflicting Chain IDs:")
		for _, name := range report.InconsistentChains {
			fmt.Fprintf(w, " - %s\n", name)
		}
	}

	if wr := report.Wallet; wr != nil {
		switch wr.Status {
		case "demo":
			fmt.Fprintln(w, "\nWallet: demo wallet (no endpoint in use)")
		case "ok":
			fmt.Fprintf(w, "\nWallet: %s OK (ChainID: %d, %d authorized accounts)\n", wr.Endpoint, wr.ChainID, len(wr.Accounts))
		default:
			fmt.Fprintf(w, "\nWallet: %s Failed: %s\n", wr.Endpoint, wr.Error)
		}
	}

	if report.ConfigUpdated {
		fmt.Fprintln(w, "\nUpdating configuration with fetched Chain IDs...")
		switch {
		case report.DryRun:
			fmt.Fprintln(w, "Dry run enabled: Configuration NOT saved.")
		case report.SaveError != "":
			fmt.Fprintf(w, "Failed to save config: %s\n", report.SaveError)
		default:
			fmt.Fprintln(w, "Configuration saved successfully.")
		}
	}
}
