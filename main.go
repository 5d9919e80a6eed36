package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"walletdash/pkg/cache"
	"walletdash/pkg/check"
	"walletdash/pkg/config"
	"walletdash/pkg/logger"
	"walletdash/pkg/market"
	"walletdash/pkg/metrics"
	"walletdash/pkg/provider"
	"walletdash/pkg/server"
	"walletdash/pkg/tui"
	"walletdash/pkg/wallet"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version should be set during build
var Version = "dev"

var (
	configFlag  string
	verboseFlag bool

	jsonFlag   bool
	dryRunFlag bool
	addrFlag   string
	urlFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "walletdash",
	Short: "Wallet dashboard for EVM networks",
	Long: `walletdash connects to a JSON-RPC wallet (or a demo wallet when none is
available) and shows the active account, network and balance.

Run without arguments to start the terminal dashboard.`,
	SilenceUsage: true,
	RunE:         runDashboard,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the wallet session over HTTP and WebSocket",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the configuration against its RPC and wallet endpoints",
	Long: `Probes every configured RPC for its chain id and the wallet endpoint for
its accounts. Networks without a chain id get the one their RPCs report,
saved back to the config file unless --dry-run is given.`,
	RunE: runCheck,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow session events from a running walletdash server",
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "walletdash version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to configuration file (default ~/"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	checkCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output test results as JSON")
	checkCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Perform a trial run with no changes made")

	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides server.addr)")

	watchCmd.Flags().StringVar(&urlFlag, "url", "", "WebSocket URL (default realtime.url, then the local server)")

	rootCmd.AddCommand(serveCmd, checkCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config path and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	path, err := config.GetConfigPath(configFlag)
	if err != nil {
		return nil, "", fmt.Errorf("error determining config path: %w", err)
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// app holds the components shared by the dashboard and the server.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	provider provider.WalletProvider
	manager  *wallet.Manager
	cache    *cache.Cache
	market   *market.Service
}

// newApp builds the wallet manager and its supporting services. quiet keeps
// logs off the terminal unless a log file is configured.
func newApp(ctx context.Context, cfg *config.Config, quiet bool) (*app, error) {
	log, err := logger.New(cfg.Logging, verboseFlag, quiet)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	p := provider.Detect(ctx, cfg.Wallet, log)
	mgr, err := wallet.NewManager(wallet.Options{
		Provider:        p,
		DemoMode:        cfg.Wallet.DemoMode,
		ExpectedChainID: cfg.Wallet.ExpectedChainID,
		Networks:        cfg.Networks,
		CallTimeout:     cfg.Wallet.CallTimeout(),
		Logger:          log,
		Metrics:         m,
	})
	if err != nil {
		if p != nil {
			p.Close()
		}
		_ = log.Sync()
		return nil, err
	}

	c := cache.FromConfig(cfg.Cache, log, m)
	return &app{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		provider: p,
		manager:  mgr,
		cache:    c,
		market:   market.NewService(c, cfg.Cache, cfg.Market, log),
	}, nil
}

// close stops the manager before releasing the detected wallet it uses.
func (a *app) close() {
	a.manager.Close()
	if a.provider != nil {
		a.provider.Close()
	}
	_ = a.logger.Sync()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	a.manager.Start(ctx)
	err = tui.Start(ctx, a.manager, a.market, cfg.UI, Version)
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	a.manager.Start(ctx)
	srv := server.NewServer(server.Options{
		Manager:  a.manager,
		Market:   a.market,
		Cache:    a.cache,
		Gatherer: a.registry,
		Config:   cfg.Server,
		Logger:   a.logger,
	})
	a.logger.Info("Starting walletdash server",
		zap.String("version", Version),
		zap.String("provider", a.manager.ProviderName()),
		zap.Bool("demo", a.manager.IsDemo()),
	)
	return srv.Run(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging, verboseFlag, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	report, runErr := check.Run(cmd.Context(), cfg, path, check.Options{DryRun: dryRunFlag, Logger: log})
	out := cmd.OutOrStdout()
	if jsonFlag {
		if err := check.WriteJSON(out, report); err != nil {
			return err
		}
	} else {
		check.WriteText(out, report)
	}
	return runErr
}
