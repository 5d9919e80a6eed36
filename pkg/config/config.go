package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = ".walletdash.json"

// EnvPrefix prefixes environment overrides, e.g. WALLETDASH_WALLET_ENDPOINT.
const EnvPrefix = "WALLETDASH"

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// Demo mode settings for wallet.demoMode.
const (
	DemoAuto   = "auto"   // demo wallet only when no endpoint is reachable
	DemoAlways = "always" // never talk to a real wallet
	DemoNever  = "never"  // connecting without a wallet is an error
)

// Format is the on-disk encoding of a config file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// NetworkConfig holds configuration for an EVM network the wallet may use.
type NetworkConfig struct {
	Name        string   `json:"name" yaml:"name"`
	ChainID     int64    `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	Symbol      string   `json:"symbol" yaml:"symbol"`
	RPCURLs     []string `json:"rpc_urls" yaml:"rpc_urls"`
	CoinGeckoID string   `json:"coingecko_id,omitempty" yaml:"coingecko_id,omitempty"`
	ExplorerURL string   `json:"explorer_url,omitempty" yaml:"explorer_url,omitempty"`
}

// WalletConfig controls how the wallet provider is found and called.
type WalletConfig struct {
	// Endpoint is a JSON-RPC wallet endpoint (http, https, ws or wss).
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ExpectedChainID int64  `json:"expected_chain_id" yaml:"expected_chain_id"`
	DemoMode        string `json:"demo_mode" yaml:"demo_mode"`
	CallTimeoutMs   int    `json:"call_timeout_ms" yaml:"call_timeout_ms"`
	PollIntervalMs  int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr                string `json:"addr" yaml:"addr"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// MarketConfig controls price and activity lookups.
type MarketConfig struct {
	CoinGeckoURL          string  `json:"coingecko_url" yaml:"coingecko_url"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	RPCRateLimit          float64 `json:"rpc_rate_limit" yaml:"rpc_rate_limit"` // requests per second
	RPCBurst              int     `json:"rpc_burst" yaml:"rpc_burst"`
	ActivityBlocks        int     `json:"activity_blocks" yaml:"activity_blocks"`
	ActivityMaxTxs        int     `json:"activity_max_txs" yaml:"activity_max_txs"`
}

// CacheConfig holds TTLs for memoized lookups.
type CacheConfig struct {
	DefaultTTLSeconds      int `json:"default_ttl_seconds" yaml:"default_ttl_seconds"`
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
	PriceTTLSeconds        int `json:"price_ttl_seconds" yaml:"price_ttl_seconds"`
	ActivityTTLSeconds     int `json:"activity_ttl_seconds" yaml:"activity_ttl_seconds"`
}

// RealtimeConfig holds the WebSocket feed settings.
type RealtimeConfig struct {
	URL                  string `json:"url,omitempty" yaml:"url,omitempty"`
	ReconnectIntervalMs  int    `json:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or console
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// UIConfig holds dashboard display settings.
type UIConfig struct {
	FiatDecimals         int `json:"fiat_decimals" yaml:"fiat_decimals"`
	TokenDecimals        int `json:"token_decimals" yaml:"token_decimals"`
	StatusTimeoutSeconds int `json:"status_timeout_seconds" yaml:"status_timeout_seconds"`
	RefreshSeconds       int `json:"refresh_seconds" yaml:"refresh_seconds"`
}

// Config is the whole application configuration.
type Config struct {
	Networks        []NetworkConfig `json:"networks" yaml:"networks"`
	SelectedNetwork string          `json:"selected_network,omitempty" yaml:"selected_network,omitempty"`
	Wallet          WalletConfig    `json:"wallet" yaml:"wallet"`
	Server          ServerConfig    `json:"server" yaml:"server"`
	Cache           CacheConfig     `json:"cache" yaml:"cache"`
	Market          MarketConfig    `json:"market" yaml:"market"`
	Realtime        RealtimeConfig  `json:"realtime" yaml:"realtime"`
	Logging         LoggingConfig   `json:"logging" yaml:"logging"`
	UI              UIConfig        `json:"ui" yaml:"ui"`
}

// DefaultNetworks is used when a config file lists no networks.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			Name:        "Kaia",
			ChainID:     8217,
			Symbol:      "KAIA",
			RPCURLs:     []string{"https://public-en.node.kaia.io"},
			CoinGeckoID: "kaia",
			ExplorerURL: "https://kaiascan.io",
		},
		{
			Name:        "Kairos",
			ChainID:     1001,
			Symbol:      "KAIA",
			RPCURLs:     []string{"https://public-en-kairos.node.kaia.io"},
			ExplorerURL: "https://kairos.kaiascan.io",
		},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if len(c.Networks) == 0 {
		c.Networks = DefaultNetworks()
	}
	if c.Wallet.ExpectedChainID == 0 {
		c.Wallet.ExpectedChainID = 8217
	}
	if c.Wallet.DemoMode == "" {
		c.Wallet.DemoMode = DemoAuto
	}
	if c.Wallet.CallTimeoutMs <= 0 {
		c.Wallet.CallTimeoutMs = 30000
	}
	if c.Wallet.PollIntervalMs <= 0 {
		c.Wallet.PollIntervalMs = 4000
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 45
	}
	if c.Server.IdleTimeoutSeconds <= 0 {
		c.Server.IdleTimeoutSeconds = 60
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		c.Cache.DefaultTTLSeconds = 300
	}
	if c.Cache.CleanupIntervalSeconds <= 0 {
		c.Cache.CleanupIntervalSeconds = 600
	}
	if c.Cache.PriceTTLSeconds <= 0 {
		c.Cache.PriceTTLSeconds = 60
	}
	if c.Cache.ActivityTTLSeconds <= 0 {
		c.Cache.ActivityTTLSeconds = 30
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Market.CoinGeckoURL == "" {
		c.Market.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if c.Market.RequestTimeoutSeconds <= 0 {
		c.Market.RequestTimeoutSeconds = 10
	}
	if c.Market.RPCRateLimit <= 0 {
		c.Market.RPCRateLimit = 10
	}
	if c.Market.RPCBurst <= 0 {
		c.Market.RPCBurst = 5
	}
	if c.Market.ActivityBlocks <= 0 {
		c.Market.ActivityBlocks = 10
	}
	if c.Market.ActivityMaxTxs <= 0 {
		c.Market.ActivityMaxTxs = 5
	}
	if c.Realtime.ReconnectIntervalMs <= 0 {
		c.Realtime.ReconnectIntervalMs = 3000
	}
	if c.Realtime.MaxReconnectAttempts <= 0 {
		c.Realtime.MaxReconnectAttempts = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.UI.FiatDecimals <= 0 {
		c.UI.FiatDecimals = 2
	}
	if c.UI.TokenDecimals <= 0 {
		c.UI.TokenDecimals = 4
	}
	if c.UI.StatusTimeoutSeconds <= 0 {
		c.UI.StatusTimeoutSeconds = 3
	}
	if c.UI.RefreshSeconds <= 0 {
		c.UI.RefreshSeconds = 30
	}
}

// Validate reports structural problems that defaults cannot fix.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("validation failed: configuration must have at least one network")
	}
	seen := make(map[int64]string)
	for i, n := range c.Networks {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("validation failed: network at index %d has no name", i)
		}
		if len(n.RPCURLs) == 0 {
			return fmt.Errorf("validation failed: network %s has no RPC URLs", n.Name)
		}
		if n.ChainID != 0 {
			if other, ok := seen[n.ChainID]; ok {
				return fmt.Errorf("validation failed: networks %s and %s share chain id %d", other, n.Name, n.ChainID)
			}
			seen[n.ChainID] = n.Name
		}
	}
	switch c.Wallet.DemoMode {
	case DemoAuto, DemoAlways, DemoNever:
	default:
		return fmt.Errorf("validation failed: unknown wallet demo_mode %q", c.Wallet.DemoMode)
	}
	return nil
}

// envOverrides are the settings that may come from the environment.
type envOverrides struct {
	WalletEndpoint  string `envconfig:"WALLET_ENDPOINT"`
	DemoMode        string `envconfig:"DEMO_MODE"`
	ExpectedChainID int64  `envconfig:"EXPECTED_CHAIN_ID"`
	ServerAddr      string `envconfig:"SERVER_ADDR"`
	RealtimeURL     string `envconfig:"REALTIME_URL"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogFile         string `envconfig:"LOG_FILE"`
}

// ApplyEnv overlays WALLETDASH_* environment variables onto c and validates
// the result.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	if env.WalletEndpoint != "" {
		c.Wallet.Endpoint = env.WalletEndpoint
	}
	if env.DemoMode != "" {
		c.Wallet.DemoMode = strings.ToLower(env.DemoMode)
	}
	if env.ExpectedChainID != 0 {
		c.Wallet.ExpectedChainID = env.ExpectedChainID
	}
	if env.ServerAddr != "" {
		c.Server.Addr = env.ServerAddr
	}
	if env.RealtimeURL != "" {
		c.Realtime.URL = env.RealtimeURL
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFile != "" {
		c.Logging.File = env.LogFile
	}
	return c.Validate()
}

// NetworkByChainID looks up a configured network.
func (c *Config) NetworkByChainID(chainID int64) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// CallTimeout returns the per provider call timeout.
func (w WalletConfig) CallTimeout() time.Duration {
	return time.Duration(w.CallTimeoutMs) * time.Millisecond
}

// PollInterval returns the provider event polling interval.
func (w WalletConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadConfigFromFile reads a config file. A missing file yields the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f, FormatForPath(path))
}

func LoadConfig(r io.Reader, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode yaml config: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode json config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func encode(cfg *Config, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// SaveConfig validates and writes cfg to path, keeping a timestamped backup of
// the previous file.
func SaveConfig(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := encode(cfg, FormatForPath(path))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
