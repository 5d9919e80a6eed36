package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/logger"
	"walletdash/pkg/metrics"
	"walletdash/pkg/realtime"
	"walletdash/pkg/server"
	"walletdash/pkg/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchURL picks the feed to follow: the flag, then realtime.url, then the
// /ws endpoint of the configured server address.
func watchURL(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Realtime.URL != "" {
		return cfg.Realtime.URL
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "ws://" + addr + "/ws"
}

// formatEvent renders one session event as a log line.
func formatEvent(ev wallet.Event) string {
	s := ev.Session
	chain := "-"
	if s.ChainID != nil {
		chain = fmt.Sprintf("%d", *s.ChainID)
	}
	address := s.AddressOrEmpty()
	if address == "" {
		address = "-"
	}
	line := fmt.Sprintf("%-16s status=%s address=%s chain=%s balance=%s %s",
		ev.Type, s.Status, address, chain, s.BalanceFormatted, s.Symbol)
	if s.ErrorCode != "" {
		line += fmt.Sprintf(" error=%s", s.ErrorCode)
	}
	return line
}

func sessionHandler(out io.Writer, log *zap.Logger) realtime.Handler {
	return func(data json.RawMessage) {
		var ev wallet.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("Skipping malformed session event", zap.Error(err))
			return
		}
		fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), formatEvent(ev))
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging, verboseFlag, false)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rtCfg := cfg.Realtime
	rtCfg.URL = watchURL(cfg, urlFlag)
	client := realtime.FromConfig(rtCfg, log, metrics.New(prometheus.NewRegistry()))
	if err := client.Subscribe(server.ChannelSession, sessionHandler(cmd.OutOrStdout(), log)); err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	log.Info("Watching session events", zap.String("url", rtCfg.URL))
	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connection to %s lost after %d attempts", rtCfg.URL, rtCfg.MaxReconnectAttempts)
	}
}
