// Package market fetches the data shown next to the wallet: coin prices, gas
// prices and recent account activity. Every lookup is memoized.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"walletdash/pkg/cache"
	"walletdash/pkg/config"
	"walletdash/pkg/models"
	"walletdash/pkg/utils"
	"walletdash/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Service memoizes market lookups in a shared cache.
type Service struct {
	cache        *cache.Cache
	httpClient   *http.Client
	coinGeckoURL string
	timeout      time.Duration
	priceTTL     time.Duration
	activityTTL  time.Duration
	blocks       int
	maxTxs       int
	limiter      *rate.Limiter
	logger       *zap.Logger
}

func NewService(c *cache.Cache, cacheCfg config.CacheConfig, cfg config.MarketConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	return &Service{
		cache:        c,
		httpClient:   &http.Client{Timeout: timeout},
		coinGeckoURL: strings.TrimRight(cfg.CoinGeckoURL, "/"),
		timeout:      timeout,
		priceTTL:     time.Duration(cacheCfg.PriceTTLSeconds) * time.Second,
		activityTTL:  time.Duration(cacheCfg.ActivityTTLSeconds) * time.Second,
		blocks:       cfg.ActivityBlocks,
		maxTxs:       cfg.ActivityMaxTxs,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RPCRateLimit), cfg.RPCBurst),
		logger:       logger.Named("market"),
	}
}

// FetchPrice returns the USD price of a CoinGecko coin. An empty coinID has
// no price and is not an error.
func (s *Service) FetchPrice(ctx context.Context, coinID string) (models.PriceData, error) {
	if coinID == "" {
		return models.PriceData{CoinID: coinID}, nil
	}
	price, err := cache.Load(ctx, s.cache, "price:"+coinID, s.priceTTL, func(ctx context.Context) (float64, error) {
		return s.fetchPrice(ctx, coinID)
	})
	if err != nil {
		s.logger.Warn("Price lookup failed", zap.String("coin", coinID), zap.Error(err))
		return models.PriceData{CoinID: coinID, Err: err}, err
	}
	return models.PriceData{CoinID: coinID, Price: price}, nil
}

func (s *Service) fetchPrice(ctx context.Context, coinID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", s.coinGeckoURL, url.QueryEscape(coinID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price api returned %s", resp.Status)
	}

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	price, ok := result[coinID]["usd"]
	if !ok {
		return 0, fmt.Errorf("no usd price for %s", coinID)
	}
	return price, nil
}

// FetchGasPrice returns the suggested gas price from the first RPC that
// answers.
func (s *Service) FetchGasPrice(ctx context.Context, rpcURLs []string) (models.GasPriceData, error) {
	key := "gas:" + strings.Join(rpcURLs, ",")
	data, err := cache.Load(ctx, s.cache, key, 0, func(ctx context.Context) (models.GasPriceData, error) {
		return s.fetchGasPrice(ctx, rpcURLs)
	})
	if err != nil {
		return models.GasPriceData{Err: err, FailedRPCs: rpcURLs}, err
	}
	return data, nil
}

func (s *Service) fetchGasPrice(ctx context.Context, rpcURLs []string) (models.GasPriceData, error) {
	var failed []string
	lastErr := fmt.Errorf("no rpc urls configured")
	for _, rpcURL := range rpcURLs {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		client, err := ethclient.DialContext(callCtx, rpcURL)
		if err != nil {
			cancel()
			failed = append(failed, rpcURL)
			lastErr = err
			continue
		}
		price, err := client.SuggestGasPrice(callCtx)
		client.Close()
		cancel()
		if err != nil {
			failed = append(failed, rpcURL)
			lastErr = err
			continue
		}
		return models.GasPriceData{Price: price, FailedRPCs: failed}, nil
	}
	return models.GasPriceData{}, lastErr
}

type activity struct {
	txs    []models.Transaction
	failed []string
}

// FetchRecentActivity scans the latest blocks for transactions sent from or
// to address. It returns the transactions found and the RPCs that failed.
func (s *Service) FetchRecentActivity(ctx context.Context, rpcURLs []string, address string, decimals int) ([]models.Transaction, []string, error) {
	key := fmt.Sprintf("activity:%s@%s", strings.ToLower(address), strings.Join(rpcURLs, ","))
	a, err := cache.Load(ctx, s.cache, key, s.activityTTL, func(ctx context.Context) (activity, error) {
		return s.fetchActivity(ctx, rpcURLs, address, decimals)
	})
	if err != nil {
		s.logger.Warn("Activity lookup failed", zap.String("address", address), zap.Error(err))
		return nil, rpcURLs, err
	}
	return a.txs, a.failed, nil
}

func (s *Service) fetchActivity(ctx context.Context, rpcURLs []string, address string, decimals int) (activity, error) {
	var failed []string
	lastErr := fmt.Errorf("no rpc urls configured")
	target := common.HexToAddress(address)

	for _, rpcURL := range rpcURLs {
		txs, err := s.scanBlocks(ctx, rpcURL, target, decimals)
		if err != nil {
			s.logger.Debug("Activity scan failed", zap.String("rpc", rpcURL), zap.Error(err))
			failed = append(failed, rpcURL)
			lastErr = err
			continue
		}
		return activity{txs: txs, failed: failed}, nil
	}
	return activity{}, lastErr
}

func (s *Service) scanBlocks(ctx context.Context, rpcURL string, target common.Address, decimals int) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	signer := types.NewLondonSigner(chainID)

	head := header.Number.Int64()
	count := s.blocks
	if int64(count) > head+1 {
		count = int(head + 1)
	}

	blocks := make([]*types.Block, count)
	blockErrs := make([]error, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			blocks[i], blockErrs[i] = client.BlockByNumber(gctx, big.NewInt(head-int64(i)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var txs []models.Transaction
	var blockErr error
	for i, block := range blocks {
		if blockErrs[i] != nil {
			blockErr = blockErrs[i]
			continue
		}
		for _, tx := range block.Transactions() {
			if len(txs) >= s.maxTxs {
				return txs, nil
			}
			from, err := types.Sender(signer, tx)
			if err != nil {
				continue
			}
			isTo := tx.To() != nil && *tx.To() == target
			if from != target && !isTo {
				continue
			}
			txs = append(txs, toTransaction(tx, from, block.NumberU64(), decimals))
		}
	}
	if blockErr != nil && len(txs) == 0 {
		return nil, blockErr
	}
	return txs, nil
}

func toTransaction(tx *types.Transaction, from common.Address, blockNumber uint64, decimals int) models.Transaction {
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(tx.GasPrice()), big.NewFloat(1e9)).Float64()
	t := models.Transaction{
		Hash:        tx.Hash().Hex(),
		From:        from.Hex(),
		To:          "Contract",
		Value:       utils.FormatUnits(tx.Value(), wallet.NativeDecimals, decimals),
		BlockNumber: blockNumber,
		GasLimit:    tx.Gas(),
		GasPrice:    fmt.Sprintf("%.2f Gwei", gwei),
		Nonce:       tx.Nonce(),
	}
	if tx.To() != nil {
		t.To = tx.To().Hex()
	}
	return t
}

// ProbeRPC dials rpcURL and reads its chain id, measuring the round trip.
func ProbeRPC(ctx context.Context, rpcURL string, timeout time.Duration) (models.RPCResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return models.RPCResult{URL: rpcURL, Status: "error", Error: err.Error()}, err
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return models.RPCResult{URL: rpcURL, Status: "error", Error: err.Error()}, err
	}
	return models.RPCResult{
		URL:       rpcURL,
		Status:    "ok",
		ChainID:   chainID.Int64(),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
