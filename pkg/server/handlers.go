package server

import (
	"fmt"
	"net/http"
	"strconv"

	"walletdash/pkg/config"
	"walletdash/pkg/utils"
	"walletdash/pkg/wallet"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type switchNetworkRequest struct {
	ChainID int64 `json:"chainId" binding:"required"`
}

// NetworkView is a configured network as listed by the API.
type NetworkView struct {
	Name        string `json:"name"`
	ChainID     int64  `json:"chainId"`
	Symbol      string `json:"symbol"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	Expected    bool   `json:"expected"`
	Active      bool   `json:"active"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"provider":   s.manager.ProviderName(),
		"demo":       s.manager.IsDemo(),
		"ws_clients": s.hub.count(),
	})
}

func (s *Server) handleSession(c *gin.Context) {
	respondOK(c, s.manager.Session())
}

func (s *Server) handleConnect(c *gin.Context) {
	session, err := s.manager.Connect(c.Request.Context())
	if err != nil {
		respondWalletError(c, err)
		return
	}
	respondOK(c, session)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	respondOK(c, s.manager.Disconnect())
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.manager.RefreshBalance(c.Request.Context()); err != nil {
		respondWalletError(c, err)
		return
	}
	respondOK(c, s.manager.Session())
}

func (s *Server) handleSwitchNetwork(c *gin.Context) {
	var req switchNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeBadRequest, "body must be {\"chainId\": <number>}")
		return
	}
	if err := s.manager.SwitchNetwork(c.Request.Context(), req.ChainID); err != nil {
		respondWalletError(c, err)
		return
	}
	respondOK(c, s.manager.Session())
}

func (s *Server) handleNetworks(c *gin.Context) {
	active := s.manager.Session().ChainIDOrZero()
	networks := s.manager.Networks()
	out := make([]NetworkView, 0, len(networks))
	for _, n := range networks {
		out = append(out, NetworkView{
			Name:        n.Name,
			ChainID:     n.ChainID,
			Symbol:      n.Symbol,
			ExplorerURL: n.ExplorerURL,
			Expected:    n.ChainID == s.manager.ExpectedChainID(),
			Active:      active != 0 && n.ChainID == active,
		})
	}
	respondOK(c, out)
}

// currentNetwork is the connected chain's network, or the expected one while
// disconnected.
func (s *Server) currentNetwork() (config.NetworkConfig, bool) {
	chainID := s.manager.Session().ChainIDOrZero()
	if chainID == 0 {
		chainID = s.manager.ExpectedChainID()
	}
	return s.manager.Network(chainID)
}

func (s *Server) requireMarket(c *gin.Context) bool {
	if s.market == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUpstream, "market data is disabled")
		return false
	}
	return true
}

func (s *Server) handleActivity(c *gin.Context) {
	if !s.requireMarket(c) {
		return
	}
	session := s.manager.Session()
	if !session.IsConnected {
		respondWalletError(c, &wallet.Error{Op: "activity", Code: wallet.CodeNotConnected, Err: wallet.ErrNotConnected})
		return
	}
	network, ok := s.manager.Network(session.ChainIDOrZero())
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("chain %d is not configured", session.ChainIDOrZero()))
		return
	}

	txs, failed, err := s.market.FetchRecentActivity(c.Request.Context(), network.RPCURLs, session.AddressOrEmpty(), wallet.BalanceDisplayDecimals)
	if err != nil {
		respondError(c, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}
	respondOK(c, gin.H{"transactions": txs, "failedRpcs": failed})
}

func (s *Server) handlePrice(c *gin.Context) {
	if !s.requireMarket(c) {
		return
	}
	network, ok := s.currentNetwork()
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, "no network selected")
		return
	}
	price, err := s.market.FetchPrice(c.Request.Context(), network.CoinGeckoID)
	if err != nil {
		respondError(c, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}

	session := s.manager.Session()
	balanceUSD := utils.UnitsToFloat(session.Balance, wallet.NativeDecimals) * price.Price
	respondOK(c, gin.H{
		"coinId":     price.CoinID,
		"symbol":     network.Symbol,
		"price":      price.Price,
		"balanceUsd": balanceUSD,
	})
}

func (s *Server) handleGas(c *gin.Context) {
	if !s.requireMarket(c) {
		return
	}
	network, ok := s.currentNetwork()
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, "no network selected")
		return
	}
	gas, err := s.market.FetchGasPrice(c.Request.Context(), network.RPCURLs)
	if err != nil {
		respondError(c, http.StatusBadGateway, CodeUpstream, err.Error())
		return
	}
	respondOK(c, gin.H{
		"wei":        gas.Price.String(),
		"gwei":       utils.FormatUnits(gas.Price, 9, 2),
		"failedRpcs": gas.FailedRPCs,
	})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUpstream, "cache is disabled")
		return
	}
	respondOK(c, s.cache.Stats())
}

// handleSessionQR renders the connected address as an EIP-681 QR code.
func (s *Server) handleSessionQR(c *gin.Context) {
	session := s.manager.Session()
	if !session.IsConnected {
		respondWalletError(c, &wallet.Error{Op: "qr", Code: wallet.CodeNotConnected, Err: wallet.ErrNotConnected})
		return
	}

	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > maxQRSize {
			respondError(c, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("size must be between 64 and %d", maxQRSize))
			return
		}
		size = n
	}

	png, err := qrcode.Encode(utils.PaymentURI(session.AddressOrEmpty(), session.ChainIDOrZero()), qrcode.Medium, size)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
