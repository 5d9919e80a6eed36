// Package server exposes the wallet manager over HTTP and WebSocket so that
// browser dashboards share the session held by this process.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"walletdash/pkg/cache"
	"walletdash/pkg/config"
	"walletdash/pkg/market"
	"walletdash/pkg/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server. Market and Cache are optional.
type Options struct {
	Manager  *wallet.Manager
	Market   *market.Service
	Cache    *cache.Cache
	Gatherer prometheus.Gatherer
	Config   config.ServerConfig
	Logger   *zap.Logger
}

type Server struct {
	manager  *wallet.Manager
	market   *market.Service
	cache    *cache.Cache
	gatherer prometheus.Gatherer
	cfg      config.ServerConfig
	logger   *zap.Logger
	engine   *gin.Engine
	hub      *hub
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		manager:  opts.Manager,
		market:   opts.Market,
		cache:    opts.Cache,
		gatherer: opts.Gatherer,
		cfg:      opts.Config,
		logger:   opts.Logger.Named("server"),
	}
	s.hub = newHub(s.logger, s.snapshotFor)
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(CORS(s.cfg.CORSOrigins))
	r.Use(RequestLogger(s.logger))
	r.Use(Recovery(s.logger))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	{
		api.GET("/session", s.handleSession)
		api.GET("/session/qr", s.handleSessionQR)
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/refresh", s.handleRefresh)
		api.POST("/network", s.handleSwitchNetwork)
		api.GET("/networks", s.handleNetworks)
		api.GET("/activity", s.handleActivity)
		api.GET("/price", s.handlePrice)
		api.GET("/gas", s.handleGas)
		api.GET("/cache", s.handleCacheStats)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := s.manager.Subscribe()
	go s.forwardEvents(ctx, sub)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	s.hub.closeAll()
	return srv.Shutdown(shutdownCtx)
}

// forwardEvents relays wallet events from sub to WebSocket subscribers until
// ctx is done. It owns sub and unsubscribes it on return.
func (s *Server) forwardEvents(ctx context.Context, sub wallet.Subscriber) {
	defer s.manager.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.hub.broadcast(ChannelSession, event)
		}
	}
}

func (s *Server) snapshotFor(channel string) (interface{}, bool) {
	if channel != ChannelSession {
		return nil, false
	}
	return wallet.Event{Type: wallet.EventSnapshot, Session: s.manager.Session()}, true
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.serve(conn)
}
