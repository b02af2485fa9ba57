package server

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trading-gateway/src/alerting"
	"trading-gateway/src/cache"
	"trading-gateway/src/config"
	"trading-gateway/src/interfaces"
	"trading-gateway/src/logger"
	"trading-gateway/src/metrics"
	"trading-gateway/src/ratelimit"
	"trading-gateway/src/reliable"
	"trading-gateway/src/rooms"
	"trading-gateway/src/session"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// GatewayServer
// -----------------------------------------------------------------------------

type GatewayServer struct {
	Config *config.Config
	Logger *logger.Logger
	engine *gin.Engine

	// Core layers
	Sessions  *session.Registry
	Rooms     *rooms.Registry
	Idem      interfaces.IIdempotencyCache
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Collector
	Alerts    *alerting.Engine
	inspector *HandshakeInspector

	// External collaborators
	Risk     interfaces.IRiskValidator
	History  interfaces.IHistoryRepository
	OrderLog interfaces.IOrderLog

	// Dispatch
	handlers   map[string]HandlerFunc
	middleware []Middleware

	// Connected transports, one per bound session
	connMu  sync.Mutex
	clients map[string]*Client

	// Order ids and market tick sequence are process-wide monotonic
	orderSeq  atomic.Int64
	marketSeq atomic.Int64

	stop    chan struct{}
	stopped sync.Once
}

// -----------------------------------------------------------------------------
// Dependencies carries the collaborator implementations injected at build time.
// -----------------------------------------------------------------------------

type Dependencies struct {
	Risk     interfaces.IRiskValidator
	History  interfaces.IHistoryRepository
	OrderLog interfaces.IOrderLog
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewGatewayServer(cfg *config.Config, log *logger.Logger, deps Dependencies) *GatewayServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	qos := reliable.Options{
		BaseRetry:  time.Duration(cfg.QoS.BaseRetryMs) * time.Millisecond,
		MaxBackoff: time.Duration(cfg.QoS.MaxBackoffMs) * time.Millisecond,
		MaxRetry:   cfg.QoS.MaxRetry,
	}

	s := &GatewayServer{
		Config:   cfg,
		Logger:   log,
		engine:   gin.Default(),
		Idem:     cache.NewIdempotencyCache(time.Duration(cfg.Idempotency.SweepIntervalSecs) * time.Second),
		Limiter:  ratelimit.NewLimiter(time.Duration(cfg.RateLimit.OrderIntervalMs) * time.Millisecond),
		Metrics:  metrics.NewCollector(),
		Alerts:   alerting.NewEngine(),
		Risk:     deps.Risk,
		History:  deps.History,
		OrderLog: deps.OrderLog,
		handlers: make(map[string]HandlerFunc),
		clients:  make(map[string]*Client),
		stop:     make(chan struct{}),
	}

	s.inspector = NewHandshakeInspector(cfg.JWTSecret, log.Named("Handshake"))

	s.Sessions = session.NewRegistry(
		time.Duration(cfg.Session.TTLMs)*time.Millisecond,
		qos,
		time.Duration(cfg.Session.SweepIntervalSecs)*time.Second,
		log.Named("Sessions"),
	)

	s.Rooms = rooms.NewRegistry(s.sendToSession, log.Named("Rooms"))

	// A destroyed session leaves its rooms and rate limit state behind
	s.Sessions.SetDestroyHandler(func(sessionID string) {
		s.Rooms.LeaveAll(sessionID)
		s.Limiter.Forget(sessionID)
	})

	s.orderSeq.Store(time.Now().UnixMilli())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupMiddleware()
	s.setupHandlers()
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *GatewayServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/metrics", s.getMetrics)
	s.engine.GET("/api/config", s.getConfig)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *GatewayServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting gateway on %s", addr)

	go s.runSimulator()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) Stop() error {
	s.stopped.Do(func() { close(s.stop) })

	// Drop every connected transport, then the sessions behind them
	s.connMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.connMu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	s.Sessions.Close()
	if closer, ok := s.Idem.(*cache.IdempotencyCache); ok {
		closer.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Room delivery: market data and alerts are fire-and-forget pushes.
// -----------------------------------------------------------------------------

func (s *GatewayServer) sendToSession(sessionID, method string, payload []byte) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return
	}
	if err := sess.Outbound.FireAndForget(method, payload); err != nil {
		s.Logger.Debug("push to session %s failed: %v", sessionID, err)
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *GatewayServer) getHealth(c *gin.Context) {
	s.connMu.Lock()
	connections := len(s.clients)
	s.connMu.Unlock()

	c.JSON(200, gin.H{
		"status":      "ok",
		"connections": connections,
		"sessions":    s.Sessions.Count(),
		"uptime_ms":   s.Metrics.UptimeMs(),
	})
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) getMetrics(c *gin.Context) {
	c.JSON(200, s.Metrics.Snapshot())
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) getConfig(c *gin.Context) {
	c.JSON(200, gin.H{
		"symbols":          s.Config.SymbolCodes(),
		"session_ttl_ms":   s.Config.Session.TTLMs,
		"tick_interval_ms": s.Config.Market.TickIntervalMs,
		"qos": gin.H{
			"base_retry_ms":  s.Config.QoS.BaseRetryMs,
			"max_backoff_ms": s.Config.QoS.MaxBackoffMs,
			"max_retry":      s.Config.QoS.MaxRetry,
		},
	})
}

// -----------------------------------------------------------------------------
// Connection tracking
// -----------------------------------------------------------------------------

// bindClient records the transport now serving the session.
func (s *GatewayServer) bindClient(sessionID string, c *Client) {
	s.connMu.Lock()
	prev := s.clients[sessionID]
	s.clients[sessionID] = c
	s.connMu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
	}
}

// -----------------------------------------------------------------------------

// unbindClient clears the mapping if c still serves the session and reports
// whether it did. A session resumed by a newer transport stays bound.
func (s *GatewayServer) unbindClient(sessionID string, c *Client) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.clients[sessionID] != c {
		return false
	}
	delete(s.clients, sessionID)
	return true
}
