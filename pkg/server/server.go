package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/auth"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/collections"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/cosign"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/ratelimit"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/requestid"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
Server exposes the cosign authorization API.

Routes:
  GET  /             plain text banner
  POST /collections  upsert a collection window (x-admin-key)
  GET  /collections  list collection windows (x-admin-key)
  POST /cosign       sign {collection, minter, qty, cosigner, timestamp} for the minting contract

Every response carries permissive CORS headers. OPTIONS on any path returns
an empty 200, anything unmatched returns 404 "Not Found.".

Handlers never write error responses themselves: they attach the error to the
gin context and errorResponder maps it to a status and plain text body.
*/

const Banner = "NFT cosign authorization service"

type Config struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

// Dependencies are the components the handlers delegate to. Telemetry,
// Metrics and RateLimiter may be nil.
type Dependencies struct {
	Cosign      *cosign.Service
	Collections *collections.Store
	Guard       *auth.Guard
	RateLimiter *ratelimit.RateLimiter
	Telemetry   *telemetry.Sink
	Metrics     *metrics.Metrics
}

// Server handles HTTP requests for the cosigner
type Server struct {
	logger      *zap.Logger
	cosign      *cosign.Service
	collections *collections.Store
	guard       *auth.Guard
	limiter     *ratelimit.RateLimiter
	telemetry   *telemetry.Sink
	metrics     *metrics.Metrics
	engine      *gin.Engine
	httpServer  *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *Config, deps *Dependencies, logger *zap.Logger) *Server {
	s := &Server{
		logger:      logger,
		cosign:      deps.Cosign,
		collections: deps.Collections,
		guard:       deps.Guard,
		limiter:     deps.RateLimiter,
		telemetry:   deps.Telemetry,
		metrics:     deps.Metrics,
	}

	engine := gin.New()
	engine.Use(
		s.recovery(),
		requestid.Middleware(),
		s.requestLogger(),
		cors(),
		s.errorResponder(),
	)

	engine.GET("/", s.handleBanner)
	engine.POST("/collections", s.handleUpsertCollection)
	engine.GET("/collections", s.handleListCollections)
	if s.limiter.Enabled() {
		engine.POST("/cosign", s.limiter.Middleware(), s.handleCosign)
	} else {
		engine.POST("/cosign", s.handleCosign)
	}
	engine.NoRoute(s.handleNotFound)

	s.engine = engine

	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.engine
}

// MetricsServer serves prometheus metrics on their own listener.
type MetricsServer struct {
	logger     *zap.Logger
	httpServer *http.Server
}

func NewMetricsServer(port int, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		logger: logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (m *MetricsServer) Start() error {
	go func() {
		m.logger.Sugar().Infow("Starting metrics server", "port", m.httpServer.Addr)
		if err := m.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			m.logger.Sugar().Errorw("Metrics server error", "error", err)
		}
	}()
	return nil
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	return m.httpServer.Shutdown(ctx)
}

func (m *MetricsServer) GetHandler() http.Handler {
	return m.httpServer.Handler
}
