// Package server exposes the facilitator over HTTP: /supported, /prepare,
// /verify, /settle, /health.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/amiko-network/x402-facilitator"
)

// AuthHeader carries the shared secret required for custodial settle
// requests.
const AuthHeader = "X-Amiko-Auth"

const (
	verifyTimeout = 30 * time.Second
	settleTimeout = 90 * time.Second
)

// Preparer assembles an unsigned payment transaction for a wallet. The SVM
// mechanism implements it; /prepare rejects networks with no registered
// preparer.
type Preparer interface {
	Prepare(ctx context.Context, walletAddress string, requirements x402.PaymentRequirements, enableTrustless bool) (string, x402.PaymentRequirements, error)
}

// Server holds the HTTP surface's collaborators.
type Server struct {
	facilitator *x402.Facilitator
	preparers   map[x402.Network]Preparer
	authSecret  string
	log         *zap.Logger
}

// New builds a server around a configured facilitator. authSecret may be
// empty; custodial settle requests then fail closed.
func New(facilitator *x402.Facilitator, authSecret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		facilitator: facilitator,
		preparers:   make(map[x402.Network]Preparer),
		authSecret:  authSecret,
		log:         log,
	}
}

// RegisterPreparer enables /prepare for a network.
func (s *Server) RegisterPreparer(network x402.Network, p Preparer) {
	s.preparers[network] = p
}

// Router assembles the gin engine with CORS, recovery, and request logging.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", AuthHeader}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)
	r.GET("/supported", s.handleSupported)
	r.POST("/prepare", s.handlePrepare)
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	return r
}

// Run serves the router until the listener fails.
func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

// requestLogger tags every request with an id and logs the outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("requestID", requestID)
		start := time.Now()

		c.Next()

		s.log.Info("request",
			zap.String("requestId", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.Supported())
}

func (s *Server) handleVerify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, x402.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
	defer cancel()

	c.JSON(http.StatusOK, s.facilitator.Verify(ctx, req.PaymentPayload, req.PaymentRequirements))
}

func (s *Server) handleSettle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, x402.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	// Custodial settlements ride on the facilitator's Crossmint
	// credentials, so they require the shared-secret header. A deployment
	// without the secret configured cannot serve them at all.
	if req.PaymentRequirements.IsCrossmintWallet() {
		if s.authSecret == "" {
			c.JSON(http.StatusInternalServerError, x402.ErrorResponse{
				Error:   "server_configuration_error",
				Message: "custodial settlement requested but no auth secret is configured",
			})
			return
		}
		provided := c.GetHeader(AuthHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.authSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, x402.ErrorResponse{Error: "unauthorized"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), settleTimeout)
	defer cancel()

	c.JSON(http.StatusOK, s.facilitator.Settle(ctx, req.PaymentPayload, req.PaymentRequirements))
}

func (s *Server) handlePrepare(c *gin.Context) {
	var req x402.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, x402.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	preparer := s.preparers[req.PaymentRequirements.Network]
	if preparer == nil {
		c.JSON(http.StatusBadRequest, x402.ErrorResponse{
			Error:   "invalid_network",
			Message: "transaction preparation is only supported on SVM networks",
		})
		return
	}

	transaction, enriched, err := preparer.Prepare(c.Request.Context(), req.WalletAddress, req.PaymentRequirements, req.EnableTrustless)
	if err != nil {
		c.JSON(http.StatusBadRequest, x402.ErrorResponse{Error: "prepare_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, x402.PrepareResponse{
		Transaction:         transaction,
		PaymentRequirements: enriched,
	})
}
