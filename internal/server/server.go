// Package server is the facilitator's HTTP boundary: health, network
// discovery, payment verification, and settlement endpoints.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
	"github.com/TheGreatAxios/x402-facilitator/internal/registry"
	"github.com/TheGreatAxios/x402-facilitator/internal/settle"
	"github.com/TheGreatAxios/x402-facilitator/internal/verify"
)

// Server wires the verification engine, settlement executor, and queue
// behind the facilitator endpoints.
type Server struct {
	engine   *verify.Engine
	executor *settle.Executor
	queue    *settle.Queue
	registry *registry.Registry
	grace    time.Duration
	log      *zap.Logger
}

func New(engine *verify.Engine, executor *settle.Executor, queue *settle.Queue, reg *registry.Registry, grace time.Duration, log *zap.Logger) *Server {
	return &Server{
		engine:   engine,
		executor: executor,
		queue:    queue,
		registry: reg,
		grace:    grace,
		log:      log,
	}
}

// Register mounts all routes onto a Gin engine.
func (s *Server) Register(r *gin.Engine) {
	r.Use(corsMiddleware())
	r.GET("/", s.handleHealth)
	r.GET("/supported", s.handleSupported)
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/jobs/:id", s.handleGetJob)
}

// corsMiddleware answers preflight requests and allows the protocol's
// custom payment headers on every response.
func corsMiddleware() gin.HandlerFunc {
	allowHeaders := strings.Join(append([]string{"Content-Type", "Authorization"}, protocol.Headers()...), ", ")
	exposeHeaders := strings.Join(protocol.Headers(), ", ")
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Expose-Headers", exposeHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ── Health ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"queue": gin.H{
			"pending":    s.queue.Size(),
			"processing": s.queue.ProcessingCount(),
			"completed":  s.queue.CompletedCount(),
		},
	})
}

// ── Supported networks ──────────────────────────────────────────────────────

type networkInfo struct {
	Name    string `json:"name"`
	ChainID int64  `json:"chainId"`
	CAIP2ID string `json:"caip2Id"`
}

func (s *Server) handleSupported(c *gin.Context) {
	networks := s.registry.Networks()
	out := make([]networkInfo, 0, len(networks))
	for _, n := range networks {
		out = append(out, networkInfo{Name: n.Name, ChainID: n.ChainID, CAIP2ID: n.CAIP2()})
	}
	c.JSON(http.StatusOK, gin.H{"networks": out})
}

// ── Verify ──────────────────────────────────────────────────────────────────

type verifyRequest struct {
	PaymentPayload      *protocol.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *protocol.PaymentRequirements `json:"paymentRequirements"`
	SkipBalanceCheck    bool                          `json:"skipBalanceCheck,omitempty"`
	SkipNonceCheck      bool                          `json:"skipNonceCheck,omitempty"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body: " + err.Error()})
		return
	}
	if req.PaymentPayload == nil || req.PaymentRequirements == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "paymentPayload and paymentRequirements are required"})
		return
	}

	result, err := s.engine.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements, verify.Options{
		SkipBalanceCheck: req.SkipBalanceCheck,
		SkipNonceCheck:   req.SkipNonceCheck,
		GracePeriod:      s.grace,
	})
	if err != nil {
		s.log.Info("verification rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{
		"success":        true,
		"payerAddress":   result.Payer.Hex(),
		"requiredAmount": result.Required.String(),
	}
	if result.Balance != nil {
		resp["balance"] = result.Balance.String()
	}
	c.JSON(http.StatusOK, resp)
}

// ── Settle ──────────────────────────────────────────────────────────────────

type settleRequest struct {
	PaymentPayload      *protocol.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *protocol.PaymentRequirements `json:"paymentRequirements"`
	// Enqueue defaults to true; set false for synchronous settlement.
	Enqueue *bool `json:"enqueue,omitempty"`
}

func (s *Server) handleSettle(c *gin.Context) {
	now := time.Now().Unix()

	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body: " + err.Error(), "timestamp": now})
		return
	}
	if req.PaymentPayload == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "paymentPayload is required", "timestamp": now})
		return
	}

	if req.Enqueue == nil || *req.Enqueue {
		job, err := s.queue.Enqueue(req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "timestamp": now})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "jobId": job.ID, "timestamp": now})
		return
	}

	receipt, err := s.executor.Settle(c.Request.Context(), req.PaymentPayload, common.Address{})
	if err != nil {
		s.log.Info("settlement rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "timestamp": now})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "txHash": receipt.TxHash.Hex(), "timestamp": now})
}

// ── Job lookup ──────────────────────────────────────────────────────────────

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.queue.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	resp := gin.H{
		"success":    true,
		"jobId":      job.ID,
		"status":     job.Status.String(),
		"retryCount": job.RetryCount,
		"createdAt":  job.CreatedAt.Unix(),
	}
	if job.TxHash != "" {
		resp["txHash"] = job.TxHash
	}
	if job.LastError != "" {
		resp["error"] = job.LastError
	}
	c.JSON(http.StatusOK, resp)
}
