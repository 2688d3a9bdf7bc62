package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"energy-ledger/internal/ledger"
	"energy-ledger/internal/models"
	"energy-ledger/internal/service"
	"energy-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// CallerHeader carries the caller identity authenticated by the host
	CallerHeader         = "X-Caller-ID"
	IdempotencyKeyHeader = "Idempotency-Key"

	callerKey = "caller"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	ledgerService *service.LedgerService
	checks        map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(ledgerService *service.LedgerService, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		ledgerService: ledgerService,
		checks:        checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/producers/:id", h.getProducer)
		v1.GET("/producers/:id/sold", h.getProducerCounter(h.ledgerService.GetEnergySold))
		v1.GET("/producers/:id/revenue", h.getProducerCounter(h.ledgerService.GetProducerRevenue))
		v1.GET("/producers/:id/rating", h.getProducerCounter(h.ledgerService.GetProducerRating))
		v1.GET("/consumers/:id", h.getConsumer)
		v1.GET("/consumers/:id/purchased", h.getConsumerCounter(h.ledgerService.GetEnergyPurchased))
		v1.GET("/consumers/:id/refunds", h.getConsumerCounter(h.ledgerService.GetRefundAmount))
	}

	cmds := router.Group("/api/v1", requireCaller())
	{
		cmds.POST("/producers", h.registerProducer)
		cmds.POST("/producers/energy", h.updateEnergy)
		cmds.POST("/producers/withdraw", h.withdrawRevenue)
		cmds.POST("/consumers", h.registerConsumer)
		cmds.POST("/purchases", h.buyEnergy)
		cmds.POST("/ratings", h.rateProducer)
		cmds.POST("/refunds", h.requestRefund)
		cmds.POST("/batch", h.executeBatch)

		cmds.PUT("/admin/producers/:id/price", h.setEnergyPrice)
		cmds.POST("/admin/producers/:id/pause", h.pauseProducer)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type registerProducerRequest struct {
	EnergyAvailable uint64 `json:"energy_available"`
	EnergyPrice     uint64 `json:"energy_price"`
}

type unitsRequest struct {
	ProducerID string `json:"producer_id" binding:"required"`
	Units      uint64 `json:"units"`
}

type updateEnergyRequest struct {
	AdditionalUnits uint64 `json:"additional_units"`
}

type rateRequest struct {
	ProducerID string `json:"producer_id" binding:"required"`
	Rating     uint64 `json:"rating"`
}

type priceRequest struct {
	Price uint64 `json:"price"`
}

type batchRequest struct {
	Commands []models.CommandData `json:"commands" binding:"required"`
}

type batchResult struct {
	Index   int    `json:"index"`
	Op      string `json:"op"`
	Value   uint64 `json:"value"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// registerProducer handles producer registration
func (h *Handler) registerProducer(c *gin.Context) {
	var req registerProducerRequest
	if !bindJSON(c, &req) {
		return
	}

	h.command(c, http.StatusCreated, func(ctx context.Context, caller string) (gin.H, error) {
		if err := h.ledgerService.RegisterProducer(ctx, caller, req.EnergyAvailable, req.EnergyPrice); err != nil {
			return nil, err
		}
		return gin.H{"producer_id": caller}, nil
	})
}

// registerConsumer handles consumer registration
func (h *Handler) registerConsumer(c *gin.Context) {
	h.command(c, http.StatusCreated, func(ctx context.Context, caller string) (gin.H, error) {
		if err := h.ledgerService.RegisterConsumer(ctx, caller); err != nil {
			return nil, err
		}
		return gin.H{"consumer_id": caller}, nil
	})
}

// buyEnergy handles energy purchases
func (h *Handler) buyEnergy(c *gin.Context) {
	var req unitsRequest
	if !bindJSON(c, &req) {
		return
	}

	h.command(c, http.StatusCreated, func(ctx context.Context, caller string) (gin.H, error) {
		receipt, err := h.ledgerService.BuyEnergy(ctx, caller, req.ProducerID, req.Units)
		if err != nil {
			return nil, err
		}
		return gin.H{"units": receipt.Units, "cost": receipt.Cost}, nil
	})
}

// updateEnergy handles inventory top-ups
func (h *Handler) updateEnergy(c *gin.Context) {
	var req updateEnergyRequest
	if !bindJSON(c, &req) {
		return
	}

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		available, err := h.ledgerService.UpdateEnergy(ctx, caller, req.AdditionalUnits)
		if err != nil {
			return nil, err
		}
		return gin.H{"energy_available": available}, nil
	})
}

// rateProducer handles producer ratings
func (h *Handler) rateProducer(c *gin.Context) {
	var req rateRequest
	if !bindJSON(c, &req) {
		return
	}

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		rating, err := h.ledgerService.RateProducer(ctx, caller, req.ProducerID, req.Rating)
		if err != nil {
			return nil, err
		}
		return gin.H{"rating": rating}, nil
	})
}

// requestRefund handles refunds
func (h *Handler) requestRefund(c *gin.Context) {
	var req unitsRequest
	if !bindJSON(c, &req) {
		return
	}

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		receipt, err := h.ledgerService.RequestRefund(ctx, caller, req.ProducerID, req.Units)
		if err != nil {
			return nil, err
		}
		return gin.H{"units": receipt.Units, "cost": receipt.Cost}, nil
	})
}

// withdrawRevenue handles revenue withdrawal
func (h *Handler) withdrawRevenue(c *gin.Context) {
	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		amount, err := h.ledgerService.WithdrawRevenue(ctx, caller)
		if err != nil {
			return nil, err
		}
		return gin.H{"amount": amount}, nil
	})
}

// setEnergyPrice handles administrative price overrides
func (h *Handler) setEnergyPrice(c *gin.Context) {
	var req priceRequest
	if !bindJSON(c, &req) {
		return
	}
	producerID := c.Param("id")

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		if err := h.ledgerService.SetEnergyPrice(ctx, caller, producerID, req.Price); err != nil {
			return nil, err
		}
		return gin.H{"producer_id": producerID, "energy_price": req.Price}, nil
	})
}

// pauseProducer handles administrative pauses
func (h *Handler) pauseProducer(c *gin.Context) {
	producerID := c.Param("id")

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		if err := h.ledgerService.PauseProducer(ctx, caller, producerID); err != nil {
			return nil, err
		}
		return gin.H{"producer_id": producerID, "paused": true}, nil
	})
}

// executeBatch runs commands in order. Per-command failures are reported
// in the results, the request itself succeeds. With ?async=true the batch
// is queued for the command worker instead.
func (h *Handler) executeBatch(c *gin.Context) {
	var req batchRequest
	if !bindJSON(c, &req) {
		return
	}

	if c.Query("async") == "true" {
		h.command(c, http.StatusAccepted, func(ctx context.Context, caller string) (gin.H, error) {
			batchID, err := h.ledgerService.SubmitBatch(ctx, caller, req.Commands)
			if err != nil {
				return nil, err
			}
			return gin.H{"batch_id": batchID}, nil
		})
		return
	}

	h.command(c, http.StatusOK, func(ctx context.Context, caller string) (gin.H, error) {
		if err := h.ledgerService.ValidateBatch(req.Commands); err != nil {
			return nil, err
		}
		results := h.ledgerService.ExecuteBatch(ctx, caller, req.Commands, "http")

		out := make([]batchResult, len(results))
		for i, r := range results {
			out[i] = batchResult{Index: r.Index, Op: string(r.Op), Value: r.Value}
			if r.Err != nil {
				out[i].Error = string(r.Code)
				out[i].Details = r.Err.Error()
			}
		}
		return gin.H{"results": out}, nil
	})
}

// getProducer returns a producer's listing
func (h *Handler) getProducer(c *gin.Context) {
	id := c.Param("id")
	info, found, err := h.ledgerService.GetProducerInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, ledger.ErrProducerNotFound)
		return
	}
	c.JSON(http.StatusOK, info)
}

// getConsumer returns a consumer's consumption summary
func (h *Handler) getConsumer(c *gin.Context) {
	id := c.Param("id")
	info, found, err := h.ledgerService.GetConsumerInfo(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, ledger.ErrConsumerNotFound)
		return
	}
	c.JSON(http.StatusOK, info)
}

type counterQuery func(ctx context.Context, id string) (uint64, error)

func (h *Handler) getProducerCounter(query counterQuery) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		v, err := query(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"producer_id": id, "value": v})
	}
}

func (h *Handler) getConsumerCounter(query counterQuery) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		v, err := query(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"consumer_id": id, "value": v})
	}
}

// command runs fn for the request's caller under the request's
// idempotency key and writes the outcome.
func (h *Handler) command(c *gin.Context, status int, fn func(ctx context.Context, caller string) (gin.H, error)) {
	caller := c.GetString(callerKey)

	key := c.GetHeader(IdempotencyKeyHeader)
	if key != "" {
		key = caller + ":" + key
	}

	var body gin.H
	err := h.ledgerService.Idempotent(c.Request.Context(), key, func(ctx context.Context) error {
		var err error
		body, err = fn(ctx, caller)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "InvalidRequest",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// writeError maps err to a status and the ledger error code
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": "DuplicateRequest", "details": err.Error()})
		return
	case errors.Is(err, service.ErrBatchTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "BatchTooLarge", "details": err.Error()})
		return
	case errors.Is(err, service.ErrQueueUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "QueueUnavailable", "details": err.Error()})
		return
	}

	c.JSON(statusFor(err), gin.H{
		"error":   string(ledger.CodeOf(err)),
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	if ledger.IsNotFound(err) {
		return http.StatusNotFound
	}

	switch ledger.CodeOf(err) {
	case ledger.CodeNotOwner:
		return http.StatusForbidden
	case ledger.CodeInsufficientEnergy, ledger.CodeRefundExceedsPurchase, ledger.CodeProducerPaused:
		return http.StatusConflict
	case ledger.CodeInvalidAmount, ledger.CodeInvalidRating, ledger.CodeNoPurchaseHistory,
		ledger.CodeArithmeticOverflow, ledger.CodeArithmeticUnderflow, ledger.CodeUnknownOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// requireCaller rejects command requests without a caller identity
func requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetHeader(CallerHeader)
		if caller == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "MissingCaller",
				"details": CallerHeader + " header is required",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
