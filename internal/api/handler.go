package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxWebhookBody caps the webhook payload read into memory.
const maxWebhookBody = 1 << 20

type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*service.WebhookResult, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id, token string) (*service.OrderView, error)
}

// ReadinessChecker reports whether a backing dependency is reachable.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	checkout   CheckoutCreator
	webhooks   WebhookProcessor
	orders     OrderReader
	ready      ReadinessChecker
	corsOrigin string
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout CheckoutCreator,
	webhooks WebhookProcessor,
	orders OrderReader,
	ready ReadinessChecker,
	corsOrigin string,
) *Handler {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Handler{
		checkout:   checkout,
		webhooks:   webhooks,
		orders:     orders,
		ready:      ready,
		corsOrigin: corsOrigin,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	checkout := router.Group("/create-checkout-session", corsMiddleware(h.corsOrigin, "POST, OPTIONS"))
	{
		checkout.POST("", h.createCheckoutSession)
		checkout.OPTIONS("", preflight)
	}

	router.POST("/webhook", h.handleWebhook)

	order := router.Group("/order", corsMiddleware(h.corsOrigin, "GET, OPTIONS"))
	{
		order.GET("", h.getOrder)
		order.OPTIONS("", preflight)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.ready.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCheckoutSession handles hosted checkout session creation
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	resp, err := h.checkout.CreateCheckoutSession(c.Request.Context(), &req)
	if err != nil {
		var upstream *service.UpstreamError
		switch {
		case errors.Is(err, service.ErrNoItems):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No items"})
		case errors.Is(err, service.ErrInvalidItem):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &upstream):
			c.JSON(http.StatusBadRequest, gin.H{"error": upstream.Err.Error()})
		default:
			h.logger.Error("Checkout session failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleWebhook handles payment provider notifications. The raw body is
// passed through untouched for signature verification.
func (h *Handler) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, fmt.Sprintf("Webhook Error: %v", err))
		return
	}

	result, err := h.webhooks.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			c.String(http.StatusBadRequest, fmt.Sprintf("Webhook Error: %v", err))
		case errors.Is(err, service.ErrPersistence):
			c.String(http.StatusInternalServerError, "DB insert error")
		default:
			c.String(http.StatusInternalServerError, "Webhook processing error")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"result":   result.Status,
	})
}

// getOrder handles token-authenticated order retrieval
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.orders.GetOrder(c.Request.Context(), c.Query("id"), c.Query("token"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingParams):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing params"})
		case errors.Is(err, service.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		default:
			h.logger.Error("Order lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// corsMiddleware sets the public CORS headers for one route
func corsMiddleware(origin, methods string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Next()
	}
}

// requestLogger logs each request without its query string, which may
// carry an order access token.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
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
