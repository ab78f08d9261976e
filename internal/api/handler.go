package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"midistore/internal/models"
	"midistore/internal/payment"
	"midistore/internal/service"
	"midistore/internal/store"
	"midistore/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

// Fulfillment lag must never look like a broken purchase, so order lookups
// answer with this neutral message instead of an error page.
const orderNotFoundMessage = "We couldn't find your order. Please contact support if you have any questions."

// Processor runs the fulfillment pipeline for a verified payment event
type Processor interface {
	Process(ctx context.Context, ev *models.PaymentEvent) error
}

// Gateway is the payment provider boundary
type Gateway interface {
	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
	ParseCheckoutCompleted(event stripe.Event) (*models.PaymentEvent, error)
	CreateCheckoutSession(ctx context.Context, entries []models.CartEntry, email string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// Handler contains HTTP handlers
type Handler struct {
	fulfillment Processor
	payments    Gateway
	store       *store.Store
	catalog     *service.CatalogClient
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(fulfillment Processor, payments Gateway, store *store.Store, catalog *service.CatalogClient) *Handler {
	return &Handler{
		fulfillment: fulfillment,
		payments:    payments,
		store:       store,
		catalog:     catalog,
		logger:      util.GetLogger(),
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
		v1.POST("/stripe/webhook", h.stripeWebhook)
		v1.POST("/checkout/session", h.createCheckoutSession)
		v1.GET("/orders", h.getOrderBySession)
		v1.GET("/midi", h.listMidis)
		v1.GET("/midi/popular", h.popularMidis)
		v1.POST("/midi", h.createMidi)
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
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// stripeWebhook handles signed payment events. A bad signature is rejected
// before anything is read or written. Only checkout.session.completed runs
// the pipeline; other event types are acknowledged and ignored. A 5xx here
// makes the provider redeliver the event, which is safe because nothing
// was committed.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := h.payments.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		util.WebhooksRejectedTotal.Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook signature verification failed"})
		return
	}

	if event.Type != payment.EventTypeCheckoutCompleted {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	paymentEvent, err := h.payments.ParseCheckoutCompleted(event)
	if err != nil {
		h.logger.Error("Failed to parse checkout completed event", zap.Error(err))
		util.WebhooksRejectedTotal.Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	if err := h.fulfillment.Process(c.Request.Context(), paymentEvent); err != nil {
		h.logger.Error("Fulfillment failed",
			zap.String("payment_id", paymentEvent.PaymentID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fulfillment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// CheckoutRequest is the client cart at checkout time
type CheckoutRequest struct {
	Items []models.CartEntry `json:"items" binding:"required,min=1"`
	Email string             `json:"email"`
}

// createCheckoutSession creates a hosted checkout session for the cart
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	url, err := h.payments.CreateCheckoutSession(c.Request.Context(), req.Items, req.Email)
	if err != nil {
		h.logger.Error("Failed to create checkout session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	util.CheckoutSessionsCreatedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// getOrderBySession resolves a checkout session to its order for the
// success page. Any miss (unknown session, processing lag) yields the same
// neutral not-found response.
func (h *Handler) getOrderBySession(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusNotFound, gin.H{"message": orderNotFoundMessage})
		return
	}

	sess, err := h.payments.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Info("Checkout session lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"message": orderNotFoundMessage})
		return
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		c.JSON(http.StatusNotFound, gin.H{"message": orderNotFoundMessage})
		return
	}

	order, err := h.store.GetOrderByPaymentID(c.Request.Context(), sess.PaymentIntent.ID)
	if err != nil {
		h.logger.Error("Order lookup failed",
			zap.String("payment_id", sess.PaymentIntent.ID),
			zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"message": orderNotFoundMessage})
		return
	}
	if order == nil {
		// Likely fulfillment lag: the webhook has not landed yet.
		c.JSON(http.StatusNotFound, gin.H{"message": orderNotFoundMessage})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// listMidis handles the paginated catalog listing
func (h *Handler) listMidis(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	lastID := c.Query("last_id")

	midis, hasMore, nextCursor, err := h.store.ListMidis(c.Request.Context(), limit, lastID)
	if err != nil {
		h.logger.Error("Failed to list catalog", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch MIDI files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"midi_files": midis,
		"has_more":   hasMore,
		"last_id":    nextCursor,
	})
}

// popularMidis returns the best sellers
func (h *Handler) popularMidis(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	midis, err := h.catalog.PopularMidis(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to fetch popular midis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch MIDI files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"midi_files": midis})
}

// CreateMidiRequest is the catalog-management insert payload
type CreateMidiRequest struct {
	Title      string `json:"title" binding:"required"`
	PriceCents int64  `json:"price" binding:"required,min=0"`
	MusicalKey string `json:"key"`
	Scale      string `json:"scale"`
	BPM        int    `json:"bpm"`
	Genre      string `json:"genre"`
	PreviewURL string `json:"preview_url" binding:"required"`
	FileURL    string `json:"file_url" binding:"required"`
	Hidden     bool   `json:"hidden"`
}

// createMidi inserts a new catalog item
func (h *Handler) createMidi(c *gin.Context) {
	var req CreateMidiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	midi := &models.Midi{
		ID:         uuid.New().String(),
		Title:      req.Title,
		PriceCents: req.PriceCents,
		MusicalKey: req.MusicalKey,
		Scale:      req.Scale,
		BPM:        req.BPM,
		Genre:      req.Genre,
		PreviewURL: req.PreviewURL,
		FileURL:    req.FileURL,
		Hidden:     req.Hidden,
	}

	if err := h.store.CreateMidi(c.Request.Context(), midi); err != nil {
		h.logger.Error("Failed to create catalog item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create MIDI file"})
		return
	}

	c.JSON(http.StatusCreated, midi)
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
