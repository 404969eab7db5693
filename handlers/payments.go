package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/billing"
	"github.com/lookmax/lookmax/backend/go-services/internal/webhooks"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
)

// MaxWebhookBody caps provider payloads.
const MaxWebhookBody = 256 << 10

type verifyPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required,max=255"`
}

// PaymentsHandler serves checkout initiation, status and the provider webhook.
type PaymentsHandler struct {
	billing  *billing.Service
	pipeline *webhooks.Pipeline
}

func NewPaymentsHandler(b *billing.Service, p *webhooks.Pipeline) *PaymentsHandler {
	return &PaymentsHandler{billing: b, pipeline: p}
}

// Register mounts /payments. The webhook route is unauthenticated; the
// signature is its credential.
func (h *PaymentsHandler) Register(rg gin.IRouter, auth ...gin.HandlerFunc) {
	p := rg.Group("/payments")
	p.POST("/webhook", h.Webhook)

	a := p.Group("", auth...)
	a.POST("/create-checkout", h.CreateCheckout)
	a.POST("/create-payment-intent", h.CreatePaymentIntent)
	a.POST("/verify", h.Verify)
	a.POST("/cancel", h.Cancel)
	a.GET("/status", h.Status)
}

func (h *PaymentsHandler) CreateCheckout(c *gin.Context) {
	res, err := h.billing.StartCheckout(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentsHandler) CreatePaymentIntent(c *gin.Context) {
	res, err := h.billing.StartPaymentIntent(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentsHandler) Verify(c *gin.Context) {
	var req verifyPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.billing.VerifyPayment(c.Request.Context(), middleware.CurrentUser(c), req.PaymentIntentID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentsHandler) Cancel(c *gin.Context) {
	if err := h.billing.CancelAtPeriodEnd(c.Request.Context(), middleware.CurrentUser(c)); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "subscription will end at the close of the current period"})
}

func (h *PaymentsHandler) Status(c *gin.Context) {
	res, err := h.billing.Status(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Webhook reads the exact bytes the provider signed before any parsing.
// 4xx only for integrity failures; storage failures answer 500 so the
// provider retries.
func (h *PaymentsHandler) Webhook(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody)
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, apperrors.ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		middleware.Abort(c, apperrors.ErrMalformedPayload)
		return
	}
	res, err := h.pipeline.Ingest(c.Request.Context(), raw, c.GetHeader("Stripe-Signature"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": res})
}
