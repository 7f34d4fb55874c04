package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LaxRaj/the-garage/internal/api/responses"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
	"github.com/LaxRaj/the-garage/internal/metrics"
	"github.com/LaxRaj/the-garage/internal/payments"
	"github.com/LaxRaj/the-garage/internal/services"
)

const maxWebhookBody = 64 << 10

// PaymentHandler serves checkout for reserved assets.
type PaymentHandler struct {
	paymentService services.IPaymentService
}

func NewPaymentHandler(paymentService services.IPaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// CreatePaymentSession handles POST /v1/assets/:id/payment-session
func (h *PaymentHandler) CreatePaymentSession(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assetID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	result, err := h.paymentService.CreatePaymentSession(c.Request.Context(), assetID, identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.Created(c, result)
}

// ConfirmPayment handles POST /v1/assets/:id/payment-confirmation
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	assetID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	asset, err := h.paymentService.ConfirmPayment(c.Request.Context(), assetID, identity)
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, asset.PurchaseViewFor(identity.UserID))
}

// PaymentConfig handles GET /v1/payment/config
func (h *PaymentHandler) PaymentConfig(c *gin.Context) {
	cfg, err := h.paymentService.PaymentConfig()
	if err != nil {
		responses.WriteError(c, err)
		return
	}
	responses.OK(c, cfg)
}

// EventGuard deduplicates webhook deliveries.
type EventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// WebhookHandler receives provider notifications.
type WebhookHandler struct {
	provider       payments.Provider
	paymentService services.IPaymentService
	guard          EventGuard
}

// NewWebhookHandler builds the handler. provider and guard may be nil.
func NewWebhookHandler(provider payments.Provider, paymentService services.IPaymentService, guard EventGuard) *WebhookHandler {
	return &WebhookHandler{provider: provider, paymentService: paymentService, guard: guard}
}

// HandleStripe handles POST /v1/webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	ctx := c.Request.Context()
	if h.provider == nil {
		responses.WriteError(c, apperrors.New(apperrors.CodeUnavailable, "payments are not configured"))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeInvalidInput, err, "unreadable payload"))
		return
	}

	event, err := h.provider.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeInvalidInput, err, "invalid signature"))
		return
	case errors.Is(err, payments.ErrNotConfigured):
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeUnavailable, err, "payments are not configured"))
		return
	case err != nil:
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		responses.WriteError(c, apperrors.Wrap(apperrors.CodeInvalidInput, err, "malformed event"))
		return
	}

	ctx = logger.Default().WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	marked := false
	if h.guard != nil {
		seen, err := h.guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			// FinalizeSale is idempotent; carry on unguarded.
			logger.Ctx(ctx).Warn().Err(err).Msg("webhook idempotency guard unavailable")
		} else if seen {
			metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		} else {
			marked = true
		}
	}

	if err := h.paymentService.HandleProviderEvent(ctx, event); err != nil {
		if marked {
			if delErr := h.guard.Delete(ctx, event.ID); delErr != nil {
				logger.Ctx(ctx).Warn().Err(delErr).Msg("failed to clear webhook idempotency key")
			}
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "failed").Inc()
		responses.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
