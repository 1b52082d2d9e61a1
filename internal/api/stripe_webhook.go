package api

import (
	"io"
	"net/http"

	"membership-api/internal/services"
	"membership-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// maxWebhookBodyBytes caps the Stripe payload size.
const maxWebhookBodyBytes = int64(65536)

// StripeWebhook verifies and reconciles one Stripe event. Anything past the
// signature check is answered with 200 so Stripe does not retry events that
// were already handled or cannot be handled.
func (h *Handlers) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		logging.Warnf("Failed to read Stripe webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_payload"})
		return
	}

	event, err := services.VerifyEvent(body, c.GetHeader("Stripe-Signature"), h.WebhookSecret)
	if err != nil {
		logging.Warnf("Rejected Stripe webhook from %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_signature"})
		return
	}

	result := h.Reconciler.Reconcile(c.Request.Context(), event)
	c.JSON(http.StatusOK, gin.H{"status": result.Status})
}
