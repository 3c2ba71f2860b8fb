package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	crmclient "github.com/smallcrm/leadhook/internal/crm"
	eventdomain "github.com/smallcrm/leadhook/internal/event/domain"
	webhookdomain "github.com/smallcrm/leadhook/internal/webhook/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error as the JSON error
// envelope, unless the handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "authentication_error",
			Message: "invalid signature",
		}
	case errors.Is(err, webhookdomain.ErrStaleRequest):
		return http.StatusUnauthorized, errorPayload{
			Type:    "authentication_error",
			Message: "request timestamp outside allowed skew",
		}
	case errors.Is(err, webhookdomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, eventdomain.ErrRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "record not found",
		}
	}

	var delivery *crmclient.DeliveryError
	if errors.As(err, &delivery) {
		if delivery.Retryable() {
			return http.StatusBadGateway, errorPayload{
				Type:    "delivery_error",
				Message: "downstream crm unavailable",
			}
		}
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "delivery_error",
			Message: "downstream crm rejected the request",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return "authentication_error", "invalid_signature"
	case errors.Is(err, webhookdomain.ErrStaleRequest):
		return "authentication_error", "stale_request"
	case errors.Is(err, webhookdomain.ErrMalformedPayload):
		return "validation_error", "malformed_payload"
	case errors.Is(err, eventdomain.ErrRecordNotFound):
		return "not_found", "record_not_found"
	default:
		return "internal_error", "unknown"
	}
}
