package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Lead-Signature"

// rateLimitMiddleware throttles per source IP. Throttling is shared through
// redis, so the limit holds across the whole fleet.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		result, err := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// A broken limiter must not take ingestion down with it.
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

// Webhook bodies are small lead notifications; anything bigger is abuse.
const maxWebhookBody = 1 << 20

// handleLeadWebhook ingests one signed delivery. Duplicates and contended
// events answer 200 so the source stops retrying; any failed event answers
// 502 so the source's retry policy redelivers the batch.
func (s *Server) handleLeadWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.webhookSvc.HandleWebhook(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if receipt.Failed > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, receipt)
}
