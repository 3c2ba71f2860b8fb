package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) listEvents(c *gin.Context) {
	status := c.Query("status")
	limit := parseLimit(c.Query("limit"), 50, 500)

	records, err := s.eventSvc.List(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (s *Server) getEvent(c *gin.Context) {
	record, err := s.eventSvc.Get(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) listLeads(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	offset := parseLimit(c.Query("offset"), 0, 1<<30)

	leads, err := s.crm.ListLeads(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads})
}

func (s *Server) getLead(c *gin.Context) {
	lead, err := s.crm.GetLead(c.Request.Context(), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if lead == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{
			Type:    "not_found",
			Message: "lead not found",
		}})
		return
	}
	c.JSON(http.StatusOK, lead)
}

// enrichLead reruns the pipeline for one lead on operator demand. It goes
// through the same lock and ledger gates as a webhook delivery.
func (s *Server) enrichLead(c *gin.Context) {
	result, err := s.webhookSvc.EnrichLead(c.Request.Context(), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseLimit(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
