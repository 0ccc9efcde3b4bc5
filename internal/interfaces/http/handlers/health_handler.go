package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
)

// HealthHandler serves GET /health.
type HealthHandler struct {
	serviceName string
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(serviceName string) *HealthHandler {
	return &HealthHandler{serviceName: serviceName}
}

// Health handles GET /health (spec.md §6: no auth required).
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.serviceName,
	})
}

// StatsHandler serves GET /debug/stats and GET /debug/traces, human-readable
// JSON companions to the Prometheus /metrics endpoint.
type StatsHandler struct {
	monitor *monitoring.Monitor
	tracer  *monitoring.Tracer
}

// NewStatsHandler builds a StatsHandler.
func NewStatsHandler(monitor *monitoring.Monitor, tracer *monitoring.Tracer) *StatsHandler {
	return &StatsHandler{monitor: monitor, tracer: tracer}
}

// Stats handles GET /debug/stats.
func (h *StatsHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetStats())
}

// Traces handles GET /debug/traces, returning the most recent request spans.
func (h *StatsHandler) Traces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"spans": h.tracer.RecentSpans(100)})
}
