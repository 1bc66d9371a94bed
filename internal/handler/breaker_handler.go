package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinedtrack/attendance-api/pkg/breaker"
	appErrors "github.com/clinedtrack/attendance-api/pkg/errors"
	"github.com/clinedtrack/attendance-api/pkg/response"
)

// BreakerHandler exposes admin visibility and control over the circuit
// breaker registry.
type BreakerHandler struct {
	registry *breaker.Registry
}

// NewBreakerHandler constructs the handler.
func NewBreakerHandler(registry *breaker.Registry) *BreakerHandler {
	return &BreakerHandler{registry: registry}
}

// Stats godoc
// @Summary Snapshot all circuit breakers
// @Tags Breakers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/breakers [get]
func (h *BreakerHandler) Stats(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.registry.Stats())
}

// Reset godoc
// @Summary Reset one breaker to CLOSED with zeroed counters
// @Tags Breakers
// @Produce json
// @Param name path string true "Breaker name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/breakers/{name}/reset [post]
func (h *BreakerHandler) Reset(c *gin.Context) {
	name := c.Param("name")
	if !h.registry.Reset(name) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown breaker"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"breaker": name, "state": breaker.StateClosed})
}

// ResetAll godoc
// @Summary Reset every breaker
// @Tags Breakers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/breakers/reset [post]
func (h *BreakerHandler) ResetAll(c *gin.Context) {
	h.registry.ResetAll()
	response.JSON(c, http.StatusOK, h.registry.Stats())
}

// ForceOpen godoc
// @Summary Trip one breaker immediately
// @Tags Breakers
// @Produce json
// @Param name path string true "Breaker name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/breakers/{name}/force-open [post]
func (h *BreakerHandler) ForceOpen(c *gin.Context) {
	name := c.Param("name")
	if !h.registry.ForceOpen(name) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown breaker"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"breaker": name, "state": breaker.StateOpen})
}
