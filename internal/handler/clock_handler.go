package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinedtrack/attendance-api/internal/dto"
	appErrors "github.com/clinedtrack/attendance-api/pkg/errors"
	"github.com/clinedtrack/attendance-api/pkg/response"
)

type clockService interface {
	ClockIn(ctx context.Context, studentID string, req dto.ClockInRequest) (*dto.ClockResult, error)
	SyncClockIn(ctx context.Context, studentID string, req dto.SyncClockInRequest) (*dto.SyncClockInResult, error)
	ClockOut(ctx context.Context, studentID string, req dto.ClockOutRequest) (*dto.ClockResult, error)
	GetClockStatus(ctx context.Context, studentID string) (*dto.ClockStatusResult, error)
}

// ClockHandler exposes the clock-in/out lifecycle endpoints. The student
// identity always comes from the verified token, never from the payload.
type ClockHandler struct {
	service clockService
}

// NewClockHandler constructs the handler.
func NewClockHandler(service clockService) *ClockHandler {
	return &ClockHandler{service: service}
}

// ClockIn godoc
// @Summary Clock in at a rotation
// @Tags Clock
// @Accept json
// @Produce json
// @Param request body dto.ClockInRequest true "Clock-in payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /clock/in [post]
func (h *ClockHandler) ClockIn(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ClockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}

	result, err := h.service.ClockIn(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// SyncClockIn godoc
// @Summary Clock in with client clock synchronization
// @Tags Clock
// @Accept json
// @Produce json
// @Param request body dto.SyncClockInRequest true "Synchronized clock-in payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /clock/sync-in [post]
func (h *ClockHandler) SyncClockIn(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.SyncClockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}

	result, err := h.service.SyncClockIn(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ClockOut godoc
// @Summary Clock out of the open shift
// @Tags Clock
// @Accept json
// @Produce json
// @Param request body dto.ClockOutRequest true "Clock-out payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /clock/out [post]
func (h *ClockHandler) ClockOut(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ClockOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}

	result, err := h.service.ClockOut(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Status godoc
// @Summary Current clock status
// @Tags Clock
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /clock/status [get]
func (h *ClockHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.GetClockStatus(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
