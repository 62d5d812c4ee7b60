package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/orderforge/payments/internal/shared/errors"
)

// Handler exposes order operations over HTTP.
type Handler struct {
	service ServiceInterface
	logger  *zap.Logger
}

// NewHandler creates a new order handler.
func NewHandler(service ServiceInterface, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the order routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:code", h.GetOrder)
	r.POST("/orders/:code/cancel", h.CancelOrder)
}

// CreateOrder creates a new order.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(err.Error()).ToResponse())
		return
	}

	ord, err := h.service.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ord)
}

// GetOrder returns an order by code.
func (h *Handler) GetOrder(c *gin.Context) {
	ord, err := h.service.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

// CancelOrder cancels an order that has not settled.
func (h *Handler) CancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	ord, err := h.service.FindByCode(ctx, c.Param("code"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	if err := h.service.TransitionToState(ctx, ord, StateCancelled); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var te *TransitionError
	switch {
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound("order").ToResponse())
	case errors.As(err, &te) && !te.Retryable:
		c.JSON(http.StatusConflict, apperrors.Conflict(err.Error()).ToResponse())
	default:
		h.logger.Error("order request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apperrors.Internal("internal server error", err).ToResponse())
	}
}
