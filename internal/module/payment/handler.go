package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderforge/payments/internal/module/order"
	apperrors "github.com/orderforge/payments/internal/shared/errors"
)

// Handler exposes payment operations over HTTP.
type Handler struct {
	service ServiceInterface
	logger  *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(service ServiceInterface, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.AddPayment)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/payments/:id/provider-order", h.GetProviderOrder)
	r.POST("/payments/:id/settle", h.SettlePayment)
	r.POST("/payments/:id/refund", h.CreateRefund)
	r.POST("/payments/:id/cancel", h.CancelPayment)
	r.GET("/payment-methods", h.ListMethods)
}

// AddPayment adds a payment to an order.
func (h *Handler) AddPayment(c *gin.Context) {
	var req AddPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(err.Error()).ToResponse())
		return
	}

	p, err := h.service.AddPaymentToOrder(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPayment returns a payment by ID.
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}

	p, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetProviderOrder returns the raw provider-side order for a payment.
func (h *Handler) GetProviderOrder(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}

	gatewayOrder, err := h.service.FetchGatewayOrder(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gatewayOrder)
}

// SettlePayment captures an authorized payment.
func (h *Handler) SettlePayment(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}

	p, err := h.service.SettlePayment(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// refundRequest holds the inputs for a refund.
type refundRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

// CreateRefund refunds part or all of a settled payment.
func (h *Handler) CreateRefund(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(err.Error()).ToResponse())
		return
	}

	ref, err := h.service.CreateRefund(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// CancelPayment voids an authorized payment.
func (h *Handler) CancelPayment(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}

	p, err := h.service.CancelPayment(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListMethods returns the payment methods buyers can use.
func (h *Handler) ListMethods(c *gin.Context) {
	methods, err := h.service.GetEligibleMethods(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": methods})
}

func (h *Handler) paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest("invalid payment id").ToResponse())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrMethodNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, apperrors.NotFound(err.Error()).ToResponse())
	case errors.Is(err, ErrMethodDisabled),
		errors.Is(err, ErrOrderNotPayable),
		errors.Is(err, ErrPaymentNotSettleable),
		errors.Is(err, ErrPaymentNotRefundable),
		errors.Is(err, ErrPaymentNotCancelable),
		errors.Is(err, ErrRefundExceedsBalance):
		c.JSON(http.StatusConflict, apperrors.Conflict(err.Error()).ToResponse())
	default:
		h.logger.Error("payment request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apperrors.Internal("internal server error", err).ToResponse())
	}
}
