package handler

import (
	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/adapter/http/middleware"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"
	"paywallet-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// Pay handles POST /api/v1/payments.
func (h *PaymentHandler) Pay(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.paymentSvc.Pay(c.Request.Context(), ports.PayRequest{
		UserID:       userID,
		ReferenceID:  req.ReferenceID,
		Counterparty: req.Counterparty,
		Amount:       req.Amount,
		PIN:          req.PIN,
		ClientIP:     c.ClientIP(),
	})
	if err != nil {
		// Declined and ineligible outcomes still carry the recorded
		// failure reference for support follow-up.
		if result != nil && result.FailureRef != nil {
			c.Header("X-Failure-Ref", *result.FailureRef)
		}
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PayResponse{
		Transaction:  dto.FromTransaction(result.Transaction),
		Method:       string(result.Method),
		FallbackUsed: result.FallbackUsed,
		FailureRef:   result.FailureRef,
	})
}
