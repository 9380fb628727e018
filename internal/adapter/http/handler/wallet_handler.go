package handler

import (
	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/adapter/http/middleware"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"
	"paywallet-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet balance and topup endpoints.
type WalletHandler struct {
	ledger ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{Balance: balance})
}

// Topup handles POST /api/v1/wallet/topup.
func (h *WalletHandler) Topup(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.ledger.Credit(c.Request.Context(), ports.LedgerEntry{
		UserID:       userID,
		Amount:       req.Amount,
		Type:         domain.TransactionTypeTopup,
		Counterparty: req.Source,
		Method:       domain.PaymentMethodWallet,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"balance":     result.NewBalance,
		"transaction": dto.FromTransaction(result.Transaction),
	})
}
