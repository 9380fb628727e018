package handler

import (
	"strconv"

	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/adapter/http/middleware"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"
	"paywallet-core/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryHandler handles transaction history and statistics endpoints.
type HistoryHandler struct {
	txRepo ports.TransactionRepository
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(txRepo ports.TransactionRepository) *HistoryHandler {
	return &HistoryHandler{txRepo: txRepo}
}

// ListTransactions handles GET /api/v1/transactions.
// Query params: page, page_size, status, type, from, to (Unix timestamps).
func (h *HistoryHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params := ports.TransactionListParams{
		UserID:   userID,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", defaultPageSize),
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		params.PageSize = defaultPageSize
	}

	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		params.Type = &txType
	}
	if from, ok := queryInt64(c, "from"); ok {
		params.From = &from
	}
	if to, ok := queryInt64(c, "to"); ok {
		params.To = &to
	}

	items, total, err := h.txRepo.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.TransactionListResponse{
		Items:    make([]dto.TransactionResponse, 0, len(items)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for i := range items {
		resp.Items = append(resp.Items, dto.FromTransaction(&items[i]))
	}
	resp.TotalPages = int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	response.OK(c, resp)
}

// GetStats handles GET /api/v1/transactions/stats.
// Optional query param period_start restricts the aggregation window.
func (h *HistoryHandler) GetStats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var periodStart *int64
	if from, ok := queryInt64(c, "period_start"); ok {
		periodStart = &from
	}

	stats, err := h.txRepo.GetStats(c.Request.Context(), userID, periodStart)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Completed:         stats.Completed,
		Failed:            stats.Failed,
		TotalSent:         stats.TotalSent,
		TotalReceived:     stats.TotalReceived,
		TotalRecovered:    stats.TotalRecovered,
	})
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *HistoryHandler) GetTransaction(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := parseUUIDParam(c, "id")
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	tx, err := h.txRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if tx == nil || tx.UserID != userID {
		response.Error(c, apperror.ErrNotFound("transaction"))
		return
	}

	response.OK(c, dto.FromTransaction(tx))
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
