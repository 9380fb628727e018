package handler

import (
	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"
	"paywallet-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler exposes operational endpoints for the recovery queue.
type AdminHandler struct {
	recoverySvc ports.RecoveryService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(recoverySvc ports.RecoveryService) *AdminHandler {
	return &AdminHandler{recoverySvc: recoverySvc}
}

// ListRecoveryTasks handles GET /api/v1/admin/recovery-tasks.
// Query param status defaults to SCHEDULED.
func (h *AdminHandler) ListRecoveryTasks(c *gin.Context) {
	status := domain.RecoveryTaskStatus(c.DefaultQuery("status", string(domain.RecoveryStatusScheduled)))
	switch status {
	case domain.RecoveryStatusScheduled, domain.RecoveryStatusProcessing,
		domain.RecoveryStatusCompleted, domain.RecoveryStatusFailed:
	default:
		response.Error(c, apperror.Validation("invalid recovery task status"))
		return
	}

	tasks, err := h.recoverySvc.ListByStatus(c.Request.Context(), status)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RecoveryTaskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, dto.FromRecoveryTask(&tasks[i]))
	}

	response.OK(c, gin.H{"items": items, "count": len(items)})
}

// TriggerSweep handles POST /api/v1/admin/recovery-tasks/sweep. It runs one
// ProcessDue pass plus a stale-claim sweep, same as the periodic worker.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	report := h.recoverySvc.ProcessDue(c.Request.Context())

	swept, err := h.recoverySvc.SweepStale(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RecoverySweepResponse{
		Claimed:   report.Claimed,
		Completed: report.Completed,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Swept:     swept,
	})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Param(name))
}
