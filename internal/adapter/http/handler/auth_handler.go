package handler

import (
	"net/http"

	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"
	"paywallet-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authSvc ports.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	fallback := true
	if req.FallbackEnabled != nil {
		fallback = *req.FallbackEnabled
	}

	user, err := h.authSvc.Register(c.Request.Context(), ports.RegisterRequest{
		Phone:             req.Phone,
		PIN:               req.PIN,
		PrimaryAccountRef: req.PrimaryAccountRef,
		FallbackEnabled:   fallback,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RegisterResponse{
		UserID:          user.ID.String(),
		Phone:           user.Phone,
		FallbackEnabled: user.FallbackEnabled,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Phone, req.PIN)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}

// HealthCheck handles GET /health, verifying every backing dependency.
// liveConnections, when set, reports the hub's current connection count.
func HealthCheck(liveConnections func() int, checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		body := gin.H{
			"status":       status,
			"dependencies": deps,
		}
		if liveConnections != nil {
			body["live_connections"] = liveConnections()
		}
		c.JSON(httpCode, body)
	}
}
