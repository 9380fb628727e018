package handler

import (
	"net/http"

	"paywallet-core/internal/adapter/http/middleware"
	redisStore "paywallet-core/internal/adapter/storage/redis"
	"paywallet-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	LedgerSvc      ports.LedgerService
	PaymentSvc     ports.PaymentService
	RecoverySvc    ports.RecoveryService
	TxRepo         ports.TransactionRepository
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	// LiveConnections reports the hub's connection count on /health.
	LiveConnections func() int
	// WSHandler serves the realtime connection endpoint; nil disables it.
	WSHandler http.HandlerFunc
	AdminKey  string
	Logger    zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check verifies PostgreSQL and Redis.
	r.GET("/health", HealthCheck(deps.LiveConnections, deps.HealthCheckers...))

	// Realtime connection endpoint. Authentication happens in-band on the
	// first frame, not via the Authorization header.
	if deps.WSHandler != nil {
		r.GET("/ws", gin.WrapF(deps.WSHandler))
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	walletHandler := NewWalletHandler(deps.LedgerSvc)
	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.GET("/balance", rl("history"), walletHandler.GetBalance)
		wallet.POST("/topup", rl("wallet_topup"), walletHandler.Topup)
	}

	paymentHandler := NewPaymentHandler(deps.PaymentSvc)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("", rl("payments"), paymentHandler.Pay)
	}

	historyHandler := NewHistoryHandler(deps.TxRepo)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("history"), historyHandler.ListTransactions)
		transactions.GET("/stats", rl("history"), historyHandler.GetStats)
		transactions.GET("/:id", rl("history"), historyHandler.GetTransaction)
	}

	// --- Admin routes (static key) ---
	adminHandler := NewAdminHandler(deps.RecoverySvc)
	admin := v1.Group("/admin", middleware.AdminKey(deps.AdminKey))
	{
		admin.GET("/recovery-tasks", rl("admin"), adminHandler.ListRecoveryTasks)
		admin.POST("/recovery-tasks/sweep", rl("admin"), adminHandler.TriggerSweep)
	}

	return r
}
