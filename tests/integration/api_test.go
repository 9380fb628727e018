package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"paywallet-core/config"
	httpHandler "paywallet-core/internal/adapter/http/handler"
	redisStorage "paywallet-core/internal/adapter/storage/redis"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/internal/hub"
	"paywallet-core/internal/service"
	"paywallet-core/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "test-admin-key"

// fakeRail is a controllable stand-in for the primary rail and the recovery
// funding source.
type fakeRail struct {
	mu         sync.Mutex
	attemptErr error
	debitErr   error
	attempts   int
	debits     int
}

func (f *fakeRail) Attempt(ctx context.Context, req ports.RailRequest) (*ports.RailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attemptErr != nil {
		return nil, f.attemptErr
	}
	return &ports.RailResult{Success: true, ReferenceID: fmt.Sprintf("RAIL-%d", f.attempts)}, nil
}

func (f *fakeRail) Debit(ctx context.Context, sourceAccount string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debits++
	if f.debitErr != nil {
		return "", f.debitErr
	}
	return fmt.Sprintf("BANKDEB-%d", f.debits), nil
}

func (f *fakeRail) setAttemptErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attemptErr = err
}

// testApp builds the full application stack: real HTTP layer, middleware,
// services, event hub, and Redis stores over miniredis, with in-memory
// persistence.
type testApp struct {
	server       *httptest.Server
	redis        *miniredis.Miniredis
	rail         *fakeRail
	recoveryRepo *inMemoryRecoveryRepo
	txRepo       *inMemoryTransactionRepo
	recoverySvc  ports.RecoveryService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	notaryQueue := redisStorage.NewNotaryQueue(rdb)

	userRepo := newInMemoryUserRepo()
	balanceRepo := newInMemoryBalanceRepo()
	txRepo := newInMemoryTransactionRepo()
	recoveryRepo := newInMemoryRecoveryRepo()
	idempotencyRepo := newInMemoryIdempotencyRepo()
	transactor := newInMemoryTransactor()

	railClient := &fakeRail{}
	log := zerolog.Nop()

	pinSvc := service.NewArgon2PINService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 24*time.Hour, "test-issuer")

	eventHub := hub.NewHub(tokenSvc, hubConfig(), log)

	authSvc := service.NewAuthService(userRepo, pinSvc, tokenSvc, log)
	ledgerSvc := service.NewLedgerService(balanceRepo, txRepo, transactor, eventHub, notaryQueue, log)
	recoverySvc := service.NewRecoveryService(recoveryRepo, txRepo, transactor, ledgerSvc, railClient, recoveryConfig(), log)
	paymentSvc := service.NewPaymentService(
		userRepo, txRepo, idempotencyRepo, idempotencyCache, transactor,
		ledgerSvc, railClient, recoverySvc, pinSvc, eventHub, notaryQueue,
		2*time.Second, log,
	)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:         authSvc,
		LedgerSvc:       ledgerSvc,
		PaymentSvc:      paymentSvc,
		RecoverySvc:     recoverySvc,
		TxRepo:          txRepo,
		TokenSvc:        tokenSvc,
		LiveConnections: eventHub.ConnectionCount,
		WSHandler:       eventHub.HandleConnection,
		AdminKey:        testAdminKey,
		Logger:          log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		eventHub.Shutdown()
		rdb.Close()
		mr.Close()
	})

	return &testApp{
		server:       server,
		redis:        mr,
		rail:         railClient,
		recoveryRepo: recoveryRepo,
		txRepo:       txRepo,
		recoverySvc:  recoverySvc,
	}
}

func hubConfig() config.HubConfig {
	return config.HubConfig{
		AuthTimeout: time.Second,
		PingPeriod:  30 * time.Second,
		PongWait:    40 * time.Second,
		WriteWait:   time.Second,
		SendBuffer:  16,
	}
}

func recoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		SweepInterval:   time.Hour,
		SettlementDelay: 24 * time.Hour,
		StaleClaimAfter: 2 * time.Hour,
		BatchSize:       100,
	}
}

// --- request helpers ---

func (a *testApp) post(t *testing.T, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (a *testApp) get(t *testing.T, path, token string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// registerAndLogin provisions a user and returns its id and bearer token.
func (a *testApp) registerAndLogin(t *testing.T, phone string) (uuid.UUID, string) {
	t.Helper()
	resp, body := a.post(t, "/api/v1/auth/register", "", map[string]interface{}{
		"phone":               phone,
		"pin":                 "123456",
		"primary_account_ref": "bank-acct-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register failed: %v", body)
	userID, err := uuid.Parse(body["data"].(map[string]interface{})["user_id"].(string))
	require.NoError(t, err)

	resp, body = a.post(t, "/api/v1/auth/login", "", map[string]string{
		"phone": phone,
		"pin":   "123456",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["data"].(map[string]interface{})["token"].(string)
	require.NotEmpty(t, token)
	return userID, token
}

func (a *testApp) topup(t *testing.T, token string, amount int64) {
	t.Helper()
	resp, body := a.post(t, "/api/v1/wallet/topup", token, map[string]interface{}{
		"amount": amount,
		"source": "bank-acct-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "topup failed: %v", body)
}

func (a *testApp) balance(t *testing.T, token string) int64 {
	t.Helper()
	resp, body := a.get(t, "/api/v1/wallet/balance", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return int64(body["data"].(map[string]interface{})["balance"].(float64))
}

// --- Scenarios ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_RegisterLoginTopupBalance(t *testing.T) {
	app := newTestApp(t)

	_, token := app.registerAndLogin(t, "+84900000001")
	assert.Equal(t, int64(0), app.balance(t, token))

	app.topup(t, token, 250000)
	assert.Equal(t, int64(250000), app.balance(t, token))
}

func TestIntegration_DuplicatePhoneRejected(t *testing.T) {
	app := newTestApp(t)

	app.registerAndLogin(t, "+84900000002")
	resp, body := app.post(t, "/api/v1/auth/register", "", map[string]interface{}{
		"phone":               "+84900000002",
		"pin":                 "123456",
		"primary_account_ref": "bank-acct-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AUTH_004", body["error_code"])
}

func TestIntegration_PrimaryRailPayment(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000003")
	app.topup(t, token, 100000)

	resp, body := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-001",
		"counterparty": "merchant-9",
		"amount":       40000,
		"pin":          "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "pay failed: %v", body)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, string(domain.PaymentMethodPrimaryRail), data["method"])
	assert.Equal(t, false, data["fallback_used"])

	// Primary-rail success is record only: the wallet is untouched.
	assert.Equal(t, int64(100000), app.balance(t, token))
}

func TestIntegration_PaymentIdempotentReplay(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000004")
	app.topup(t, token, 100000)

	payBody := map[string]interface{}{
		"reference_id": "ord-dup",
		"counterparty": "merchant-9",
		"amount":       30000,
		"pin":          "123456",
	}

	resp, first := app.post(t, "/api/v1/payments", token, payBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	firstID := first["data"].(map[string]interface{})["transaction"].(map[string]interface{})["id"]

	resp, second := app.post(t, "/api/v1/payments", token, payBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secondID := second["data"].(map[string]interface{})["transaction"].(map[string]interface{})["id"]

	assert.Equal(t, firstID, secondID, "replay must return the original transaction")
	assert.Equal(t, 1, app.rail.attempts, "rail must be hit exactly once")
}

func TestIntegration_WrongPINRejected(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000005")

	resp, body := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-pin",
		"counterparty": "merchant-9",
		"amount":       1000,
		"pin":          "654321",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "PAY_006", body["error_code"])
}

func TestIntegration_FallbackToWallet(t *testing.T) {
	app := newTestApp(t)
	userID, token := app.registerAndLogin(t, "+84900000006")
	app.topup(t, token, 100000)

	app.rail.setAttemptErr(apperror.ErrRailUnavailable(fmt.Errorf("connection refused")))

	resp, body := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-fb",
		"counterparty": "merchant-9",
		"amount":       60000,
		"pin":          "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "fallback pay failed: %v", body)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["fallback_used"])
	assert.Equal(t, string(domain.PaymentMethodWallet), data["method"])

	// The wallet fronted the amount.
	assert.Equal(t, int64(40000), app.balance(t, token))

	// A reconciliation task is scheduled for the settlement delay.
	tasks, err := app.recoveryRepo.ListByStatus(context.Background(), domain.RecoveryStatusScheduled, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, userID, tasks[0].UserID)
	assert.Equal(t, int64(60000), tasks[0].Amount)
	assert.Equal(t, "bank-acct-1", tasks[0].RecoverySourceAccount)

	// History shows the failed rail attempt and the wallet movement linked
	// to it.
	_, listBody := app.get(t, "/api/v1/transactions?page_size=10", token, nil)
	items := listBody["data"].(map[string]interface{})["items"].([]interface{})
	var sawFailed, sawLinkedWallet bool
	for _, raw := range items {
		item := raw.(map[string]interface{})
		if item["type"] == string(domain.TransactionTypeFailed) {
			sawFailed = true
		}
		if item["payment_method"] == string(domain.PaymentMethodWallet) &&
			item["type"] == string(domain.TransactionTypeSent) &&
			item["original_transaction_id"] != nil {
			sawLinkedWallet = true
		}
	}
	assert.True(t, sawFailed, "failed rail attempt must be recorded")
	assert.True(t, sawLinkedWallet, "wallet debit must link to the failed attempt")
}

func TestIntegration_FallbackInsufficientFunds(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000007")
	app.topup(t, token, 10000)

	app.rail.setAttemptErr(apperror.ErrRailTimeout(fmt.Errorf("deadline exceeded")))

	resp, body := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-poor",
		"counterparty": "merchant-9",
		"amount":       50000,
		"pin":          "123456",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "PAY_004", body["error_code"])

	// Balance untouched, no recovery task.
	assert.Equal(t, int64(10000), app.balance(t, token))
	tasks, err := app.recoveryRepo.ListByStatus(context.Background(), domain.RecoveryStatusScheduled, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestIntegration_RecoverySettlement(t *testing.T) {
	app := newTestApp(t)
	userID, token := app.registerAndLogin(t, "+84900000008")
	app.topup(t, token, 100000)

	app.rail.setAttemptErr(apperror.ErrRailUnavailable(fmt.Errorf("down")))
	resp, _ := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-rec",
		"counterparty": "merchant-9",
		"amount":       70000,
		"pin":          "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int64(30000), app.balance(t, token))

	// Bring the task due.
	tasks, err := app.recoveryRepo.ListByStatus(context.Background(), domain.RecoveryStatusScheduled, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	app.recoveryRepo.mu.Lock()
	app.recoveryRepo.tasks[tasks[0].ID].ScheduledTime = time.Now().Add(-time.Minute)
	app.recoveryRepo.mu.Unlock()

	// Trigger the sweep through the admin endpoint.
	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/admin/recovery-tasks/sweep", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", testAdminKey)
	sweepResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer sweepResp.Body.Close()
	require.Equal(t, http.StatusOK, sweepResp.StatusCode)

	var sweepBody map[string]interface{}
	require.NoError(t, json.NewDecoder(sweepResp.Body).Decode(&sweepBody))
	data := sweepBody["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["completed"])

	// The wallet was made whole and the task is terminal with both
	// sub-transaction ids recorded.
	assert.Equal(t, int64(100000), app.balance(t, token))

	settled, err := app.recoveryRepo.GetByID(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryStatusCompleted, settled.Status)
	require.NotNil(t, settled.RecoveryDebitTransactionID)
	require.NotNil(t, settled.WalletCreditTransactionID)

	credit, err := app.txRepo.GetByID(context.Background(), *settled.WalletCreditTransactionID)
	require.NoError(t, err)
	require.NotNil(t, credit)
	assert.Equal(t, domain.TransactionTypeRefund, credit.Type)
	assert.Equal(t, userID, credit.UserID)
	assert.Equal(t, int64(70000), credit.Amount)

	// A second sweep settles nothing.
	report := app.recoverySvc.ProcessDue(context.Background())
	assert.Equal(t, 0, report.Claimed)
	assert.Equal(t, 0, report.Completed)
}

func TestIntegration_RecoveryNotYetDue(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000012")
	app.topup(t, token, 100000)

	app.rail.setAttemptErr(apperror.ErrRailTimeout(fmt.Errorf("slow")))
	resp, _ := app.post(t, "/api/v1/payments", token, map[string]interface{}{
		"reference_id": "ord-early",
		"counterparty": "merchant-12",
		"amount":       70000,
		"pin":          "123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int64(30000), app.balance(t, token))

	tasks, err := app.recoveryRepo.ListByStatus(context.Background(), domain.RecoveryStatusScheduled, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// Settlement is a day away; sweeping now must not touch the task.
	report := app.recoverySvc.ProcessDue(context.Background())
	assert.Equal(t, 0, report.Claimed)
	assert.Equal(t, 0, report.Completed)
	assert.Equal(t, 0, report.Failed)

	untouched, err := app.recoveryRepo.GetByID(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryStatusScheduled, untouched.Status)
	assert.Nil(t, untouched.ClaimedAt)
	assert.Equal(t, int64(30000), app.balance(t, token))
}

func TestIntegration_AdminRequiresKey(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/api/v1/admin/recovery-tasks", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "AUTH_005", body["error_code"])

	resp, _ = app.get(t, "/api/v1/admin/recovery-tasks", "", map[string]string{"X-Admin-Key": testAdminKey})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_RealtimeBalanceEvent(t *testing.T) {
	app := newTestApp(t)
	_, token := app.registerAndLogin(t, "+84900000009")

	wsURL := "ws" + strings.TrimPrefix(app.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"token": token}))

	// Give the hub a moment to register the connection.
	time.Sleep(100 * time.Millisecond)

	app.topup(t, token, 5000)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sawBalance bool
	for i := 0; i < 2; i++ {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(payload), domain.EventTypeBalanceUpdate) {
			assert.Contains(t, string(payload), `"balance":5000`)
			sawBalance = true
			break
		}
	}
	assert.True(t, sawBalance, "balance_update event not received")
}
