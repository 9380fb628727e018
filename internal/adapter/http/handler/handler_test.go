package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paywallet-core/internal/adapter/http/dto"
	"paywallet-core/internal/adapter/http/middleware"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/internal/core/ports/mocks"
	"paywallet-core/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newJSONContext(t *testing.T, method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	return c, w
}

func responseData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data envelope: %s", w.Body.String())
	return data
}

// --- Auth Handler ---

func TestRegister_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	userID := uuid.New()
	mockAuth.EXPECT().Register(gomock.Any(), ports.RegisterRequest{
		Phone:             "+84912345678",
		PIN:               "123456",
		PrimaryAccountRef: "bank-001",
		FallbackEnabled:   true,
	}).Return(&domain.User{
		ID:              userID,
		Phone:           "+84912345678",
		FallbackEnabled: true,
	}, nil)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{
		Phone:             "+84912345678",
		PIN:               "123456",
		PrimaryAccountRef: "bank-001",
	})

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, userID.String(), data["user_id"])
	assert.Equal(t, "+84912345678", data["phone"])
	assert.Equal(t, true, data["fallback_enabled"])
}

func TestRegister_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewAuthHandler(mocks.NewMockAuthService(ctrl))

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"phone": "not-a-phone",
		"pin":   "123456",
	})

	h.Register(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_PhoneExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrPhoneExists())

	c, w := newJSONContext(t, http.MethodPost, "/", dto.RegisterRequest{
		Phone:             "+84912345678",
		PIN:               "123456",
		PrimaryAccountRef: "bank-001",
	})

	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	expiry := time.Now().Add(24 * time.Hour)
	mockAuth.EXPECT().Login(gomock.Any(), "+84912345678", "123456").
		Return("jwt-token", expiry, nil)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{
		Phone: "+84912345678",
		PIN:   "123456",
	})

	h.Login(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "jwt-token", data["token"])
	assert.Equal(t, float64(expiry.Unix()), data["expiry"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", time.Time{}, apperror.ErrInvalidCredentials())

	c, w := newJSONContext(t, http.MethodPost, "/", dto.LoginRequest{Phone: "+84912345678", PIN: "000000"})

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Wallet Handler ---

func TestGetBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewWalletHandler(mockLedger)

	userID := uuid.New()
	mockLedger.EXPECT().GetBalance(gomock.Any(), userID).Return(int64(125000), nil)

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/wallet/balance", nil)
	c.Set(middleware.CtxUserID, userID)

	h.GetBalance(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(125000), data["balance"])
}

func TestGetBalance_Unauthenticated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockLedgerService(ctrl))

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/wallet/balance", nil)

	h.GetBalance(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTopup_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewWalletHandler(mockLedger)

	userID := uuid.New()
	txn := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          domain.TransactionTypeTopup,
		Amount:        50000,
		Status:        domain.TransactionStatusCompleted,
		Counterparty:  "bank-001",
		PaymentMethod: domain.PaymentMethodWallet,
		CreatedAt:     time.Now(),
	}
	mockLedger.EXPECT().Credit(gomock.Any(), ports.LedgerEntry{
		UserID:       userID,
		Amount:       50000,
		Type:         domain.TransactionTypeTopup,
		Counterparty: "bank-001",
		Method:       domain.PaymentMethodWallet,
	}).Return(&ports.LedgerResult{NewBalance: 175000, Transaction: txn}, nil)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/wallet/topup", dto.TopupRequest{
		Amount: 50000,
		Source: "bank-001",
	})
	c.Set(middleware.CtxUserID, userID)

	h.Topup(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(175000), data["balance"])
}

func TestTopup_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockLedgerService(ctrl))

	c, w := newJSONContext(t, http.MethodPost, "/", map[string]interface{}{
		"amount": -100,
		"source": "bank-001",
	})
	c.Set(middleware.CtxUserID, uuid.New())

	h.Topup(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Payment Handler ---

func TestPay_PrimarySuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockPayment := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(mockPayment)

	userID := uuid.New()
	txn := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          domain.TransactionTypeSent,
		Amount:        -20000,
		Status:        domain.TransactionStatusCompleted,
		Counterparty:  "merchant-9",
		PaymentMethod: domain.PaymentMethodPrimaryRail,
		CreatedAt:     time.Now(),
	}
	mockPayment.EXPECT().Pay(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.PayRequest) (*ports.PayResult, error) {
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, "ord-123", req.ReferenceID)
			assert.Equal(t, int64(20000), req.Amount)
			return &ports.PayResult{
				Transaction: txn,
				Method:      domain.PaymentMethodPrimaryRail,
			}, nil
		})

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/payments", dto.PayRequest{
		ReferenceID:  "ord-123",
		Counterparty: "merchant-9",
		Amount:       20000,
		PIN:          "123456",
	})
	c.Set(middleware.CtxUserID, userID)

	h.Pay(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, string(domain.PaymentMethodPrimaryRail), data["method"])
	assert.Equal(t, false, data["fallback_used"])
}

func TestPay_FallbackUsed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockPayment := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(mockPayment)

	userID := uuid.New()
	mockPayment.EXPECT().Pay(gomock.Any(), gomock.Any()).Return(&ports.PayResult{
		Transaction: &domain.Transaction{
			ID:            uuid.New(),
			UserID:        userID,
			Type:          domain.TransactionTypeSent,
			Amount:        -20000,
			Status:        domain.TransactionStatusCompleted,
			PaymentMethod: domain.PaymentMethodWallet,
			CreatedAt:     time.Now(),
		},
		Method:       domain.PaymentMethodWallet,
		FallbackUsed: true,
	}, nil)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/payments", dto.PayRequest{
		ReferenceID:  "ord-124",
		Counterparty: "merchant-9",
		Amount:       20000,
		PIN:          "123456",
	})
	c.Set(middleware.CtxUserID, userID)

	h.Pay(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, true, data["fallback_used"])
	assert.Equal(t, string(domain.PaymentMethodWallet), data["method"])
}

func TestPay_DeclinedCarriesFailureRef(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockPayment := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(mockPayment)

	ref := "PAYFAIL-1A2B3C4D5E6F"
	mockPayment.EXPECT().Pay(gomock.Any(), gomock.Any()).
		Return(&ports.PayResult{FailureRef: &ref}, apperror.ErrRailDeclined("insufficient funds at bank"))

	c, w := newJSONContext(t, http.MethodPost, "/", dto.PayRequest{
		ReferenceID:  "ord-125",
		Counterparty: "merchant-9",
		Amount:       20000,
		PIN:          "123456",
	})
	c.Set(middleware.CtxUserID, uuid.New())

	h.Pay(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, ref, w.Header().Get("X-Failure-Ref"))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_003", resp["error_code"])
}

func TestPay_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewPaymentHandler(mocks.NewMockPaymentService(ctrl))

	c, w := newJSONContext(t, http.MethodPost, "/", map[string]interface{}{
		"reference_id": "ord-126",
		"amount":       0,
	})
	c.Set(middleware.CtxUserID, uuid.New())

	h.Pay(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- History Handler ---

func TestListTransactions_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockTransactionRepository(ctrl)
	h := NewHistoryHandler(mockRepo)

	userID := uuid.New()
	items := []domain.Transaction{
		{ID: uuid.New(), UserID: userID, Type: domain.TransactionTypeSent, Amount: -5000, Status: domain.TransactionStatusCompleted, PaymentMethod: domain.PaymentMethodWallet, CreatedAt: time.Now()},
		{ID: uuid.New(), UserID: userID, Type: domain.TransactionTypeTopup, Amount: 10000, Status: domain.TransactionStatusCompleted, PaymentMethod: domain.PaymentMethodWallet, CreatedAt: time.Now()},
	}
	mockRepo.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			assert.Equal(t, userID, params.UserID)
			assert.Equal(t, 1, params.Page)
			assert.Equal(t, 20, params.PageSize)
			return items, 42, nil
		})

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/transactions", nil)
	c.Set(middleware.CtxUserID, userID)

	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(42), data["total"])
	assert.Equal(t, float64(3), data["total_pages"])
	assert.Len(t, data["items"], 2)
}

func TestListTransactions_StatusFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockTransactionRepository(ctrl)
	h := NewHistoryHandler(mockRepo)

	userID := uuid.New()
	mockRepo.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.TransactionStatusFailed, *params.Status)
			return nil, 0, nil
		})

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/transactions?status=FAILED", nil)
	c.Set(middleware.CtxUserID, userID)

	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetStats_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockTransactionRepository(ctrl)
	h := NewHistoryHandler(mockRepo)

	userID := uuid.New()
	mockRepo.EXPECT().GetStats(gomock.Any(), userID, nil).Return(&ports.TransactionStats{
		TotalTransactions: 10,
		Completed:         8,
		Failed:            2,
		TotalSent:         90000,
		TotalReceived:     120000,
		TotalRecovered:    15000,
	}, nil)

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/transactions/stats", nil)
	c.Set(middleware.CtxUserID, userID)

	h.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(10), data["total_transactions"])
	assert.Equal(t, float64(15000), data["total_recovered"])
}

func TestGetTransaction_OwnershipEnforced(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockTransactionRepository(ctrl)
	h := NewHistoryHandler(mockRepo)

	txID := uuid.New()
	mockRepo.EXPECT().GetByID(gomock.Any(), txID).Return(&domain.Transaction{
		ID:     txID,
		UserID: uuid.New(), // another user's record
	}, nil)

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/transactions/"+txID.String(), nil)
	c.Set(middleware.CtxUserID, uuid.New())
	c.Params = gin.Params{{Key: "id", Value: txID.String()}}

	h.GetTransaction(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Admin Handler ---

func TestListRecoveryTasks_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRecovery := mocks.NewMockRecoveryService(ctrl)
	h := NewAdminHandler(mockRecovery)

	tasks := []domain.RecoveryTask{
		{ID: uuid.New(), UserID: uuid.New(), Amount: 20000, Status: domain.RecoveryStatusScheduled, ScheduledTime: time.Now().Add(time.Hour)},
	}
	mockRecovery.EXPECT().ListByStatus(gomock.Any(), domain.RecoveryStatusScheduled).Return(tasks, nil)

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/admin/recovery-tasks", nil)

	h.ListRecoveryTasks(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(1), data["count"])
}

func TestListRecoveryTasks_InvalidStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewAdminHandler(mocks.NewMockRecoveryService(ctrl))

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/admin/recovery-tasks?status=BOGUS", nil)

	h.ListRecoveryTasks(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerSweep_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRecovery := mocks.NewMockRecoveryService(ctrl)
	h := NewAdminHandler(mockRecovery)

	mockRecovery.EXPECT().ProcessDue(gomock.Any()).Return(ports.RecoveryReport{
		Claimed: 3, Completed: 2, Failed: 1,
	})
	mockRecovery.EXPECT().SweepStale(gomock.Any()).Return(int64(1), nil)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/admin/recovery-tasks/sweep", nil)

	h.TriggerSweep(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(2), data["completed"])
	assert.Equal(t, float64(1), data["swept_stale"])
}

func TestTriggerSweep_SweepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRecovery := mocks.NewMockRecoveryService(ctrl)
	h := NewAdminHandler(mockRecovery)

	mockRecovery.EXPECT().ProcessDue(gomock.Any()).Return(ports.RecoveryReport{})
	mockRecovery.EXPECT().SweepStale(gomock.Any()).Return(int64(0), errors.New("db down"))

	c, w := newJSONContext(t, http.MethodPost, "/", nil)

	h.TriggerSweep(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Health ---

func TestHealthCheck_AllHealthy(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pg := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	pg.EXPECT().Name().Return("postgres")

	c, w := newJSONContext(t, http.MethodGet, "/health", nil)

	HealthCheck(func() int { return 3 }, pg)(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"live_connections":3`)
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pg := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))
	pg.EXPECT().Name().Return("postgres")

	c, w := newJSONContext(t, http.MethodGet, "/health", nil)

	HealthCheck(nil, pg)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}
