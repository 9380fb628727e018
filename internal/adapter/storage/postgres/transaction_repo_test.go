package postgres

import (
	"context"
	"testing"
	"time"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txnColumns() []string {
	return []string{
		"id", "user_id", "type", "amount", "status", "counterparty",
		"payment_method", "original_transaction_id", "external_reference_hash", "created_at",
	}
}

func newTestTransaction(userID uuid.UUID, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          domain.TransactionTypeSent,
		Amount:        amount,
		Status:        domain.TransactionStatusCompleted,
		Counterparty:  "merchant@upi",
		PaymentMethod: domain.PaymentMethodWallet,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New(), -5000)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.UserID, txn.Type, txn.Amount, txn.Status, txn.Counterparty,
			txn.PaymentMethod, txn.OriginalTransactionID, txn.ExternalReferenceHash, txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New(), -5000)

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(pgxmock.NewRows(txnColumns()).AddRow(
			txn.ID, txn.UserID, txn.Type, txn.Amount, txn.Status, txn.Counterparty,
			txn.PaymentMethod, txn.OriginalTransactionID, txn.ExternalReferenceHash, txn.CreatedAt,
		))

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, int64(-5000), got.Amount)
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(txnColumns()))

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransactionRepo_SetReferenceHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE transactions SET external_reference_hash").
		WithArgs("a1b2c3", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.SetReferenceHash(context.Background(), id, "a1b2c3")
	assert.NoError(t, err)
}

func TestTransactionRepo_SetReferenceHash_AlreadySet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	id := uuid.New()

	// The guarded UPDATE matches nothing once a hash exists, so a second
	// notarization pass cannot overwrite the first.
	mock.ExpectExec("UPDATE transactions SET external_reference_hash").
		WithArgs("d4e5f6", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.SetReferenceHash(context.Background(), id, "d4e5f6")
	assert.Error(t, err)
}

func TestTransactionRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	userID := uuid.New()
	txn := newTestTransaction(userID, -5000)
	status := domain.TransactionStatusCompleted

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(userID, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	mock.ExpectQuery("SELECT (.+) FROM transactions (.+) ORDER BY created_at DESC").
		WithArgs(userID, status, 20, 0).
		WillReturnRows(pgxmock.NewRows(txnColumns()).AddRow(
			txn.ID, txn.UserID, txn.Type, txn.Amount, txn.Status, txn.Counterparty,
			txn.PaymentMethod, txn.OriginalTransactionID, txn.ExternalReferenceHash, txn.CreatedAt,
		))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{
		UserID:   userID,
		Status:   &status,
		Page:     1,
		PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
}

func TestTransactionRepo_GetStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	userID := uuid.New()

	mock.ExpectQuery("SELECT(.+)FILTER").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"total", "completed", "failed", "sent", "received", "recovered"}).
			AddRow(int64(12), int64(10), int64(2), int64(45000), int64(30000), int64(5000)))

	stats, err := repo.GetStats(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalTransactions)
	assert.Equal(t, int64(45000), stats.TotalSent)
	assert.Equal(t, int64(5000), stats.TotalRecovered)
}
