package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// GetCode extracts the error code from an error chain. Returns an empty
// string for non-AppError chains.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether the error chain carries an AppError with the given
// code.
func Is(err error, code string) bool {
	return GetCode(err) == code
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Insufficient wallet balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("LED_002", "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_003", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Payment rail & fallback (PAY) ----

func ErrRailUnavailable(err error) *AppError {
	return Wrap("PAY_001", "Primary payment rail unavailable", http.StatusBadGateway, err)
}

func ErrRailTimeout(err error) *AppError {
	return Wrap("PAY_002", "Primary payment rail timed out", http.StatusGatewayTimeout, err)
}

func ErrRailDeclined(message string) *AppError {
	if message == "" {
		message = "Payment declined by the primary rail"
	}
	return New("PAY_003", message, http.StatusUnprocessableEntity)
}

func ErrFallbackIneligible() *AppError {
	return New("PAY_004", "Account not eligible for wallet fallback", http.StatusUnprocessableEntity)
}

func ErrDuplicatePayment() *AppError {
	return New("PAY_005", "Duplicate payment reference", http.StatusConflict)
}

func ErrInvalidPIN() *AppError {
	return New("PAY_006", "Invalid payment PIN", http.StatusUnauthorized)
}

// ---- Recovery (REC) ----

func ErrRecoveryDebitFailed(err error) *AppError {
	return Wrap("REC_001", "Recovery debit against funding source failed", http.StatusBadGateway, err)
}

func ErrTaskNotClaimable() *AppError {
	return New("REC_002", "Recovery task is not in a claimable state", http.StatusConflict)
}

// ---- Authentication & connections (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrConnectionAuthFailed() *AppError {
	return New("AUTH_003", "Connection handshake authentication failed", http.StatusUnauthorized)
}

func ErrPhoneExists() *AppError {
	return New("AUTH_004", "Phone number already registered", http.StatusConflict)
}

func ErrAdminKeyRequired() *AppError {
	return New("AUTH_005", "Admin key missing or invalid", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_002-style validation error.
func Validation(message string) *AppError {
	return New("LED_002", message, http.StatusBadRequest)
}
