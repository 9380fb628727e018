package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"paywallet-core/config"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the primary payment rail and the recovery bank endpoint
// over HTTP. It implements both ports.PrimaryRail and ports.RecoveryBank.
type Client struct {
	baseURL        string
	attemptTimeout time.Duration
	httpClient     HTTPClient
	log            zerolog.Logger
}

// NewClient creates a rail client from config.
func NewClient(cfg config.RailConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.AttemptTimeout}
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		attemptTimeout: cfg.AttemptTimeout,
		httpClient:     httpClient,
		log:            log,
	}
}

type transferRequest struct {
	PayerAccount    string `json:"payer_account"`
	PayeeIdentifier string `json:"payee_identifier"`
	Amount          int64  `json:"amount"`
	Proof           string `json:"proof"`
}

type transferResponse struct {
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	Message     string `json:"message"`
}

type bankDebitRequest struct {
	SourceAccount string `json:"source_account"`
	Amount        int64  `json:"amount"`
}

type bankDebitResponse struct {
	ReferenceID string `json:"reference_id"`
	Message     string `json:"message"`
}

// Attempt submits one transfer to the primary rail. The call is bounded by
// the configured attempt timeout regardless of the caller's deadline, so a
// hung rail cannot stall the payment path indefinitely.
func (c *Client) Attempt(ctx context.Context, req ports.RailRequest) (*ports.RailResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, err := json.Marshal(transferRequest{
		PayerAccount:    req.PayerAccount,
		PayeeIdentifier: req.PayeeIdentifier,
		Amount:          req.Amount,
		Proof:           req.Proof,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rail request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rail request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.log.Warn().Err(err).Msg("primary rail attempt timed out")
			return nil, apperror.ErrRailTimeout(err)
		}
		c.log.Warn().Err(err).Msg("primary rail unreachable")
		return nil, apperror.ErrRailUnavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.ErrRailUnavailable(fmt.Errorf("read rail response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperror.ErrRailUnavailable(fmt.Errorf("rail returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, apperror.ErrRailTimeout(fmt.Errorf("rail returned %d", resp.StatusCode))
	}

	var parsed transferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperror.ErrRailUnavailable(fmt.Errorf("decode rail response: %w", err))
	}

	if resp.StatusCode != http.StatusOK || parsed.Status != "SUCCESS" {
		// A definitive decline from the rail. Not retryable and not
		// eligible for wallet fallback.
		return &ports.RailResult{
			Success:     false,
			ReferenceID: parsed.ReferenceID,
			Message:     parsed.Message,
		}, apperror.ErrRailDeclined(parsed.Message)
	}

	return &ports.RailResult{
		Success:     true,
		ReferenceID: parsed.ReferenceID,
		Message:     parsed.Message,
	}, nil
}

// Debit pulls funds from a user's registered funding source during
// reconciliation.
func (c *Client) Debit(ctx context.Context, sourceAccount string, amount int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, err := json.Marshal(bankDebitRequest{SourceAccount: sourceAccount, Amount: amount})
	if err != nil {
		return "", fmt.Errorf("marshal bank debit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/bank-debits", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build bank debit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperror.ErrRecoveryDebitFailed(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.ErrRecoveryDebitFailed(fmt.Errorf("read bank debit response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperror.ErrRecoveryDebitFailed(fmt.Errorf("bank debit returned %d", resp.StatusCode))
	}

	var parsed bankDebitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperror.ErrRecoveryDebitFailed(fmt.Errorf("decode bank debit response: %w", err))
	}
	return parsed.ReferenceID, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
