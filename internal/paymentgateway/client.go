package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ronakch1234/payment-reconciler/internal"
	gatewaytypes "github.com/ronakch1234/payment-reconciler/internal/core/datamodel/paymentgateway"
)

const retryPath = "/v1/payments/retry"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client asks the payment gateway to retry failed payments. Calls go through a
// circuit breaker so a dead gateway fails fast instead of stalling a pass.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "PaymentGateway",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		cb:      gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

// RetryPayment posts a retry request and returns the gateway's verdict.
// Transport failures, non-2xx answers and an open breaker are returned as
// external AppErrors.
func (c *Client) RetryPayment(ctx context.Context, req gatewaytypes.RetryRequest) (*gatewaytypes.RetryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.doRetry(ctx, req)
	})
	if err != nil {
		c.logger.Warn("payment gateway retry failed", "payment_id", req.PaymentID, "error", err)
		if _, ok := internal.AsAppError(err); ok {
			return nil, err
		}
		return nil, internal.NewExternalError("payment gateway unavailable", err)
	}
	return res.(*gatewaytypes.RetryResponse), nil
}

func (c *Client) doRetry(ctx context.Context, req gatewaytypes.RetryRequest) (*gatewaytypes.RetryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retry request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+retryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, internal.NewExternalError(
			fmt.Sprintf("payment gateway returned status %d", resp.StatusCode),
			fmt.Errorf("%s", bytes.TrimSpace(snippet)))
	}

	var out gatewaytypes.RetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch out.Status {
	case gatewaytypes.RetryStatusSuccess, gatewaytypes.RetryStatusFailed,
		gatewaytypes.RetryStatusPending, gatewaytypes.RetryStatusRejected:
	default:
		return nil, fmt.Errorf("unknown retry status %q", out.Status)
	}

	c.logger.Debug("payment gateway answered retry",
		"payment_id", req.PaymentID,
		"status", out.Status)

	return &out, nil
}
