// Package paystack is a minimal client for the Paystack transaction API:
// initialize, verify-by-reference and webhook signature checks.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxBody bounds how much of a gateway response is read.
const maxBody = 1 << 20

var ErrMalformedResponse = errors.New("paystack: malformed response")

// APIError is a non-2xx answer from the gateway. It is for server-side logs
// only and must not be shown to customers.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL, secretKey string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

// Initialize starts a transaction and returns the hosted payment page.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	var auth Authorization
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &auth); err != nil {
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}

	if auth.AuthorizationURL == "" {
		return nil, fmt.Errorf("initialize transaction: %w: missing authorization_url", ErrMalformedResponse)
	}

	return &auth, nil
}

// Verify asks the gateway for the authoritative state of a transaction.
// Callers must still check Transaction.Succeeded.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, errors.New("verify transaction: empty reference")
	}

	var raw rawTransaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("verify transaction %s: %w", reference, err)
	}

	txn := raw.normalize()
	if txn.Reference != reference {
		return nil, fmt.Errorf("verify transaction %s: %w: reference mismatch %q", reference, ErrMalformedResponse, txn.Reference)
	}

	return txn, nil
}

// envelope is the wrapper every Paystack response uses.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrMalformedResponse)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return nil
}
