// Package processor provides the client for the external payment processor.
// It encapsulates authenticated HTTP requests for payment intents, refunds,
// transfers, and payout-account lookups, and classifies processor failures
// into retryable and terminal errors.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Payment intent statuses reported by the processor.
const (
	IntentStatusPending        = "pending"
	IntentStatusProcessing     = "processing"
	IntentStatusRequiresAction = "requires_action"
	IntentStatusSucceeded      = "succeeded"
	IntentStatusFailed         = "failed"
	IntentStatusCanceled       = "canceled"
)

// API is the subset of processor operations the engine consumes. The concrete
// Client implements it; tests substitute stubs.
type API interface {
	CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	RetrieveAccount(ctx context.Context, accountRef string) (*Account, error)
}

// Client is an HTTP client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new processor API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ API = (*Client)(nil)

// CreateIntentRequest is the payload for creating a payment intent.
type CreateIntentRequest struct {
	AmountCents      int64             `json:"amount"`
	Currency         string            `json:"currency"`
	PayerRef         string            `json:"customer"`
	PaymentMethodRef string            `json:"payment_method"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// PaymentIntent is the processor's view of a capture attempt.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount"`
	ClientSecret string `json:"client_secret,omitempty"`
	LastError    *Error `json:"last_error,omitempty"`
}

// Refund is the processor's record of a refund against a payment intent.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TransferRequest is the payload for moving funds to a payout account.
type TransferRequest struct {
	AmountCents    int64             `json:"amount"`
	Currency       string            `json:"currency"`
	DestinationRef string            `json:"destination"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Transfer is the processor's record of a payout transfer.
type Transfer struct {
	ID string `json:"id"`
}

// Account describes a payout account's capability flags.
type Account struct {
	ID             string   `json:"id"`
	ChargesEnabled bool     `json:"charges_enabled"`
	PayoutsEnabled bool     `json:"payouts_enabled"`
	Requirements   []string `json:"requirements,omitempty"`
}

// CreatePaymentIntent asks the processor to authorize and hold funds.
func (c *Client) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RetrievePaymentIntent fetches the current status of a payment intent.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmPaymentIntent captures a previously created intent.
func (c *Client) ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(id)+"/confirm", nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateRefund reverses up to amountCents of a captured intent. amountCents of
// zero refunds the full captured amount.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (*Refund, error) {
	payload := map[string]interface{}{"payment_intent": paymentIntentID}
	if amountCents > 0 {
		payload["amount"] = amountCents
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", payload, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// CreateTransfer moves funds from the platform balance to a payout account.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// RetrieveAccount fetches a payout account's capability flags.
func (c *Client) RetrieveAccount(ctx context.Context, accountRef string) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountRef), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// do executes one authenticated request and decodes either the success body
// into out or the error body into a *Error.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapper struct {
			Error *Error `json:"error"`
		}
		if err := json.Unmarshal(bodyBytes, &wrapper); err != nil || wrapper.Error == nil {
			return fmt.Errorf("processor returned status %d with unparsable error body", resp.StatusCode)
		}
		wrapper.Error.HTTPStatus = resp.StatusCode
		return wrapper.Error
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
