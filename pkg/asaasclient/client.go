/**
 * @description
 * This package provides a client for the Asaas payment gateway API. It
 * encapsulates the logic for making authenticated HTTP requests to Asaas
 * endpoints, decoding payment records into typed structs at the boundary, and
 * classifying error responses by HTTP status so the calling gateway can tell
 * throttling and credential failures apart.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package asaasclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrPaymentNotFound is returned when the gateway has no record for the
// requested reference (HTTP 404 or an empty body). Callers treat it as "no
// data", not as a failure.
var ErrPaymentNotFound = errors.New("asaas: payment not found")

// Client is a client for the Asaas API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Asaas API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Payment is one payment record as returned by the Asaas API. Only the
// fields the reconciler consumes are decoded.
type Payment struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Value        float64 `json:"value"`
	DueDate      string  `json:"dueDate"`
	PaymentDate  string  `json:"paymentDate"`
	InvoiceURL   *string `json:"invoiceUrl"`
	Subscription string  `json:"subscription"`
}

// PaidOn parses the payment date. Asaas date strings carry the significant
// ISO date in the first 10 characters.
func (p *Payment) PaidOn() (time.Time, bool) {
	if p == nil || len(p.PaymentDate) < 10 {
		return time.Time{}, false
	}
	parsed, err := time.Parse("2006-01-02", p.PaymentDate[:10])
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// PaymentPage is one page of a payment listing.
type PaymentPage struct {
	Data       []Payment `json:"data"`
	HasMore    bool      `json:"hasMore"`
	TotalCount int       `json:"totalCount"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

// ListPaymentsOptions filters a payment listing.
type ListPaymentsOptions struct {
	Subscription string
	Offset       int
	Limit        int
}

// CacheKey builds a deterministic cache key covering every filter and
// pagination parameter, so distinct logical requests never collide.
func (o ListPaymentsOptions) CacheKey() string {
	return "payments:subscription=" + o.Subscription +
		":offset=" + strconv.Itoa(o.Offset) +
		":limit=" + strconv.Itoa(o.Limit)
}

// APIError represents a non-2xx response from the Asaas API.
type APIError struct {
	Status int
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("asaas api error (status %d): %s - %s", e.Status, e.Errors[0].Code, e.Errors[0].Description)
	}
	return fmt.Sprintf("asaas api error (status %d)", e.Status)
}

// HTTPStatus exposes the response status code so the rate-limited gateway
// can classify throttling (429) and credential failures (401).
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// GetPayment fetches one payment record by its Asaas id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	body, err := c.doGet(ctx, "/v3/payments/"+url.PathEscape(paymentID), "get_payment")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrPaymentNotFound
	}

	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}
	if payment.ID == "" {
		return nil, ErrPaymentNotFound
	}
	return &payment, nil
}

// ListPayments fetches one page of payments matching opts.
func (c *Client) ListPayments(ctx context.Context, opts ListPaymentsOptions) (*PaymentPage, error) {
	query := url.Values{}
	if opts.Subscription != "" {
		query.Set("subscription", opts.Subscription)
	}
	query.Set("offset", strconv.Itoa(opts.Offset))
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.doGet(ctx, "/v3/payments?"+query.Encode(), "list_payments")
	if err != nil {
		return nil, err
	}

	var page PaymentPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode payment listing: %w", err)
	}
	return &page, nil
}

// doGet executes an authenticated GET and returns the raw body for 2xx
// responses. 404 maps to ErrPaymentNotFound; every other non-2xx status maps
// to an APIError carrying the status code.
func (c *Client) doGet(ctx context.Context, path, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("access_token", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
			log.Printf("level=warn component=asaas_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
		} else if len(apiErr.Errors) > 0 {
			log.Printf("level=warn component=asaas_client op=%s status=%d code=%q description=%q", op, resp.StatusCode, apiErr.Errors[0].Code, apiErr.Errors[0].Description)
		}
		return nil, apiErr
	}

	return bodyBytes, nil
}
