// Package backend is the HTTP client for the marketplace checkout endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/checkout"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

const maxBody = 1 << 20

// ErrOrderNotFound is returned by GetOrder for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

type reply struct {
	status int
	body   []byte
}

// Client implements checkout.Backend over HTTP. Each endpoint has its own
// circuit breaker; only transport failures and 5xx responses trip it.
type Client struct {
	cfg     config.Checkout
	http    *http.Client
	base    string
	stock   *gobreaker.CircuitBreaker[reply]
	intent  *gobreaker.CircuitBreaker[reply]
	confirm *gobreaker.CircuitBreaker[reply]
	order   *gobreaker.CircuitBreaker[reply]
}

var _ checkout.Backend = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(cfg config.Checkout, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		base: strings.TrimRight(cfg.APIBaseURL, "/"),
	}
	c.stock = newBreaker("validate-stock", cfg)
	c.intent = newBreaker("create-payment-intent", cfg)
	c.confirm = newBreaker("confirm-payment", cfg)
	c.order = newBreaker("order", cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(name string, cfg config.Checkout) *gobreaker.CircuitBreaker[reply] {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[backend] breaker=%s state %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// a cancelled request says nothing about the endpoint
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// ValidateStock posts the cart to the stock validation endpoint. A 4xx
// answer with a JSON body is returned as a response.
func (c *Client) ValidateStock(ctx context.Context, req contract.StockValidationRequest) (contract.StockValidationResponse, error) {
	var out contract.StockValidationResponse
	r, err := c.do(ctx, c.stock, http.MethodPost, c.cfg.StockPath, "", req)
	if err != nil {
		return out, err
	}
	if err := decode(r, &out); err != nil {
		return out, fmt.Errorf("validate stock: %w: %w", checkout.ErrBackendUnavailable, err)
	}
	if r.status >= 400 && out.Valid {
		out.Valid = false
	}
	return out, nil
}

// CreatePaymentIntent posts the charge to the payment intent endpoint.
func (c *Client) CreatePaymentIntent(ctx context.Context, req contract.IntentRequest) (contract.IntentResponse, error) {
	var out contract.IntentResponse
	r, err := c.do(ctx, c.intent, http.MethodPost, c.cfg.IntentPath, "", req)
	if err != nil {
		return out, err
	}
	if err := decode(r, &out); err != nil {
		if r.status >= 400 {
			return contract.IntentResponse{Error: fmt.Sprintf("Payment intent request failed with status %d.", r.status)}, nil
		}
		return out, fmt.Errorf("create payment intent: %w: %w", checkout.ErrBackendUnavailable, err)
	}
	if r.status >= 400 && out.Error == "" {
		out.Error = errorMessage(r.body, r.status)
	}
	return out, nil
}

// ConfirmPayment posts the captured payment to the confirmation endpoint.
// A conflict means another confirmation with the same key is in flight, so
// the outcome is still unknown and reported as unavailable.
func (c *Client) ConfirmPayment(ctx context.Context, idempotencyKey string, req contract.ConfirmRequest) (contract.ConfirmResponse, error) {
	var out contract.ConfirmResponse
	r, err := c.do(ctx, c.confirm, http.MethodPost, c.cfg.ConfirmPath, idempotencyKey, req)
	if err != nil {
		return out, err
	}
	if r.status == http.StatusConflict {
		return out, fmt.Errorf("confirm payment: %w: confirmation in progress", checkout.ErrBackendUnavailable)
	}
	if transientStatus(r.status) {
		return out, fmt.Errorf("confirm payment: %w: %s", checkout.ErrBackendUnavailable, errorMessage(r.body, r.status))
	}
	if err := decode(r, &out); err != nil {
		return out, fmt.Errorf("confirm payment: %w: %w", checkout.ErrBackendUnavailable, err)
	}
	if r.status >= 400 {
		out.Success = false
		if out.Error == "" {
			out.Error = errorMessage(r.body, r.status)
		}
	}
	return out, nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (contract.Order, error) {
	var out contract.Order
	r, err := c.do(ctx, c.order, http.MethodGet, "/order/"+url.PathEscape(orderID), "", nil)
	if err != nil {
		return out, err
	}
	if r.status == http.StatusNotFound {
		return out, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if r.status >= 400 {
		return out, fmt.Errorf("get order %s: %s", orderID, errorMessage(r.body, r.status))
	}
	if err := decode(r, &out); err != nil {
		return out, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return out, nil
}

// OrderQuery filters ListOrders. Dates are YYYY-MM-DD or RFC 3339.
type OrderQuery struct {
	Status    string
	UserID    string
	SellerID  string
	StartDate string
	EndDate   string
	Page      int
	PerPage   int
}

func (q OrderQuery) encode() string {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("status", q.Status)
	set("user_id", q.UserID)
	set("seller_id", q.SellerID)
	set("start_date", q.StartDate)
	set("end_date", q.EndDate)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ListOrders fetches one page of orders, newest first.
func (c *Client) ListOrders(ctx context.Context, q OrderQuery) (contract.OrderPage, error) {
	r, err := c.do(ctx, c.order, http.MethodGet, "/orders"+q.encode(), "", nil)
	if err != nil {
		return contract.OrderPage{}, err
	}
	var out contract.OrderListResponse
	if r.status >= 400 {
		return contract.OrderPage{}, fmt.Errorf("list orders: %s", errorMessage(r.body, r.status))
	}
	if err := decode(r, &out); err != nil {
		return contract.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	if !out.Success || out.Orders == nil {
		return contract.OrderPage{}, fmt.Errorf("list orders: %s", errorMessage(r.body, r.status))
	}
	return *out.Orders, nil
}

func (c *Client) do(ctx context.Context, cb *gobreaker.CircuitBreaker[reply], method, path, idempotencyKey string, body any) (reply, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	r, err := cb.Execute(func() (reply, error) {
		return c.send(ctx, method, path, idempotencyKey, body)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return r, err
		}
		return r, fmt.Errorf("%s %s: %w: %w", method, path, checkout.ErrBackendUnavailable, err)
	}
	return r, nil
}

func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, body any) (reply, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return reply{}, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return reply{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRF-TOKEN", c.cfg.CSRFToken)
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return reply{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return reply{status: resp.StatusCode, body: b}, fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	return reply{status: resp.StatusCode, body: b}, nil
}

// transientStatus reports 4xx answers that say nothing about the payment:
// throttling, timeouts and an expired session or CSRF token. 419 is the
// status Laravel-style backends use for a stale CSRF token.
func transientStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout,
		419, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return false
}

func decode(r reply, v any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return fmt.Errorf("empty response body (status %d)", r.status)
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.status, err)
	}
	return nil
}

// errorMessage pulls "error" or "message" out of an error body.
func errorMessage(body []byte, status int) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fmt.Sprintf("request failed with status %d", status)
}
