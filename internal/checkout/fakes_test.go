package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

type fakeBackend struct {
	mu sync.Mutex

	stockCalls   int
	intentCalls  int
	confirmCalls int
	confirmKeys  []string
	lastIntent   contract.IntentRequest
	lastConfirm  contract.ConfirmRequest

	stockFn   func(ctx context.Context, req contract.StockValidationRequest) (contract.StockValidationResponse, error)
	intentFn  func(ctx context.Context, req contract.IntentRequest) (contract.IntentResponse, error)
	confirmFn func(ctx context.Context, req contract.ConfirmRequest) (contract.ConfirmResponse, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		stockFn: func(context.Context, contract.StockValidationRequest) (contract.StockValidationResponse, error) {
			return contract.StockValidationResponse{Valid: true, ValidationID: "val-1"}, nil
		},
		intentFn: func(context.Context, contract.IntentRequest) (contract.IntentResponse, error) {
			return contract.IntentResponse{ClientSecret: "pi_1_secret_abc", OrderID: "ORD-20260101-A1"}, nil
		},
		confirmFn: func(_ context.Context, req contract.ConfirmRequest) (contract.ConfirmResponse, error) {
			return contract.ConfirmResponse{
				Success: true,
				Order:   &contract.Order{OrderID: req.OrderID, OrderStatus: "processing"},
			}, nil
		},
	}
}

func (f *fakeBackend) ValidateStock(ctx context.Context, req contract.StockValidationRequest) (contract.StockValidationResponse, error) {
	f.mu.Lock()
	f.stockCalls++
	fn := f.stockFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeBackend) CreatePaymentIntent(ctx context.Context, req contract.IntentRequest) (contract.IntentResponse, error) {
	f.mu.Lock()
	f.intentCalls++
	f.lastIntent = req
	fn := f.intentFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeBackend) ConfirmPayment(ctx context.Context, key string, req contract.ConfirmRequest) (contract.ConfirmResponse, error) {
	f.mu.Lock()
	f.confirmCalls++
	f.confirmKeys = append(f.confirmKeys, key)
	f.lastConfirm = req
	fn := f.confirmFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeBackend) calls() (stock, intent, confirm int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stockCalls, f.intentCalls, f.confirmCalls
}

type fakeCard struct {
	mu          sync.Mutex
	calls       int
	statusCalls int
	secrets     []string
	fn          func(ctx context.Context, secret, token string) (CardResult, error)
	statusFn    func(ctx context.Context, secret string) (CardResult, error)
}

func newFakeCard() *fakeCard {
	return &fakeCard{
		fn: func(_ context.Context, secret, _ string) (CardResult, error) {
			return CardResult{Succeeded: true, Status: "succeeded", PaymentIntentID: IntentIDFromSecret(secret)}, nil
		},
		statusFn: func(_ context.Context, secret string) (CardResult, error) {
			return CardResult{Status: "requires_confirmation", PaymentIntentID: IntentIDFromSecret(secret)}, nil
		},
	}
}

func (f *fakeCard) CardStatus(ctx context.Context, secret string) (CardResult, error) {
	f.mu.Lock()
	f.statusCalls++
	fn := f.statusFn
	f.mu.Unlock()
	return fn(ctx, secret)
}

func (f *fakeCard) ConfirmCard(ctx context.Context, secret, token string) (CardResult, error) {
	f.mu.Lock()
	f.calls++
	f.secrets = append(f.secrets, secret)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, secret, token)
}

func (f *fakeCard) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// phaseLog records observed transitions.
type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (l *phaseLog) observe(_ string, _, to Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, to)
}

func (l *phaseLog) all() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Phase(nil), l.phases...)
}

func rawCart(t *testing.T, raw ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		require.True(t, json.Valid([]byte(r)), r)
		out = append(out, json.RawMessage(r))
	}
	return out
}

func twoItemCart(t *testing.T) []json.RawMessage {
	return rawCart(t,
		`{"product":{"product_id":"P1","product_name":"Denim jacket","product_price":"45.00","seller_id":"S1"},"quantity":1}`,
		`{"product":{"product_id":"P2","product_name":"Scarf","product_price":"10.00","seller_id":"S1"},"quantity":2}`,
	)
}

func testConfig() config.Checkout {
	return config.DefaultCheckout()
}
