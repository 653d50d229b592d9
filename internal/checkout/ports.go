package checkout

import (
	"context"
	"strings"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

// StockChecker calls the stock validation endpoint.
type StockChecker interface {
	ValidateStock(ctx context.Context, req contract.StockValidationRequest) (contract.StockValidationResponse, error)
}

// IntentCreator calls the payment intent endpoint.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req contract.IntentRequest) (contract.IntentResponse, error)
}

// OrderConfirmer calls the payment confirmation endpoint. idempotencyKey is
// sent with the request so that repeated confirmations create one order.
type OrderConfirmer interface {
	ConfirmPayment(ctx context.Context, idempotencyKey string, req contract.ConfirmRequest) (contract.ConfirmResponse, error)
}

// Backend is the marketplace checkout API.
type Backend interface {
	StockChecker
	IntentCreator
	OrderConfirmer
}

// ProcessorError is a decline or failure reported by the payment processor.
type ProcessorError struct {
	Message     string
	Code        string
	DeclineCode string
	// Retriable means the same intent may be confirmed again with new
	// payment details.
	Retriable bool
}

// CardResult is the outcome of a processor-side confirmation.
type CardResult struct {
	Succeeded       bool
	PaymentIntentID string
	Status          string
	Error           *ProcessorError
}

// CardConfirmer confirms a payment intent with the buyer's payment details.
// An error return means the processor could not be reached; a decline is
// reported through CardResult.Error.
type CardConfirmer interface {
	ConfirmCard(ctx context.Context, clientSecret, paymentMethodToken string) (CardResult, error)
	// CardStatus reads the intent's current state without confirming it.
	CardStatus(ctx context.Context, clientSecret string) (CardResult, error)
}

// IntentIDFromSecret derives the payment intent id from its client secret
// ("pi_123_secret_abc" -> "pi_123").
func IntentIDFromSecret(secret string) string {
	id, _, found := strings.Cut(secret, "_secret_")
	if !found {
		return ""
	}
	return id
}
