// Package processor talks to the Stripe payment intents API.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Intent statuses used by the checkout flow.
const (
	StatusSucceeded             = string(stripe.PaymentIntentStatusSucceeded)
	StatusRequiresPaymentMethod = string(stripe.PaymentIntentStatusRequiresPaymentMethod)
	StatusRequiresAction        = string(stripe.PaymentIntentStatusRequiresAction)
	StatusProcessing            = string(stripe.PaymentIntentStatusProcessing)
)

// IntentAPI is the subset of the Stripe payment intents client in use.
type IntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

// NewStripeAPI returns the payment intents client for secretKey.
func NewStripeAPI(secretKey string) IntentAPI {
	return client.New(secretKey, nil).PaymentIntents
}

// Intent is a payment intent as the marketplace sees it.
type Intent struct {
	ID                 string
	ClientSecret       string
	Status             string
	Amount             int64
	Currency           string
	PaymentMethodTypes []string
	Metadata           map[string]string
}

// CreateIntentInput describes a new payment intent. Amount is in minor
// units.
type CreateIntentInput struct {
	Amount             int64
	Currency           string
	PaymentMethodTypes []string
	Metadata           map[string]string
	IdempotencyKey     string
}

// Gateway creates and inspects payment intents on behalf of the backend.
type Gateway struct {
	api IntentAPI
}

func NewGateway(api IntentAPI) *Gateway {
	return &Gateway{api: api}
}

func (g *Gateway) CreateIntent(ctx context.Context, in CreateIntentInput) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(in.Amount),
		Currency:           stripe.String(in.Currency),
		PaymentMethodTypes: stripe.StringSlice(in.PaymentMethodTypes),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	pi, err := g.api.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func (g *Gateway) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:                 pi.ID,
		ClientSecret:       pi.ClientSecret,
		Status:             string(pi.Status),
		Amount:             pi.Amount,
		Currency:           string(pi.Currency),
		PaymentMethodTypes: pi.PaymentMethodTypes,
		Metadata:           pi.Metadata,
	}
}

// IsNotFound reports whether err is Stripe's resource_missing error.
func IsNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}
