package processor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/stripe/stripe-go/v78"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/checkout"
)

// Confirmer confirms payment intents with a payment method token. It
// implements checkout.CardConfirmer.
type Confirmer struct {
	api       IntentAPI
	returnURL string
}

var _ checkout.CardConfirmer = (*Confirmer)(nil)

// NewConfirmer returns a Confirmer. returnURL is required by the processor
// for redirect based wallets and may be empty for cards.
func NewConfirmer(api IntentAPI, returnURL string) *Confirmer {
	return &Confirmer{api: api, returnURL: returnURL}
}

func (c *Confirmer) ConfirmCard(ctx context.Context, clientSecret, token string) (checkout.CardResult, error) {
	id := checkout.IntentIDFromSecret(clientSecret)
	if id == "" {
		return checkout.CardResult{Error: &checkout.ProcessorError{Message: "Invalid payment session."}}, nil
	}

	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(token)}
	if c.returnURL != "" {
		params.ReturnURL = stripe.String(c.returnURL)
	}
	params.Context = ctx

	pi, err := c.api.Confirm(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500 {
			return checkout.CardResult{PaymentIntentID: id, Error: declineFrom(se)}, nil
		}
		return checkout.CardResult{}, err
	}

	return resultOf(pi), nil
}

// CardStatus reads the intent behind clientSecret. It is called when the
// outcome of ConfirmCard was lost in transit.
func (c *Confirmer) CardStatus(ctx context.Context, clientSecret string) (checkout.CardResult, error) {
	id := checkout.IntentIDFromSecret(clientSecret)
	if id == "" {
		return checkout.CardResult{Error: &checkout.ProcessorError{Message: "Invalid payment session."}}, nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.Get(id, params)
	if err != nil {
		return checkout.CardResult{}, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	return resultOf(pi), nil
}

func resultOf(pi *stripe.PaymentIntent) checkout.CardResult {
	res := checkout.CardResult{PaymentIntentID: pi.ID, Status: string(pi.Status)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Succeeded = true
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		pe := &checkout.ProcessorError{Message: "Your payment was declined.", Retriable: true}
		if le := pi.LastPaymentError; le != nil {
			pe.Message = le.Msg
			pe.Code = string(le.Code)
			pe.DeclineCode = string(le.DeclineCode)
		}
		res.Error = pe
	case stripe.PaymentIntentStatusRequiresAction:
		res.Error = &checkout.ProcessorError{
			Message:   "Additional authentication is required to complete this payment.",
			Code:      StatusRequiresAction,
			Retriable: true,
		}
	default:
		log.Printf("[processor] intent=%s status=%s", pi.ID, pi.Status)
	}
	return res
}

func declineFrom(se *stripe.Error) *checkout.ProcessorError {
	pe := &checkout.ProcessorError{
		Message:     se.Msg,
		Code:        string(se.Code),
		DeclineCode: string(se.DeclineCode),
	}
	if pi := se.PaymentIntent; pi != nil && pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
		pe.Retriable = true
	}
	return pe
}
