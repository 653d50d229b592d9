package checkout

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
)

const msgIntentFailed = "Failed to create payment intent."

// IntentRequest describes the charge for one checkout session.
type IntentRequest struct {
	Items              []cart.OrderItem
	Totals             Totals
	Currency           string
	PaymentMethodTypes []string
	PaymentMethod      string
	BuyerID            string
	SellerID           string
	StockValidationID  string
}

// Intent is a processor payment intent bound to a marketplace order id.
type Intent struct {
	PaymentIntentID string
	ClientSecret    string
	OrderID         string
	Amount          int64
}

// IntentCoordinator creates payment intents and confirms them with the
// processor.
type IntentCoordinator struct {
	creator IntentCreator
	card    CardConfirmer
}

func NewIntentCoordinator(creator IntentCreator, card CardConfirmer) *IntentCoordinator {
	return &IntentCoordinator{creator: creator, card: card}
}

// CreateIntent asks the backend for an intent covering req.Totals.Total.
func (c *IntentCoordinator) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount := money.MinorUnits(req.Totals.Total)
	resp, err := c.creator.CreatePaymentIntent(ctx, contract.IntentRequest{
		Amount:             amount,
		Currency:           req.Currency,
		PaymentMethodTypes: req.PaymentMethodTypes,
		UserID:             req.BuyerID,
		SellerID:           req.SellerID,
		OrderItems:         contract.ItemsFromCart(req.Items),
		Subtotal:           req.Totals.Subtotal,
		Shipping:           req.Totals.Shipping,
		PaymentMethod:      req.PaymentMethod,
		StockValidationID:  req.StockValidationID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Intent{}, err
		}
		log.Printf("[checkout] create intent failed amount=%d err=%v", amount, err)
		return Intent{}, newError(ErrIntentCreation, PhaseCreatingIntent, msgIntentFailed, err)
	}
	if resp.Error != "" {
		return Intent{}, newError(ErrIntentCreation, PhaseCreatingIntent, resp.Error, nil)
	}
	if resp.ClientSecret == "" || resp.OrderID == "" {
		log.Printf("[checkout] intent response incomplete has_secret=%t order_id=%q", resp.ClientSecret != "", resp.OrderID)
		return Intent{}, newError(ErrIntentCreation, PhaseCreatingIntent, msgIntentFailed, nil)
	}

	id := resp.ID
	if id == "" {
		id = IntentIDFromSecret(resp.ClientSecret)
	}
	return Intent{
		PaymentIntentID: id,
		ClientSecret:    resp.ClientSecret,
		OrderID:         resp.OrderID,
		Amount:          amount,
	}, nil
}

const (
	statusProcessing = "processing"
	statusCanceled   = "canceled"

	msgPaymentUnconfirmed = "We could not confirm whether your payment went through. Please wait before trying again."
)

// ConfirmCard submits the buyer's payment details to the processor. It is
// never retried automatically. When the processor cannot be reached the
// charge may still have happened, so the error is ErrPaymentUnconfirmed
// rather than a decline.
func (c *IntentCoordinator) ConfirmCard(ctx context.Context, intent Intent, token string) (string, error) {
	res, err := c.card.ConfirmCard(ctx, intent.ClientSecret, token)
	if err != nil {
		log.Printf("[checkout] card confirmation unreachable intent=%s err=%v", intent.PaymentIntentID, err)
		return "", unconfirmed(err)
	}
	return cardOutcome(intent, res)
}

// Recheck asks the processor what happened to an intent whose confirmation
// outcome was lost. It returns the intent id when the payment succeeded, an
// ErrProcessorDeclined error when nothing was charged, and
// ErrPaymentUnconfirmed while the outcome is still unknown.
func (c *IntentCoordinator) Recheck(ctx context.Context, intent Intent) (string, error) {
	res, err := c.card.CardStatus(ctx, intent.ClientSecret)
	if err != nil {
		log.Printf("[checkout] card status unreachable intent=%s err=%v", intent.PaymentIntentID, err)
		return "", unconfirmed(err)
	}
	log.Printf("[checkout] card status intent=%s status=%s", intent.PaymentIntentID, res.Status)
	if res.Status == statusProcessing {
		return "", unconfirmed(nil)
	}
	if !res.Succeeded && res.Error == nil {
		e := newError(ErrProcessorDeclined, PhaseAwaitingCardConfirmation, "Payment could not be completed. Please try again.", nil)
		e.Code = res.Status
		e.Retriable = res.Status != statusCanceled
		return "", e
	}
	return cardOutcome(intent, res)
}

func unconfirmed(cause error) *Error {
	e := newError(ErrPaymentUnconfirmed, PhaseAwaitingCardConfirmation, msgPaymentUnconfirmed, cause)
	e.Retriable = true
	return e
}

func cardOutcome(intent Intent, res CardResult) (string, error) {
	if res.Error != nil {
		msg := res.Error.Message
		if msg == "" {
			msg = "Your payment was declined."
		}
		e := newError(ErrProcessorDeclined, PhaseAwaitingCardConfirmation, msg, nil)
		e.Retriable = res.Error.Retriable
		e.Code = res.Error.DeclineCode
		if e.Code == "" {
			e.Code = res.Error.Code
		}
		return "", e
	}
	if !res.Succeeded {
		log.Printf("[checkout] card confirmation not succeeded intent=%s status=%s", intent.PaymentIntentID, res.Status)
		if res.Status == statusProcessing {
			return "", unconfirmed(nil)
		}
		e := newError(ErrProcessorDeclined, PhaseAwaitingCardConfirmation, "Payment was not completed.", nil)
		e.Code = res.Status
		return "", e
	}

	id := res.PaymentIntentID
	if id == "" {
		id = intent.PaymentIntentID
	}
	return id, nil
}

// Totals are the amounts shown to the buyer and charged.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Quote computes subtotal + shipping + subtotal * taxRate, rounded to the
// cent with the same rule used for the charged amount.
func Quote(items []cart.OrderItem, shipping, taxRate decimal.Decimal) Totals {
	subtotal := cart.Snapshot{Items: items}.Subtotal()
	tax := money.Round(subtotal.Mul(taxRate))
	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    money.Round(subtotal.Add(shipping).Add(tax)),
	}
}

// AmountMinor is the charged amount in minor units.
func (t Totals) AmountMinor() int64 {
	return money.MinorUnits(t.Total)
}
