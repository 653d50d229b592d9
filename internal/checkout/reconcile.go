package checkout

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
)

const (
	msgConfirmationPending = "Payment captured, confirmation pending."
	msgContactSupport      = "Your payment was received but the order could not be confirmed. Please contact support with your order reference."
)

// OrderSummary is the confirmed order shown on the receipt.
type OrderSummary struct {
	OrderID         string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	CreatedAt       time.Time
}

// Display formats the order amount for the receipt.
func (o OrderSummary) Display() string {
	return money.Display(o.Currency, o.Amount)
}

// PaymentResult is the outcome of a checkout session.
type PaymentResult struct {
	Success bool
	Order   *OrderSummary
	Err     *Error
	Phase   Phase
}

// ReconcileRequest identifies a captured payment to record as an order.
type ReconcileRequest struct {
	PaymentIntentID string
	OrderID         string
	BuyerID         string
	SellerID        string
	Items           []cart.OrderItem
	Totals          Totals
	Currency        string
	PaymentMethod   string
}

// IdempotencyKey is the key the backend deduplicates confirmations on.
func (r ReconcileRequest) IdempotencyKey() string {
	return r.PaymentIntentID + ":" + r.OrderID
}

// Reconciler records a captured payment with the backend. The backend's
// answer is authoritative; a lost answer is never reported as success.
type Reconciler struct {
	confirmer OrderConfirmer
}

func NewReconciler(confirmer OrderConfirmer) *Reconciler {
	return &Reconciler{confirmer: confirmer}
}

// Reconcile sends the confirmation and returns the resulting phase:
// Succeeded, ReconciliationPending or ReconciliationRejected.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) PaymentResult {
	resp, err := r.confirmer.ConfirmPayment(ctx, req.IdempotencyKey(), contract.ConfirmRequest{
		PaymentIntentID: req.PaymentIntentID,
		OrderID:         req.OrderID,
		UserID:          req.BuyerID,
		SellerID:        req.SellerID,
		Amount:          req.Totals.AmountMinor(),
		Currency:        req.Currency,
		OrderItems:      contract.ItemsFromCart(req.Items),
		Subtotal:        req.Totals.Subtotal,
		Shipping:        req.Totals.Shipping,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		log.Printf("[checkout] confirmation pending order_id=%s intent=%s err=%v", req.OrderID, req.PaymentIntentID, err)
		e := newError(ErrReconciliationTransport, PhaseReconciliationPending, msgConfirmationPending, err)
		e.Charged = true
		return PaymentResult{Err: e, Phase: PhaseReconciliationPending}
	}
	if !resp.Success {
		log.Printf("[checkout] confirmation rejected order_id=%s intent=%s reason=%q", req.OrderID, req.PaymentIntentID, resp.Error)
		reason := resp.Error
		if reason == "" {
			reason = resp.Message
		}
		msg := msgContactSupport
		if reason != "" {
			msg = strings.TrimRight(reason, ". ") + ". " + msgContactSupport
		}
		e := newError(ErrReconciliationRejected, PhaseReconciliationRejected, msg,
			fmt.Errorf("backend: %s", reason))
		e.Charged = true
		return PaymentResult{Err: e, Phase: PhaseReconciliationRejected}
	}

	summary := &OrderSummary{
		OrderID:         req.OrderID,
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Totals.Total,
		Currency:        req.Currency,
		Status:          "paid",
	}
	if o := resp.Order; o != nil {
		if o.OrderID != "" {
			summary.OrderID = o.OrderID
		}
		if !o.Amount.IsZero() {
			summary.Amount = o.Amount
		}
		if o.OrderStatus != "" {
			summary.Status = o.OrderStatus
		}
		summary.CreatedAt = o.CreatedAt
	}
	return PaymentResult{Success: true, Order: summary, Phase: PhaseSucceeded}
}
