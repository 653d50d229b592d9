package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

const msgStockFailed = "Stock validation failed."

// StockValidator checks the cart against the backend inventory. It never
// reserves stock; the confirmation step decrements it authoritatively.
type StockValidator struct {
	checker StockChecker
}

func NewStockValidator(checker StockChecker) *StockValidator {
	return &StockValidator{checker: checker}
}

// Validate returns the validation id issued by the backend.
func (v *StockValidator) Validate(ctx context.Context, items []cart.OrderItem) (string, error) {
	if err := precheck(items); err != nil {
		return "", err
	}

	resp, err := v.checker.ValidateStock(ctx, contract.StockValidationRequest{
		OrderItems: contract.ItemsFromCart(items),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		log.Printf("[checkout] stock validation unavailable items=%d err=%v", len(items), err)
		return "", newError(ErrValidationUnavailable, PhaseValidating,
			"Unable to check stock right now. Please try again.", err)
	}
	if !resp.Valid {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = msgStockFailed
		}
		return "", newError(ErrValidationRejected, PhaseValidating, msg, nil)
	}
	return resp.ValidationID, nil
}

// precheck rejects quantities above the variant stock the cart last saw.
func precheck(items []cart.OrderItem) error {
	for _, it := range items {
		v := it.SelectedVariant
		if v == nil || v.Quantity <= 0 {
			continue
		}
		if it.Quantity > v.Quantity {
			return newError(ErrValidationRejected, PhaseValidating,
				fmt.Sprintf("Not enough stock for selected variant. Available: %d, Requested: %d", v.Quantity, it.Quantity), nil)
		}
	}
	return nil
}
