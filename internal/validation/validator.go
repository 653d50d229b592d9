package validation

import (
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
)

// New returns a validator that reports JSON field names and checks the
// money fields of intent and confirmation requests in minor units.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(intentStructValidation, contract.IntentRequest{})
	v.RegisterStructValidation(confirmStructValidation, contract.ConfirmRequest{})
	return v
}

func intentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(contract.IntentRequest)
	checkMoney(sl, req.Amount, req.OrderItems, req.Subtotal, req.Shipping)
}

func confirmStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(contract.ConfirmRequest)
	checkMoney(sl, req.Amount, req.OrderItems, req.Subtotal, req.Shipping)
}

// checkMoney verifies subtotal equals the sum of price × quantity and that
// amount covers subtotal plus shipping. Tax may make amount larger.
func checkMoney(sl validatorv10.StructLevel, amount int64, items []contract.OrderItem, subtotal, shipping decimal.Decimal) {
	if subtotal.IsNegative() {
		sl.ReportError(subtotal, "subtotal", "Subtotal", tagNonNegative, "")
		return
	}
	if shipping.IsNegative() {
		sl.ReportError(shipping, "shipping", "Shipping", tagNonNegative, "")
		return
	}

	sum := decimal.Zero
	for _, it := range items {
		if it.Price.IsNegative() {
			sl.ReportError(items, "order_items", "OrderItems", tagPriceMin, it.ProductID)
			return
		}
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if len(items) == 0 {
		return
	}

	if money.MinorUnits(sum) != money.MinorUnits(subtotal) {
		sl.ReportError(subtotal, "subtotal", "Subtotal", tagSubtotalItems,
			fmt.Sprintf("items sum %s != subtotal %s", sum.StringFixed(2), subtotal.StringFixed(2)))
		return
	}
	if due := money.MinorUnits(subtotal.Add(shipping)); amount < due {
		sl.ReportError(amount, "amount", "Amount", tagAmountCovers, fmt.Sprintf("%d < %d", amount, due))
	}
}
