package cart

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrEmptyCart is returned when a snapshot normalizes to zero items.
var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// Variant is the purchasable configuration selected for a line item.
type Variant struct {
	VariantID   string
	VariantKey  string
	Combination map[string]string
	Price       decimal.Decimal
	Quantity    int // available stock last seen by the cart, 0 when unknown
}

// OrderItem is the canonical line item sent to the backend.
type OrderItem struct {
	ProductID       string
	ProductName     string
	SellerID        string
	Quantity        int
	UnitPrice       decimal.Decimal
	SelectedVariant *Variant
}

// LineTotal returns UnitPrice * Quantity.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Key identifies an item by product and variant.
func (it OrderItem) Key() string {
	if it.SelectedVariant == nil {
		return it.ProductID
	}
	id := it.SelectedVariant.VariantID
	if id == "" {
		id = it.SelectedVariant.VariantKey
	}
	if id == "" {
		return it.ProductID
	}
	return it.ProductID + "#" + id
}

// Snapshot is a normalized cart.
type Snapshot struct {
	Items    []OrderItem
	SellerID string
}

// Subtotal sums the line totals.
func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range s.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// TotalQuantity sums item quantities.
func (s Snapshot) TotalQuantity() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}
