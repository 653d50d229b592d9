// Package contract holds the JSON shapes of the checkout endpoints.
package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
)

// Variant is the selected_variant object of an order item.
type Variant struct {
	VariantID   string            `json:"variant_id,omitempty"`
	VariantKey  string            `json:"variant_key,omitempty"`
	Combination map[string]string `json:"combination,omitempty"`
	Price       decimal.Decimal   `json:"price"`
	Quantity    int               `json:"quantity,omitempty"`
}

// OrderItem is one entry of order_items.
type OrderItem struct {
	ProductID       string          `json:"product_id" validate:"required"`
	Quantity        int             `json:"quantity" validate:"required,min=1"`
	Price           decimal.Decimal `json:"price"`
	SelectedVariant *Variant        `json:"selected_variant,omitempty"`
}

// VariantID returns the selected variant id, or "" for base products.
func (it OrderItem) VariantID() string {
	if it.SelectedVariant == nil {
		return ""
	}
	return it.SelectedVariant.VariantID
}

// StockValidationRequest is the body of POST /validate-stock.
type StockValidationRequest struct {
	OrderItems []OrderItem `json:"order_items" validate:"required,min=1,dive"`
}

// StockResult is the per-item outcome of a stock check.
type StockResult struct {
	ProductID         string `json:"product_id"`
	VariantID         string `json:"variant_id,omitempty"`
	Valid             bool   `json:"valid"`
	AvailableQuantity int    `json:"available_quantity,omitempty"`
	Error             string `json:"error,omitempty"`
}

// StockValidationResponse is returned by POST /validate-stock.
type StockValidationResponse struct {
	Valid        bool          `json:"valid"`
	Message      string        `json:"message,omitempty"`
	ValidationID string        `json:"validation_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	Results      []StockResult `json:"results,omitempty"`
	Details      []StockResult `json:"details,omitempty"`
}

// IntentRequest is the body of POST /create-payment-intent. Amount is in
// minor units.
type IntentRequest struct {
	Amount             int64           `json:"amount" validate:"required,min=1"`
	Currency           string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentMethodTypes []string        `json:"payment_method_types,omitempty"`
	UserID             string          `json:"user_id" validate:"required"`
	SellerID           string          `json:"seller_id" validate:"required"`
	OrderItems         []OrderItem     `json:"order_items" validate:"required,min=1,dive"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Shipping           decimal.Decimal `json:"shipping"`
	PaymentMethod      string          `json:"payment_method" validate:"required"`
	StockValidationID  string          `json:"stock_validation_id,omitempty"`
}

// IntentResponse is returned by POST /create-payment-intent.
type IntentResponse struct {
	ClientSecret       string   `json:"clientSecret,omitempty"`
	ID                 string   `json:"id,omitempty"`
	OrderID            string   `json:"orderId,omitempty"`
	PaymentMethodTypes []string `json:"paymentMethodTypes,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// ConfirmRequest is the body of POST /confirm-payment.
type ConfirmRequest struct {
	PaymentIntentID string          `json:"payment_intent_id" validate:"required"`
	OrderID         string          `json:"order_id" validate:"required"`
	UserID          string          `json:"user_id" validate:"required"`
	SellerID        string          `json:"seller_id" validate:"required"`
	Amount          int64           `json:"amount" validate:"min=0"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	OrderItems      []OrderItem     `json:"order_items" validate:"required,min=1,dive"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	PaymentMethod   string          `json:"payment_method" validate:"required"`
	Notes           string          `json:"notes,omitempty"`
}

// Order is the order summary echoed back after confirmation.
type Order struct {
	OrderID         string          `json:"order_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentStatus   string          `json:"payment_status"`
	OrderStatus     string          `json:"order_status"`
	UserID          string          `json:"user_id"`
	SellerID        string          `json:"seller_id"`
	PaymentMethod   string          `json:"payment_method"`
	OrderItems      []OrderItem     `json:"order_items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ConfirmResponse is returned by POST /confirm-payment.
type ConfirmResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Order   *Order `json:"order,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OrderPage is one page of GET /orders, newest first.
type OrderPage struct {
	Data        []Order `json:"data"`
	CurrentPage int     `json:"current_page"`
	PerPage     int     `json:"per_page"`
	Total       int     `json:"total"`
	LastPage    int     `json:"last_page"`
}

// OrderListResponse is returned by GET /orders.
type OrderListResponse struct {
	Success bool       `json:"success"`
	Orders  *OrderPage `json:"orders,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ItemsFromCart maps normalized cart items to the wire shape.
func ItemsFromCart(items []cart.OrderItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		w := OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice,
		}
		if v := it.SelectedVariant; v != nil {
			w.SelectedVariant = &Variant{
				VariantID:   v.VariantID,
				VariantKey:  v.VariantKey,
				Combination: v.Combination,
				Price:       v.Price,
				Quantity:    v.Quantity,
			}
		}
		out = append(out, w)
	}
	return out
}
