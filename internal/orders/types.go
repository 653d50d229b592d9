package orders

import (
	"time"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
)

// Payment statuses
const (
	PaymentPaid   = "paid"
	PaymentFailed = "failed"
)

// Order statuses
const (
	StatusPending        = "pending"         // paid, seller not yet notified
	StatusSellerNotified = "seller_notified" // worker delivered the order to the seller
	StatusIncomplete     = "incomplete"      // payment did not succeed
	StatusOnHold         = "on_hold"         // paid but stock could not be reserved
)

// Item is one purchased line. Prices are in minor units.
type Item struct {
	ProductID  string            `dynamodbav:"product_id"`
	VariantID  string            `dynamodbav:"variant_id,omitempty"`
	VariantKey string            `dynamodbav:"variant_key,omitempty"`
	Options    map[string]string `dynamodbav:"options,omitempty"`
	Quantity   int               `dynamodbav:"quantity"`
	PriceMinor int64             `dynamodbav:"price"`
}

// Order represents the item stored in the Orders DynamoDB table. Money is
// stored in minor units.
type Order struct {
	OrderID         string    `dynamodbav:"order_id"` // PK
	PaymentIntentID string    `dynamodbav:"payment_intent_id"`
	UserID          string    `dynamodbav:"user_id"`
	SellerID        string    `dynamodbav:"seller_id"`
	AmountMinor     int64     `dynamodbav:"amount"`
	SubtotalMinor   int64     `dynamodbav:"subtotal"`
	ShippingMinor   int64     `dynamodbav:"shipping"`
	Currency        string    `dynamodbav:"currency"`
	PaymentStatus   string    `dynamodbav:"payment_status"`
	OrderStatus     string    `dynamodbav:"order_status"`
	PaymentMethod   string    `dynamodbav:"payment_method"`
	Items           []Item    `dynamodbav:"items,omitempty"`
	Notes           string    `dynamodbav:"notes,omitempty"`
	CreatedAt       time.Time `dynamodbav:"created_at"`
	UpdatedAt       time.Time `dynamodbav:"updated_at"`
	Attempts        int       `dynamodbav:"attempts,omitempty"`
}

// FromConfirmation builds the order record of a confirmation request.
func FromConfirmation(req contract.ConfirmRequest, paymentStatus, orderStatus string) Order {
	items := make([]Item, 0, len(req.OrderItems))
	for _, it := range req.OrderItems {
		item := Item{
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			PriceMinor: money.MinorUnits(it.Price),
		}
		if v := it.SelectedVariant; v != nil {
			item.VariantID = v.VariantID
			item.VariantKey = v.VariantKey
			item.Options = v.Combination
		}
		items = append(items, item)
	}
	return Order{
		OrderID:         req.OrderID,
		PaymentIntentID: req.PaymentIntentID,
		UserID:          req.UserID,
		SellerID:        req.SellerID,
		AmountMinor:     req.Amount,
		SubtotalMinor:   money.MinorUnits(req.Subtotal),
		ShippingMinor:   money.MinorUnits(req.Shipping),
		Currency:        req.Currency,
		PaymentStatus:   paymentStatus,
		OrderStatus:     orderStatus,
		PaymentMethod:   req.PaymentMethod,
		Items:           items,
		Notes:           req.Notes,
	}
}

// Contract returns the wire shape of the order.
func (o Order) Contract() contract.Order {
	items := make([]contract.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		w := contract.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     money.FromMinor(it.PriceMinor),
		}
		if it.VariantID != "" || it.VariantKey != "" {
			w.SelectedVariant = &contract.Variant{
				VariantID:   it.VariantID,
				VariantKey:  it.VariantKey,
				Combination: it.Options,
				Price:       w.Price,
			}
		}
		items = append(items, w)
	}
	return contract.Order{
		OrderID:         o.OrderID,
		PaymentIntentID: o.PaymentIntentID,
		Amount:          money.FromMinor(o.AmountMinor),
		Currency:        o.Currency,
		PaymentStatus:   o.PaymentStatus,
		OrderStatus:     o.OrderStatus,
		UserID:          o.UserID,
		SellerID:        o.SellerID,
		PaymentMethod:   o.PaymentMethod,
		OrderItems:      items,
		CreatedAt:       o.CreatedAt,
	}
}

// PaidEvent is published to the orders queue after a payment is recorded.
type PaidEvent struct {
	OrderID         string    `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	SellerID        string    `json:"seller_id"`
	UserID          string    `json:"user_id"`
	AmountMinor     int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ItemCount       int       `json:"item_count"`
	IdempotencyKey  string    `json:"idempotency_key"`
	PaidAt          time.Time `json:"paid_at"`
}

// EventOrderPaid is the event_type message attribute of PaidEvent.
const EventOrderPaid = "order.paid"

// PaidEventOf builds the event for a paid order.
func PaidEventOf(o Order, idempotencyKey string) PaidEvent {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return PaidEvent{
		OrderID:         o.OrderID,
		PaymentIntentID: o.PaymentIntentID,
		SellerID:        o.SellerID,
		UserID:          o.UserID,
		AmountMinor:     o.AmountMinor,
		Currency:        o.Currency,
		ItemCount:       n,
		IdempotencyKey:  idempotencyKey,
		PaidAt:          o.CreatedAt,
	}
}
