package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
// Payment confirmations are keyed "<payment_intent_id>:<order_id>"; seller
// notifications are keyed "order-paid:<order_id>".
type IdempotencyRecord struct {
	IdempotencyKey  string    `dynamodbav:"idempotency_key"` // PK
	Status          string    `dynamodbav:"status"`
	OrderID         string    `dynamodbav:"order_id,omitempty"`
	PaymentIntentID string    `dynamodbav:"payment_intent_id,omitempty"`
	RequestHash     string    `dynamodbav:"request_hash,omitempty"`
	ResponseBody    string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus  int       `dynamodbav:"response_status,omitempty"`
	CreatedAt       time.Time `dynamodbav:"created_at"`
	UpdatedAt       time.Time `dynamodbav:"updated_at"`
	ExpiresAt       int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note            string    `dynamodbav:"note,omitempty"`
}

// PaymentKey is the key of a payment confirmation.
func PaymentKey(paymentIntentID, orderID string) string {
	return paymentIntentID + ":" + orderID
}

// NotificationKey is the key of the seller notification for an order.
func NotificationKey(orderID string) string {
	return "order-paid:" + orderID
}
