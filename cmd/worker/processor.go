package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/idempotency"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
)

// errBusy means another invocation holds the notification key.
var errBusy = errors.New("notification in progress")

// Processor handles order-paid messages and notifies each seller once.
type Processor struct {
	idempStore *idempotency.Store
	orderStore *orders.Store
	notifier   Notifier
	metrics    *aws.Metrics
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.Clients, cfg config.Backend, notifier Notifier) *Processor {
	if notifier == nil {
		notifier = newConfirmationNotifier(clients, cfg)
	}
	return &Processor{
		idempStore: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.TTLWindow),
		orderStore: orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		notifier:   notifier,
		metrics:    aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace),
	}
}

// Handle processes an SQS batch. Failed messages are reported back so only
// they are redelivered and eventually moved to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			log.Printf("[worker] message=%s error: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg orders.PaidEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return errors.New("invalid message body: missing order_id")
	}

	log.Printf("[worker] received order=%s idempotency_key=%s seller=%s",
		msg.OrderID, msg.IdempotencyKey, msg.SellerID)

	// Step 1: claim the notification key for this order
	key := idempotency.NotificationKey(msg.OrderID)
	proceed, err := p.claim(ctx, key, msg.OrderID)
	if err != nil || !proceed {
		return err
	}

	// Step 2: read the current order
	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return p.fail(ctx, key, msg.OrderID, fmt.Errorf("failed to fetch order: %w", err))
	}
	if order == nil {
		return p.fail(ctx, key, msg.OrderID, fmt.Errorf("order not found: %s", msg.OrderID))
	}
	if order.OrderStatus != orders.StatusPending {
		return p.settle(ctx, key, order)
	}

	// Step 3: notify the seller
	if err := p.notifier.NotifySeller(ctx, msg, *order); err != nil {
		if ierr := p.orderStore.IncrementAttempts(ctx, msg.OrderID); ierr != nil {
			log.Printf("[worker] increment attempts order=%s: %v", msg.OrderID, ierr)
		}
		_ = p.metrics.Count(ctx, "SellerNotificationFailures", 1, nil)
		return p.fail(ctx, key, msg.OrderID, fmt.Errorf("notify seller: %w", err))
	}

	// Step 4: pending -> seller_notified
	err = p.orderStore.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusSellerNotified)
	if errors.Is(err, orders.ErrStatusMismatch) {
		o2, gerr := p.orderStore.Get(ctx, msg.OrderID)
		if gerr != nil || o2 == nil {
			return p.fail(ctx, key, msg.OrderID, fmt.Errorf("re-read order after status mismatch: %v", gerr))
		}
		return p.settle(ctx, key, o2)
	}
	if err != nil {
		return p.fail(ctx, key, msg.OrderID, fmt.Errorf("failed to update status to seller_notified: %w", err))
	}

	// Step 5: mark the notification done
	response := fmt.Sprintf(`{"order_id":"%s","status":"%s"}`, msg.OrderID, orders.StatusSellerNotified)
	if err := p.idempStore.MarkDone(ctx, key, response, 200); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	_ = p.metrics.Count(ctx, "SellerNotifications", 1, nil)

	log.Printf("[worker] seller notified order=%s", msg.OrderID)
	return nil
}

// claim takes the notification key. It returns false when the seller was
// already notified, and errBusy while another invocation holds the key.
func (p *Processor) claim(ctx context.Context, key, orderID string) (bool, error) {
	created, err := p.idempStore.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if created {
		return true, nil
	}

	rec, err := p.idempStore.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if rec == nil {
		// expired between the put and the read; let the redelivery claim it
		return false, fmt.Errorf("%w: %s", errBusy, key)
	}
	switch rec.Status {
	case idempotency.StatusDone:
		log.Printf("[worker] duplicate event for order=%s", orderID)
		return false, nil
	case idempotency.StatusFailed:
		err := p.idempStore.Reclaim(ctx, key)
		if errors.Is(err, idempotency.ErrConditionFailed) {
			return false, fmt.Errorf("%w: %s", errBusy, key)
		}
		if err != nil {
			return false, err
		}
		log.Printf("[worker] retrying notification for order=%s", orderID)
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", errBusy, key)
	}
}

// settle resolves a message for an order that is no longer pending.
func (p *Processor) settle(ctx context.Context, key string, o *orders.Order) error {
	switch o.OrderStatus {
	case orders.StatusSellerNotified:
		log.Printf("[worker] already notified order=%s", o.OrderID)
		return p.idempStore.MarkDone(ctx, key, fmt.Sprintf(`{"order_id":"%s","status":"%s"}`, o.OrderID, o.OrderStatus), 200)
	case orders.StatusOnHold, orders.StatusIncomplete:
		// nothing to deliver; support handles held and unpaid orders
		log.Printf("[worker] skipping order=%s status=%s", o.OrderID, o.OrderStatus)
		return p.idempStore.MarkDone(ctx, key, fmt.Sprintf(`{"order_id":"%s","status":"%s"}`, o.OrderID, o.OrderStatus), 200)
	default:
		return p.fail(ctx, key, o.OrderID, fmt.Errorf("unexpected status for order=%s: %s", o.OrderID, o.OrderStatus))
	}
}

func (p *Processor) fail(ctx context.Context, key, orderID string, cause error) error {
	if err := p.idempStore.MarkFailed(ctx, key, cause.Error()); err != nil {
		log.Printf("[worker] mark failed order=%s: %v", orderID, err)
	}
	return cause
}
