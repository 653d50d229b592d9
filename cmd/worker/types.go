package main

import (
	"context"
	"log"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/inventory"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/notify"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
)

// Notifier tells a seller about a paid order.
type Notifier interface {
	NotifySeller(ctx context.Context, ev orders.PaidEvent, order orders.Order) error
}

// confirmationNotifier sends the buyer's order confirmation, which also
// names the seller, through the notifications queue.
type confirmationNotifier struct {
	sender *notify.Sender
	stock  *inventory.Store
}

func newConfirmationNotifier(clients *aws.Clients, cfg config.Backend) *confirmationNotifier {
	var pub notify.Publisher
	if cfg.NotifyQueueURL != "" {
		pub = aws.NewPublisher(clients.SQS, cfg.NotifyQueueURL)
	}
	n := &confirmationNotifier{sender: notify.NewSender(pub, cfg.NotifyLocation)}
	if cfg.InventoryTable != "" {
		n.stock = inventory.NewStore(clients.DynamoDB, cfg.InventoryTable)
	}
	return n
}

func (n *confirmationNotifier) NotifySeller(ctx context.Context, ev orders.PaidEvent, order orders.Order) error {
	log.Printf("[worker] notify seller=%s order=%s items=%d amount=%d %s",
		ev.SellerID, order.OrderID, ev.ItemCount, order.AmountMinor, order.Currency)
	_, err := n.sender.Send(ctx, order, notify.Details{ProductNames: n.productNames(ctx, order)})
	return err
}

// productNames looks up display names; a missing name falls back to a
// generic label, so lookup errors are only logged.
func (n *confirmationNotifier) productNames(ctx context.Context, order orders.Order) map[string]string {
	names := map[string]string{}
	if n.stock == nil {
		return names
	}
	for _, it := range order.Items {
		if _, ok := names[it.ProductID]; ok {
			continue
		}
		st, err := n.stock.Get(ctx, it.ProductID)
		if err != nil {
			log.Printf("[worker] product name lookup failed product=%s err=%v", it.ProductID, err)
			continue
		}
		if st != nil {
			names[it.ProductID] = st.ProductName
		}
	}
	return names
}
