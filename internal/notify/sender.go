package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
)

// EventOrderConfirmation is the event_type attribute of confirmation
// messages.
const EventOrderConfirmation = "order.confirmation"

// Message asks the mail service to deliver a rendered confirmation.
type Message struct {
	Type     string `json:"type"`
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Publisher puts a message on a queue. *aws.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, event any, attributes map[string]string) (string, error)
}

// Sender renders confirmations and queues them for delivery. Without a
// publisher the rendered text is logged.
type Sender struct {
	pub Publisher
	loc *time.Location
}

func NewSender(pub Publisher, loc *time.Location) *Sender {
	return &Sender{pub: pub, loc: loc}
}

// Send renders the confirmation of o and queues it.
func (s *Sender) Send(ctx context.Context, o orders.Order, d Details) (Message, error) {
	if d.Location == nil {
		d.Location = s.loc
	}
	c := Build(o, d)
	body, err := c.Text()
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:     EventOrderConfirmation,
		OrderID:  o.OrderID,
		BuyerID:  o.UserID,
		SellerID: o.SellerID,
		Subject:  c.Subject(),
		Body:     body,
	}
	if s.pub == nil {
		log.Printf("[notify] confirmation order=%s buyer=%s subject=%q\n%s", o.OrderID, o.UserID, msg.Subject, body)
		return msg, nil
	}
	id, err := s.pub.Publish(ctx, msg, map[string]string{
		"event_type": EventOrderConfirmation,
		"order_id":   o.OrderID,
	})
	if err != nil {
		return Message{}, fmt.Errorf("queue confirmation %s: %w", o.OrderID, err)
	}
	log.Printf("[notify] confirmation queued order=%s message_id=%s", o.OrderID, id)
	return msg, nil
}
