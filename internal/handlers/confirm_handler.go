package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/idempotency"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/inventory"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/processor"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/validation"
)

func failure(msg string) contract.ConfirmResponse {
	return contract.ConfirmResponse{Success: false, Error: msg}
}

func (h *checkoutHandler) confirmPayment(c *gin.Context) {
	ctx := c.Request.Context()

	var req contract.ConfirmRequest
	if err := validation.BindAndValidate(c, &req, h.v, validation.Unsuccessful); err != nil {
		return
	}

	// the checkout sends pi:order; other clients may pick their own key
	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		idempKey = idempotency.PaymentKey(req.PaymentIntentID, req.OrderID)
	}
	hash := requestHash(req)

	existing, err := h.orders.Get(ctx, req.OrderID)
	if err != nil {
		log.Printf("[api] confirm lookup failed: order_id=%s err=%v", req.OrderID, err)
		c.JSON(http.StatusInternalServerError, failure("Internal server error"))
		return
	}
	if existing != nil && existing.PaymentStatus == orders.PaymentPaid {
		h.replayPaid(c, existing, req, idempKey)
		return
	}

	intent, err := h.gateway.GetIntent(ctx, req.PaymentIntentID)
	if err != nil {
		if processor.IsNotFound(err) {
			c.JSON(http.StatusBadRequest, failure("Payment intent not found"))
			return
		}
		log.Printf("[api] retrieve intent failed: intent=%s err=%v", req.PaymentIntentID, err)
		c.JSON(http.StatusBadGateway, failure("Payment service error: "+err.Error()))
		return
	}
	if err := checkIntent(intent, req); err != nil {
		log.Printf("[api] intent mismatch: intent=%s order_id=%s amount=%d intent_amount=%d", intent.ID, req.OrderID, req.Amount, intent.Amount)
		c.JSON(http.StatusBadRequest, failure("Payment does not match this order"))
		return
	}

	if intent.Status != processor.StatusSucceeded {
		h.recordUnpaid(c, req, intent.Status)
		return
	}

	order := orders.FromConfirmation(req, orders.PaymentPaid, orders.StatusPending)
	idempPut, err := h.idemp.TransactPut(h.idemp.NewRecord(idempKey, req.OrderID, req.PaymentIntentID, hash))
	if err != nil {
		c.JSON(http.StatusInternalServerError, failure("Internal server error"))
		return
	}
	deductions := inventory.Deductions(req.OrderItems)
	updates := make([]types.TransactWriteItem, 0, len(deductions))
	for _, d := range deductions {
		updates = append(updates, h.inventory.TransactDecrement(d))
	}

	err = h.orders.CreatePaid(ctx, idempPut, order, updates)
	var conflict *orders.StockConflictError
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrAlreadyConfirmed):
		h.resolveDuplicate(c, req, idempKey, hash)
		return
	case errors.As(err, &conflict):
		h.holdOrder(c, req, deductions[conflict.Index])
		return
	default:
		log.Printf("[api] create paid order failed: order_id=%s err=%v", req.OrderID, err)
		c.JSON(http.StatusInternalServerError, failure("Internal server error"))
		return
	}

	// order is stored with its idempotency record; enqueue the seller notification
	if err := h.publishPaid(ctx, order, idempKey); err != nil {
		// mark idempotency failed so the next confirmation re-publishes
		_ = h.idemp.MarkFailed(ctx, idempKey, fmt.Sprintf("sqs_send_failed: %v", err))
		c.JSON(http.StatusInternalServerError, failure("enqueue_failed"))
		return
	}

	h.recordMetrics(ctx, order)
	stored, _ := h.orders.Get(ctx, order.OrderID)
	if stored != nil {
		order = *stored
	}
	view := order.Contract()
	resp := contract.ConfirmResponse{Success: true, Message: "Order created successfully", Order: &view}
	h.markDone(ctx, idempKey, resp)

	log.Printf("[api] order paid: order_id=%s intent=%s amount=%d", order.OrderID, order.PaymentIntentID, order.AmountMinor)
	c.JSON(http.StatusOK, resp)
}

// replayPaid answers a confirmation for an order that is already paid. A
// previous attempt whose notification failed is published again.
func (h *checkoutHandler) replayPaid(c *gin.Context, existing *orders.Order, req contract.ConfirmRequest, idempKey string) {
	ctx := c.Request.Context()
	if existing.PaymentIntentID != req.PaymentIntentID {
		c.JSON(http.StatusBadRequest, failure("Order already paid with a different payment"))
		return
	}
	if existing.OrderStatus == orders.StatusOnHold {
		c.JSON(http.StatusBadRequest, failure(existing.Notes))
		return
	}

	rec, err := h.idemp.Get(ctx, idempKey)
	if err != nil {
		log.Printf("[api] idempotency lookup failed: key=%s err=%v", idempKey, err)
	}
	if rec != nil && rec.Status == idempotency.StatusFailed {
		if err := h.publishPaid(ctx, *existing, idempKey); err != nil {
			_ = h.idemp.MarkFailed(ctx, idempKey, fmt.Sprintf("sqs_send_failed: %v", err))
			c.JSON(http.StatusInternalServerError, failure("enqueue_failed"))
			return
		}
		h.recordMetrics(ctx, *existing)
	}

	view := existing.Contract()
	resp := contract.ConfirmResponse{Success: true, Message: "Order already exists", Order: &view}
	if rec != nil && rec.Status != idempotency.StatusDone {
		h.markDone(ctx, idempKey, resp)
	}
	c.JSON(http.StatusOK, resp)
}

// resolveDuplicate handles a transaction rejected because the key or a paid
// order already exists.
func (h *checkoutHandler) resolveDuplicate(c *gin.Context, req contract.ConfirmRequest, idempKey, hash string) {
	ctx := c.Request.Context()
	existing, err := h.orders.Get(ctx, req.OrderID)
	if err == nil && existing != nil && existing.PaymentStatus == orders.PaymentPaid {
		h.replayPaid(c, existing, req, idempKey)
		return
	}

	rec, err := h.idemp.Get(ctx, idempKey)
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, failure("idempotency_check_failed"))
	case rec == nil:
		// the record expired between the transaction and this read
		c.JSON(http.StatusConflict, failure("transaction_failed_no_idempotency_record"))
	case rec.RequestHash != "" && rec.RequestHash != hash:
		c.JSON(http.StatusUnprocessableEntity, failure("Idempotency-Key was used for a different request"))
	case rec.Status == idempotency.StatusInProgress:
		c.JSON(http.StatusConflict, failure("request already in progress"))
	default:
		c.JSON(http.StatusConflict, failure("previous_attempt_failed"))
	}
}

// recordUnpaid stores an incomplete order for a payment that did not
// succeed and reports the processor status.
func (h *checkoutHandler) recordUnpaid(c *gin.Context, req contract.ConfirmRequest, status string) {
	ctx := c.Request.Context()
	if status == "" {
		status = "unknown"
	}
	order := orders.FromConfirmation(req, orders.PaymentFailed, orders.StatusIncomplete)
	order.Notes = "Payment failed: " + status
	if err := h.orders.PutUnpaid(ctx, order); err != nil && !errors.Is(err, orders.ErrAlreadyConfirmed) {
		log.Printf("[api] record unpaid order failed: order_id=%s err=%v", req.OrderID, err)
	}
	_ = h.metrics.Count(ctx, "PaymentsNotSucceeded", 1, map[string]string{"status": status})

	c.JSON(http.StatusBadRequest, contract.ConfirmResponse{
		Success: false,
		Message: "Payment not successful. Status: " + status,
		OrderID: req.OrderID,
	})
}

// holdOrder keeps a record of a captured payment whose stock ran out
// between validation and confirmation.
func (h *checkoutHandler) holdOrder(c *gin.Context, req contract.ConfirmRequest, d inventory.Deduction) {
	ctx := c.Request.Context()
	status, msg := h.stockShortfall(ctx, d)

	order := orders.FromConfirmation(req, orders.PaymentPaid, orders.StatusOnHold)
	order.Notes = msg
	if err := h.orders.PutUnpaid(ctx, order); err != nil {
		log.Printf("[api] hold order failed: order_id=%s err=%v", req.OrderID, err)
	}
	_ = h.metrics.Count(ctx, "OrdersOnHold", 1, map[string]string{"reason": "stock"})

	log.Printf("[api] order on hold: order_id=%s sku=%s requested=%d", req.OrderID, d.SKU, d.Quantity)
	c.JSON(status, failure(msg))
}

func (h *checkoutHandler) publishPaid(ctx context.Context, o orders.Order, idempKey string) error {
	attrs := map[string]string{
		"event_type":      orders.EventOrderPaid,
		"idempotency_key": idempKey,
		"order_id":        o.OrderID,
	}
	_, err := h.publisher.Publish(ctx, orders.PaidEventOf(o, idempKey), attrs)
	return err
}

func (h *checkoutHandler) recordMetrics(ctx context.Context, o orders.Order) {
	if err := h.metrics.Count(ctx, "OrdersPaid", 1, map[string]string{"payment_method": o.PaymentMethod}); err != nil {
		log.Printf("[api] metric failed: %v", err)
		return
	}
	_ = h.metrics.Amount(ctx, "RevenueMinor", o.AmountMinor, map[string]string{"currency": o.Currency})
}

func (h *checkoutHandler) markDone(ctx context.Context, idempKey string, resp contract.ConfirmResponse) {
	body, _ := json.Marshal(resp)
	if err := h.idemp.MarkDone(ctx, idempKey, string(body), http.StatusOK); err != nil && !errors.Is(err, idempotency.ErrConditionFailed) {
		log.Printf("[api] mark done failed: key=%s err=%v", idempKey, err)
	}
}

func requestHash(req contract.ConfirmRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
