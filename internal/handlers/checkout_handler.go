package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/idempotency"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/inventory"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/processor"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/stockcache"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/validation"
)

// PaymentGateway creates and looks up payment intents at the processor.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, in processor.CreateIntentInput) (processor.Intent, error)
	GetIntent(ctx context.Context, id string) (processor.Intent, error)
}

// HandlerConfig groups dependencies for the checkout handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI
	Redis            *redis.Client
	Gateway          PaymentGateway
	Backend          config.Backend
}

type checkoutHandler struct {
	cfg        config.Backend
	v          *validatorv10.Validate
	idemp      *idempotency.Store
	orders     *orders.Store
	inventory  *inventory.Store
	validated  *stockcache.Cache
	gateway    PaymentGateway
	publisher  *aws.Publisher
	metrics    *aws.Metrics
	newOrderID func(time.Time) string
	nowFunc    func() time.Time
}

func newCheckoutHandler(cfg HandlerConfig) *checkoutHandler {
	b := cfg.Backend
	return &checkoutHandler{
		cfg:        b,
		v:          validation.New(),
		idemp:      idempotency.NewStore(cfg.DynamoDBClient, b.IdempotencyTable, b.TTLWindow),
		orders:     orders.NewStore(cfg.DynamoDBClient, b.OrdersTable),
		inventory:  inventory.NewStore(cfg.DynamoDBClient, b.InventoryTable),
		validated:  stockcache.New(cfg.Redis, b.ValidationTTL),
		gateway:    cfg.Gateway,
		publisher:  aws.NewPublisher(cfg.SQSClient, b.QueueURL),
		metrics:    aws.NewMetrics(cfg.CloudWatchClient, b.MetricsNamespace),
		newOrderID: newOrderID,
		nowFunc:    time.Now,
	}
}

// RegisterCheckoutRoutes registers the stock, payment and order routes.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := newCheckoutHandler(cfg)
	h.register(r,
		newRateLimiter(cfg.Backend.RateLimit, cfg.Backend.RateBurst),
		newRateLimiter(cfg.Backend.RateLimit, cfg.Backend.RateBurst))
}

// register wires the routes. Intent creation is limited per client IP;
// confirmations are limited per Idempotency-Key so that a captured payment
// can always be confirmed.
func (h *checkoutHandler) register(r *gin.Engine, intents, confirms *rateLimiter) {
	r.POST("/validate-stock", h.validateStock)
	r.POST("/create-payment-intent", intents.middleware(byClientIP), h.createPaymentIntent)
	r.POST("/confirm-payment", confirms.middleware(byIdempotencyKey), h.confirmPayment)
	r.GET("/order/:orderId", h.getOrder)
	r.GET("/orders", h.listOrders)
}

// newOrderID returns ORD-<yyyymmdd>-<13 uppercase hex characters>.
func newOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:13]
	return "ORD-" + now.Format("20060102") + "-" + suffix
}

func (h *checkoutHandler) validateStock(c *gin.Context) {
	ctx := c.Request.Context()

	var req contract.StockValidationRequest
	if err := validation.BindAndValidate(c, &req, h.v, validation.InvalidStock); err != nil {
		return
	}

	results, ok, err := h.inventory.Check(ctx, req.OrderItems)
	if err != nil {
		log.Printf("[api] validate-stock failed: items=%d err=%v", len(req.OrderItems), err)
		c.JSON(http.StatusInternalServerError, contract.StockValidationResponse{
			Error: "Unable to validate stock for item. Please try again.",
		})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, contract.StockValidationResponse{
			Error:   "Some items are out of stock",
			Details: results,
		})
		return
	}

	id := uuid.NewString()
	if err := h.validated.Put(ctx, id, results); err != nil {
		log.Printf("[api] cache stock validation failed: validation_id=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, contract.StockValidationResponse{
			Error: "Unable to validate stock for item. Please try again.",
		})
		return
	}
	c.JSON(http.StatusOK, contract.StockValidationResponse{
		Valid:        true,
		Message:      "Stock validation successful",
		ValidationID: id,
		Results:      results,
	})
}

func (h *checkoutHandler) createPaymentIntent(c *gin.Context) {
	ctx := c.Request.Context()

	var req contract.IntentRequest
	if err := validation.BindAndValidate(c, &req, h.v, validation.ErrorOnly); err != nil {
		return
	}

	// a validation id is optional, but one that was sent must still be cached
	if req.StockValidationID != "" {
		found, err := h.validated.Exists(ctx, req.StockValidationID)
		if err != nil {
			log.Printf("[api] stock validation lookup failed: validation_id=%s err=%v", req.StockValidationID, err)
			c.JSON(http.StatusInternalServerError, contract.IntentResponse{Error: "Internal server error"})
			return
		}
		if !found {
			c.JSON(http.StatusBadRequest, contract.IntentResponse{Error: "Stock validation expired. Please validate your cart again."})
			return
		}
	}

	if req.Amount < h.cfg.MinimumAmount {
		c.JSON(http.StatusBadRequest, contract.IntentResponse{Error: "Amount too small"})
		return
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = h.cfg.Currency
	}
	methodTypes := req.PaymentMethodTypes
	if len(methodTypes) == 0 {
		methodTypes = []string{"card"}
	}

	orderID := h.newOrderID(h.nowFunc())
	intent, err := h.gateway.CreateIntent(ctx, processor.CreateIntentInput{
		Amount:             req.Amount,
		Currency:           currency,
		PaymentMethodTypes: methodTypes,
		Metadata: map[string]string{
			"order_id":            orderID,
			"user_id":             req.UserID,
			"seller_id":           req.SellerID,
			"subtotal":            req.Subtotal.StringFixed(2),
			"shipping":            req.Shipping.StringFixed(2),
			"payment_method":      req.PaymentMethod,
			"order_items_count":   strconv.Itoa(len(req.OrderItems)),
			"stock_validation_id": req.StockValidationID,
		},
		IdempotencyKey: "intent:" + orderID,
	})
	if err != nil {
		log.Printf("[api] create intent failed: order_id=%s amount=%d err=%v", orderID, req.Amount, err)
		c.JSON(http.StatusInternalServerError, contract.IntentResponse{Error: "Payment service error: " + err.Error()})
		return
	}

	log.Printf("[api] payment intent created: order_id=%s intent=%s amount=%d", orderID, intent.ID, req.Amount)
	c.JSON(http.StatusOK, contract.IntentResponse{
		ClientSecret:       intent.ClientSecret,
		ID:                 intent.ID,
		OrderID:            orderID,
		PaymentMethodTypes: methodTypes,
	})
}

func (h *checkoutHandler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		log.Printf("[api] get order failed: order_id=%s err=%v", c.Param("orderId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, o.Contract())
}

const dateLayout = "2006-01-02"

// parseBound reads an RFC 3339 timestamp or a plain date. A plain end date
// covers the whole day.
func parseBound(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *checkoutHandler) listOrders(c *gin.Context) {
	f := orders.ListFilter{
		Status:   c.Query("status"),
		UserID:   c.Query("user_id"),
		SellerID: c.Query("seller_id"),
	}
	var err error
	if f.From, err = parseBound(c.Query("start_date"), false); err != nil {
		c.JSON(http.StatusBadRequest, contract.OrderListResponse{Error: "Invalid start_date"})
		return
	}
	if f.To, err = parseBound(c.Query("end_date"), true); err != nil {
		c.JSON(http.StatusBadRequest, contract.OrderListResponse{Error: "Invalid end_date"})
		return
	}
	if v := c.Query("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil || f.Page < 1 {
			c.JSON(http.StatusBadRequest, contract.OrderListResponse{Error: "Invalid page"})
			return
		}
	}
	if v := c.Query("per_page"); v != "" {
		if f.PerPage, err = strconv.Atoi(v); err != nil || f.PerPage < 1 {
			c.JSON(http.StatusBadRequest, contract.OrderListResponse{Error: "Invalid per_page"})
			return
		}
	}

	page, err := h.orders.List(c.Request.Context(), f)
	if err != nil {
		log.Printf("[api] list orders failed: status=%q user_id=%q seller_id=%q err=%v", f.Status, f.UserID, f.SellerID, err)
		c.JSON(http.StatusInternalServerError, contract.OrderListResponse{Error: "Failed to retrieve orders"})
		return
	}
	data := make([]contract.Order, 0, len(page.Orders))
	for _, o := range page.Orders {
		data = append(data, o.Contract())
	}
	c.JSON(http.StatusOK, contract.OrderListResponse{
		Success: true,
		Orders: &contract.OrderPage{
			Data:        data,
			CurrentPage: page.Page,
			PerPage:     page.PerPage,
			Total:       page.Total,
			LastPage:    page.LastPage,
		},
	})
}

// stockShortfall describes a failed decrement the way buyers see it.
func (h *checkoutHandler) stockShortfall(ctx context.Context, d inventory.Deduction) (int, string) {
	st, err := h.inventory.Get(ctx, d.SKU)
	if err != nil || st == nil {
		productID, _, _ := strings.Cut(d.SKU, "#")
		return http.StatusNotFound, "Product not found: " + productID
	}
	kind := "product"
	if st.VariantID != "" {
		kind = "variant"
	}
	return http.StatusBadRequest, fmt.Sprintf("Insufficient stock for %s. Available: %d, Requested: %d", kind, st.Quantity, d.Quantity)
}

var errIntentMismatch = errors.New("payment intent does not match the order")

// checkIntent verifies the intent was created for this order and amount.
func checkIntent(intent processor.Intent, req contract.ConfirmRequest) error {
	if id := intent.Metadata["order_id"]; id != "" && id != req.OrderID {
		return errIntentMismatch
	}
	if intent.Amount != req.Amount {
		return errIntentMismatch
	}
	if intent.Currency != "" && !strings.EqualFold(intent.Currency, req.Currency) {
		return errIntentMismatch
	}
	return nil
}
