package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend configures the reference checkout API and the order worker.
type Backend struct {
	IdempotencyTable string
	OrdersTable      string
	InventoryTable   string
	QueueURL         string
	// NotifyQueueURL receives rendered order confirmations. Empty means
	// they are only logged.
	NotifyQueueURL string
	// NotifyLocation is the time zone of dates in confirmations.
	NotifyLocation *time.Location

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StripeSecretKey string
	Currency        string

	TTLWindow     time.Duration
	ValidationTTL time.Duration
	MinimumAmount int64

	CORSOrigins      []string
	RateLimit        float64
	RateBurst        int
	MetricsNamespace string
}

// LoadBackend reads the backend settings from the environment.
func LoadBackend() (Backend, error) {
	b := Backend{
		IdempotencyTable: getenv("IDEMPOTENCY_TABLE", ""),
		OrdersTable:      getenv("ORDERS_TABLE", ""),
		InventoryTable:   getenv("INVENTORY_TABLE", ""),
		QueueURL:         getenv("ORDERS_QUEUE_URL", ""),
		NotifyQueueURL:   getenv("NOTIFY_QUEUE_URL", ""),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		StripeSecretKey:  getenv("STRIPE_SECRET", ""),
		Currency:         getenv("CHECKOUT_CURRENCY", "myr"),
		CORSOrigins:      listEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "ReloveMarket/Checkout"),
		MinimumAmount:    50,
	}
	var err error
	if b.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return b, err
	}
	if b.TTLWindow, err = durationEnv("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		return b, err
	}
	if b.ValidationTTL, err = durationEnv("STOCK_VALIDATION_TTL", 5*time.Minute); err != nil {
		return b, err
	}
	if b.RateLimit, err = floatEnv("PAYMENT_RATE_LIMIT", 5); err != nil {
		return b, err
	}
	if b.RateBurst, err = intEnv("PAYMENT_RATE_BURST", 10); err != nil {
		return b, err
	}
	tz := getenv("NOTIFY_TIMEZONE", "UTC")
	if b.NotifyLocation, err = time.LoadLocation(tz); err != nil {
		return b, fmt.Errorf("invalid NOTIFY_TIMEZONE %q: %w", tz, err)
	}
	if b.OrdersTable == "" || b.IdempotencyTable == "" || b.InventoryTable == "" {
		return b, errors.New("ORDERS_TABLE, IDEMPOTENCY_TABLE and INVENTORY_TABLE are required")
	}
	return b, nil
}
