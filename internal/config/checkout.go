package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Checkout configures the checkout orchestrator and its backend client.
type Checkout struct {
	APIBaseURL  string
	StockPath   string
	IntentPath  string
	ConfirmPath string

	Currency           string
	PaymentMethodTypes []string
	ShippingFee        decimal.Decimal
	TaxRate            decimal.Decimal

	CSRFToken string
	AuthToken string

	RequestTimeout     time.Duration
	CardConfirmTimeout time.Duration
	ReconcileTimeout   time.Duration

	// BreakerFailures is the number of consecutive transport failures that
	// opens the circuit for an endpoint.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	ProcessorSecretKey string
}

// DefaultCheckout returns the marketplace defaults: MYR, card payments and a
// flat RM 5.00 shipping fee.
func DefaultCheckout() Checkout {
	return Checkout{
		APIBaseURL:         "http://localhost:8080",
		StockPath:          "/validate-stock",
		IntentPath:         "/create-payment-intent",
		ConfirmPath:        "/confirm-payment",
		Currency:           "myr",
		PaymentMethodTypes: []string{"card"},
		ShippingFee:        decimal.NewFromInt(5),
		TaxRate:            decimal.Zero,
		RequestTimeout:     15 * time.Second,
		CardConfirmTimeout: 60 * time.Second,
		ReconcileTimeout:   30 * time.Second,
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
	}
}

// LoadCheckout reads CHECKOUT_* variables over the defaults.
func LoadCheckout() (Checkout, error) {
	c := DefaultCheckout()
	var err error

	c.APIBaseURL = getenv("CHECKOUT_API_BASE_URL", c.APIBaseURL)
	c.StockPath = getenv("CHECKOUT_STOCK_PATH", c.StockPath)
	c.IntentPath = getenv("CHECKOUT_INTENT_PATH", c.IntentPath)
	c.ConfirmPath = getenv("CHECKOUT_CONFIRM_PATH", c.ConfirmPath)
	c.Currency = getenv("CHECKOUT_CURRENCY", c.Currency)
	c.PaymentMethodTypes = listEnv("CHECKOUT_PAYMENT_METHOD_TYPES", c.PaymentMethodTypes)
	c.CSRFToken = getenv("CHECKOUT_CSRF_TOKEN", "")
	c.AuthToken = getenv("CHECKOUT_AUTH_TOKEN", "")
	c.ProcessorSecretKey = getenv("STRIPE_SECRET", "")

	if c.ShippingFee, err = decimalEnv("CHECKOUT_SHIPPING_FEE", c.ShippingFee); err != nil {
		return c, err
	}
	if c.TaxRate, err = decimalEnv("CHECKOUT_PLATFORM_TAX", c.TaxRate); err != nil {
		return c, err
	}
	if c.RequestTimeout, err = durationEnv("CHECKOUT_REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return c, err
	}
	if c.CardConfirmTimeout, err = durationEnv("CHECKOUT_CARD_TIMEOUT", c.CardConfirmTimeout); err != nil {
		return c, err
	}
	if c.ReconcileTimeout, err = durationEnv("CHECKOUT_RECONCILE_TIMEOUT", c.ReconcileTimeout); err != nil {
		return c, err
	}
	if c.BreakerCooldown, err = durationEnv("CHECKOUT_BREAKER_COOLDOWN", c.BreakerCooldown); err != nil {
		return c, err
	}
	failures, err := intEnv("CHECKOUT_BREAKER_FAILURES", int(c.BreakerFailures))
	if err != nil {
		return c, err
	}
	c.BreakerFailures = uint32(failures)

	return c, c.Validate()
}

// Validate checks the fields the orchestrator cannot work without.
func (c Checkout) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API base URL %q", c.APIBaseURL)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("invalid currency %q", c.Currency)
	}
	if c.ShippingFee.IsNegative() || c.TaxRate.IsNegative() {
		return errors.New("shipping fee and tax rate must not be negative")
	}
	// every network call must be bounded
	if c.RequestTimeout <= 0 || c.CardConfirmTimeout <= 0 || c.ReconcileTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
