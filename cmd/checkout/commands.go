package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/backend"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/checkout"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/processor"
)

var (
	newCardConfirmer = func(cfg config.Checkout, returnURL string) checkout.CardConfirmer {
		return processor.NewConfirmer(processor.NewStripeAPI(cfg.ProcessorSecretKey), returnURL)
	}
	// retryDelay is the first backoff step of pay; later steps grow linearly.
	retryDelay = 2 * time.Second
)

func readCart(c *cli.Context) ([]json.RawMessage, error) {
	path := c.String("cart")
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(c.App.Reader)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cart must be a JSON array: %w", err)
	}
	return entries, nil
}

func shippingOverride(c *cli.Context) (*decimal.Decimal, error) {
	s := c.String("shipping")
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("invalid shipping fee %q", s)
	}
	return &d, nil
}

type quoteReport struct {
	Items       []quoteLine `json:"items"`
	Subtotal    string      `json:"subtotal"`
	Shipping    string      `json:"shipping"`
	Tax         string      `json:"tax"`
	Total       string      `json:"total"`
	AmountMinor int64       `json:"amount_minor"`
	Currency    string      `json:"currency"`
}

type quoteLine struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

// quoteCommand prices a cart without contacting the backend.
func quoteCommand(c *cli.Context) error {
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	raw, err := readCart(c)
	if err != nil {
		return err
	}
	shipping, err := shippingOverride(c)
	if err != nil {
		return err
	}

	snap, totals, err := checkout.New(cfg, nil, nil).Quote(raw, shipping)
	if errors.Is(err, cart.ErrEmptyCart) {
		return cli.Exit("No items to checkout.", 2)
	}
	if err != nil {
		return err
	}

	report := quoteReport{
		Subtotal:    money.Round(totals.Subtotal).StringFixed(2),
		Shipping:    money.Round(totals.Shipping).StringFixed(2),
		Tax:         money.Round(totals.Tax).StringFixed(2),
		Total:       money.Round(totals.Total).StringFixed(2),
		AmountMinor: totals.AmountMinor(),
		Currency:    cfg.Currency,
	}
	for _, it := range snap.Items {
		line := quoteLine{ProductID: it.ProductID, Quantity: it.Quantity, LineTotal: money.Round(it.LineTotal()).StringFixed(2)}
		if it.SelectedVariant != nil {
			line.Variant = it.Key()
		}
		report.Items = append(report.Items, line)
	}

	w := c.App.Writer
	if c.Bool("json") {
		return json.NewEncoder(w).Encode(report)
	}
	for _, it := range snap.Items {
		fmt.Fprintf(w, "%-24s x%-3d %s\n", it.Key(), it.Quantity, money.Display(cfg.Currency, it.LineTotal()))
	}
	fmt.Fprintf(w, "Subtotal: %s\n", money.Display(cfg.Currency, totals.Subtotal))
	fmt.Fprintf(w, "Shipping: %s\n", money.Display(cfg.Currency, totals.Shipping))
	if totals.Tax.IsPositive() {
		fmt.Fprintf(w, "Tax:      %s\n", money.Display(cfg.Currency, totals.Tax))
	}
	fmt.Fprintf(w, "Total:    %s (%d minor units)\n", money.Display(cfg.Currency, totals.Total), report.AmountMinor)
	return nil
}

func validateCommand(c *cli.Context) error {
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	raw, err := readCart(c)
	if err != nil {
		return err
	}
	snap, err := cart.Normalize(raw)
	if err != nil {
		return cli.Exit("No items to checkout.", 2)
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.RequestTimeout)
	defer cancel()
	id, err := checkout.NewStockValidator(backend.New(cfg)).Validate(ctx, snap.Items)
	if err != nil {
		return exitFor(err)
	}
	fmt.Fprintf(c.App.Writer, "stock ok: validation_id=%s items=%d\n", id, len(snap.Items))
	return nil
}

func payCommand(c *cli.Context) error {
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ProcessorSecretKey == "" {
		return cli.Exit("STRIPE_SECRET is required to confirm payments", 2)
	}
	raw, err := readCart(c)
	if err != nil {
		return err
	}
	shipping, err := shippingOverride(c)
	if err != nil {
		return err
	}

	w := c.App.Writer
	confirmer := newCardConfirmer(cfg, c.String("return-url"))
	o := checkout.New(cfg, backend.New(cfg), confirmer, checkout.WithObserver(func(id string, from, to checkout.Phase) {
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "[%s] %s -> %s\n", id, from, to)
	}))

	token := c.String("token")
	res, err := o.Submit(c.Context, checkout.Request{
		Cart:               raw,
		BuyerID:            c.String("buyer"),
		PaymentMethod:      checkout.PaymentMethod(c.String("method")),
		WalletType:         c.String("wallet-type"),
		PaymentMethodToken: token,
		Shipping:           shipping,
	})
	for i := 0; i < c.Int("reconcile-attempts") && res != nil && res.Err != nil; i++ {
		pending := res.Phase == checkout.PhaseReconciliationPending
		unknown := errors.Is(res.Err, checkout.ErrPaymentUnconfirmed)
		if !pending && !unknown {
			break
		}
		time.Sleep(time.Duration(i+1) * retryDelay)
		if pending {
			res, err = o.RetryReconciliation(c.Context)
		} else {
			// the same intent is checked first, so a captured payment is not charged twice
			res, err = o.RetryCard(c.Context, token)
		}
	}
	if res != nil && res.Phase == checkout.PhaseReconciliationPending {
		st := o.Session().State()
		fmt.Fprintf(w, "payment captured but not confirmed; run: checkout reconcile --cart %s --intent %s --order %s --buyer %s\n",
			c.String("cart"), st.PaymentIntentID, st.OrderID, st.BuyerID)
	}
	if res != nil && res.Err != nil && errors.Is(res.Err, checkout.ErrPaymentUnconfirmed) {
		st := o.Session().State()
		fmt.Fprintf(w, "payment outcome unknown; check intent %s for order %s before paying again\n", st.PaymentIntentID, st.OrderID)
	}
	return printResult(c, res, err)
}

func reconcileCommand(c *cli.Context) error {
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	raw, err := readCart(c)
	if err != nil {
		return err
	}
	shipping, err := shippingOverride(c)
	if err != nil {
		return err
	}
	snap, totals, err := checkout.New(cfg, nil, nil).Quote(raw, shipping)
	if err != nil {
		return cli.Exit("No items to checkout.", 2)
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.ReconcileTimeout)
	defer cancel()
	res := checkout.NewReconciler(backend.New(cfg)).Reconcile(ctx, checkout.ReconcileRequest{
		PaymentIntentID: c.String("intent"),
		OrderID:         c.String("order"),
		BuyerID:         c.String("buyer"),
		SellerID:        snap.SellerID,
		Items:           snap.Items,
		Totals:          totals,
		Currency:        cfg.Currency,
		PaymentMethod:   c.String("method"),
	})
	var resErr error
	if res.Err != nil {
		resErr = res.Err
	}
	return printResult(c, &res, resErr)
}

func orderCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: checkout order <order-id>", 2)
	}
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.Context, cfg.RequestTimeout)
	defer cancel()

	o, err := backend.New(cfg).GetOrder(ctx, c.Args().First())
	if errors.Is(err, backend.ErrOrderNotFound) {
		return cli.Exit("Order not found", 1)
	}
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return json.NewEncoder(c.App.Writer).Encode(o)
	}
	fmt.Fprintf(c.App.Writer, "%s  %s  %s  payment=%s status=%s items=%d\n",
		o.OrderID, o.CreatedAt.Format(time.RFC3339), money.Display(o.Currency, o.Amount), o.PaymentStatus, o.OrderStatus, len(o.OrderItems))
	return nil
}

func ordersCommand(c *cli.Context) error {
	cfg, err := config.LoadCheckout()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.Context, cfg.RequestTimeout)
	defer cancel()

	page, err := backend.New(cfg).ListOrders(ctx, backend.OrderQuery{
		Status:    c.String("status"),
		UserID:    c.String("user"),
		SellerID:  c.String("seller"),
		StartDate: c.String("from"),
		EndDate:   c.String("to"),
		Page:      c.Int("page"),
	})
	if err != nil {
		return err
	}
	w := c.App.Writer
	if c.Bool("json") {
		return json.NewEncoder(w).Encode(page)
	}
	for _, o := range page.Data {
		fmt.Fprintf(w, "%s  %s  %s  payment=%s status=%s seller=%s\n",
			o.OrderID, o.CreatedAt.Format(time.RFC3339), money.Display(o.Currency, o.Amount), o.PaymentStatus, o.OrderStatus, o.SellerID)
	}
	fmt.Fprintf(w, "page %d of %d (%d orders)\n", page.CurrentPage, page.LastPage, page.Total)
	return nil
}

func printResult(c *cli.Context, res *checkout.PaymentResult, err error) error {
	w := c.App.Writer
	if res == nil {
		return err
	}
	if c.Bool("json") {
		out := map[string]any{"success": res.Success, "phase": res.Phase}
		if res.Order != nil {
			out["order"] = res.Order
		}
		if res.Err != nil {
			out["error"] = res.Err.Message
			out["action"] = res.Err.Action()
		}
		if encErr := json.NewEncoder(w).Encode(out); encErr != nil {
			return encErr
		}
	} else if res.Success {
		fmt.Fprintf(w, "paid: order=%s amount=%s status=%s\n", res.Order.OrderID, res.Order.Display(), res.Order.Status)
	}
	if err != nil {
		return exitFor(err)
	}
	return nil
}

// exitFor turns a checkout error into a message and exit code: 1 for a
// failure the buyer can act on, 3 when money was taken and support or a
// later reconciliation is needed.
func exitFor(err error) error {
	var ce *checkout.Error
	if !errors.As(err, &ce) {
		return err
	}
	code := 1
	if ce.Charged {
		code = 3
	}
	return cli.Exit(fmt.Sprintf("%s (%s, next: %s)", ce.Message, ce.Phase, ce.Action()), code)
}
