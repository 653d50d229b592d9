// Package notify builds the order confirmation a buyer receives once a
// payment has been recorded.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/orders"
)

// DateLayout is how order dates are shown, e.g. "May 1, 2026 4:05 PM".
const DateLayout = "January 2, 2006 3:04 PM"

// Line is one purchased item as shown to the buyer.
type Line struct {
	ProductName string
	Variant     string
	Quantity    int
	UnitPrice   string
	TotalPrice  string
}

// Confirmation is the content of an order confirmation.
type Confirmation struct {
	OrderID       string
	OrderDate     string
	BuyerName     string
	SellerName    string
	StoreName     string
	PaymentMethod string
	PaymentStatus string
	OrderStatus   string
	Currency      string
	Items         []Line
	Subtotal      string
	Shipping      string
	Total         string
}

// Details fills in what the order record does not carry. Empty names fall
// back to generic labels.
type Details struct {
	BuyerName    string
	SellerName   string
	StoreName    string
	ProductNames map[string]string
	Location     *time.Location
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Build assembles the confirmation of o.
func Build(o orders.Order, d Details) Confirmation {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	c := Confirmation{
		OrderID:       o.OrderID,
		OrderDate:     o.CreatedAt.In(loc).Format(DateLayout),
		BuyerName:     orDefault(d.BuyerName, orDefault(o.UserID, "Customer")),
		SellerName:    orDefault(d.SellerName, "Seller"),
		StoreName:     orDefault(d.StoreName, "Store"),
		PaymentMethod: FormatPaymentMethod(o.PaymentMethod),
		PaymentStatus: capitalize(o.PaymentStatus),
		OrderStatus:   o.OrderStatus,
		Currency:      strings.ToUpper(o.Currency),
		Subtotal:      money.Display(o.Currency, money.FromMinor(o.SubtotalMinor)),
		Shipping:      money.Display(o.Currency, money.FromMinor(o.ShippingMinor)),
		Total:         money.Display(o.Currency, money.FromMinor(o.AmountMinor)),
	}
	for _, it := range o.Items {
		c.Items = append(c.Items, Line{
			ProductName: orDefault(d.ProductNames[it.ProductID], "Product"),
			Variant:     FormatVariant(it.Options),
			Quantity:    it.Quantity,
			UnitPrice:   money.Display(o.Currency, money.FromMinor(it.PriceMinor)),
			TotalPrice:  money.Display(o.Currency, money.FromMinor(it.PriceMinor*int64(it.Quantity))),
		})
	}
	return c
}

var paymentMethods = map[string]string{
	"card":          "Credit/Debit Card",
	"cod":           "Cash on Delivery",
	"paypal":        "PayPal",
	"bank_transfer": "Bank Transfer",
}

// FormatPaymentMethod names a payment method for buyers. Unknown methods
// are shown with an upper-case first letter.
func FormatPaymentMethod(method string) string {
	if name, ok := paymentMethods[method]; ok {
		return name
	}
	return capitalize(method)
}

// FormatVariant renders a variant combination as "Color: Red, Size: M".
// Keys are sorted.
func FormatVariant(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, capitalize(k)+": "+options[k])
	}
	return strings.Join(parts, ", ")
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

var textTemplate = template.Must(template.New("confirmation").Parse(`🎉 Order Confirmed!
Thank you for your purchase!

Hello, {{.BuyerName}}!
Your order has been successfully placed and is being processed.

Order Details
  Order ID:       {{.OrderID}}
  Order Date:     {{.OrderDate}}
  Payment Method: {{.PaymentMethod}}
  Payment Status: {{.PaymentStatus}}
  Seller:         {{.SellerName}}
  Store:          {{.StoreName}}

Order Items
{{range .Items}}  {{.ProductName}}{{if .Variant}} ({{.Variant}}){{end}}
    Qty: {{.Quantity}} x {{.UnitPrice}}    {{.TotalPrice}}
{{end}}
Subtotal:     {{.Subtotal}}
Shipping Fee: {{.Shipping}}
Total Amount: {{.Total}}

What's Next?
  You will receive updates about your order status.
  The seller will prepare your items for shipping.
  You can track your order from your account dashboard.

If you have any questions, please contact our support team.
Thank you for shopping with us!
`))

// Subject is the mail subject of the confirmation.
func (c Confirmation) Subject() string {
	return "Order Confirmation - " + c.OrderID
}

// Text renders the plain-text body.
func (c Confirmation) Text() (string, error) {
	var b strings.Builder
	if err := textTemplate.Execute(&b, c); err != nil {
		return "", fmt.Errorf("render confirmation %s: %w", c.OrderID, err)
	}
	return b.String(), nil
}
