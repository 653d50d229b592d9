package cart

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// rawEntry covers both cart shapes: entries with a nested product object and
// flattened entries carrying product fields at the top level.
type rawEntry struct {
	Product          *rawProduct     `json:"product"`
	ProductID        flexString      `json:"product_id"`
	ProductName      string          `json:"product_name"`
	ProductPrice     flexDecimal     `json:"product_price"`
	Price            flexDecimal     `json:"price"`
	SellerID         flexString      `json:"seller_id"`
	Quantity         flexInt         `json:"quantity"`
	SelectedQuantity flexInt         `json:"selected_quantity"`
	SelectedVariant  json.RawMessage `json:"selected_variant"`
}

type rawProduct struct {
	ProductID    flexString  `json:"product_id"`
	ProductName  string      `json:"product_name"`
	ProductPrice flexDecimal `json:"product_price"`
	SellerID     flexString  `json:"seller_id"`
	Seller       *struct {
		SellerID flexString `json:"seller_id"`
	} `json:"seller"`
}

type rawVariant struct {
	VariantID   flexString      `json:"variant_id"`
	VariantKey  string          `json:"variant_key"`
	Combination json.RawMessage `json:"combination"`
	Price       flexDecimal     `json:"price"`
	Quantity    flexInt         `json:"quantity"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		*f = ""
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexInt accepts a JSON number or numeric string; anything else reads as 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		*f = flexInt(d.IntPart())
		return nil
	}
	*f = 0
	return nil
}

// flexDecimal accepts a JSON number or numeric string; anything else reads as 0.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		f.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f.Decimal = decimal.Zero
		return nil
	}
	f.Decimal = d
	return nil
}
