package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize converts raw cart entries into canonical order items.
//
// Entries that resolve to the same product/variant are merged and keep the
// position of their first occurrence. A malformed selected_variant is logged
// and dropped so the item falls back to base product pricing.
func Normalize(entries []json.RawMessage) (Snapshot, error) {
	var snap Snapshot
	index := map[string]int{}

	for i, raw := range entries {
		var e rawEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Printf("[cart] skipping entry %d: %v", i, err)
			continue
		}
		item, ok := normalizeEntry(e)
		if !ok {
			log.Printf("[cart] skipping entry %d: missing product_id", i)
			continue
		}
		if len(snap.Items) == 0 {
			snap.SellerID = item.SellerID
		}
		key := item.Key()
		if pos, seen := index[key]; seen {
			snap.Items[pos].Quantity += item.Quantity
			continue
		}
		index[key] = len(snap.Items)
		snap.Items = append(snap.Items, item)
	}

	if len(snap.Items) == 0 {
		return Snapshot{}, ErrEmptyCart
	}
	return snap, nil
}

func normalizeEntry(e rawEntry) (OrderItem, bool) {
	var item OrderItem
	p := e.Product
	if p == nil {
		p = &rawProduct{}
	}

	item.ProductID = firstString(string(p.ProductID), string(e.ProductID))
	if item.ProductID == "" {
		return OrderItem{}, false
	}
	item.ProductName = firstString(p.ProductName, e.ProductName)

	sellerID := firstString(string(p.SellerID), string(e.SellerID))
	if sellerID == "" && p.Seller != nil {
		sellerID = string(p.Seller.SellerID)
	}
	item.SellerID = sellerID

	item.Quantity = 1
	for _, q := range []flexInt{e.Quantity, e.SelectedQuantity} {
		if q > 0 {
			item.Quantity = int(q)
			break
		}
	}

	item.SelectedVariant = parseVariant(e.SelectedVariant)

	item.UnitPrice = decimal.Zero
	candidates := []decimal.Decimal{p.ProductPrice.Decimal, e.ProductPrice.Decimal, e.Price.Decimal}
	if item.SelectedVariant != nil {
		candidates = append([]decimal.Decimal{item.SelectedVariant.Price}, candidates...)
	}
	for _, c := range candidates {
		if c.IsPositive() {
			item.UnitPrice = c
			break
		}
	}
	return item, true
}

func parseVariant(raw json.RawMessage) *Variant {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Printf("[cart] ignoring selected_variant: %v", err)
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "null" {
			return nil
		}
		raw = []byte(s)
	}

	var rv rawVariant
	if err := json.Unmarshal(raw, &rv); err != nil {
		log.Printf("[cart] ignoring malformed selected_variant: %v", err)
		return nil
	}
	return &Variant{
		VariantID:   string(rv.VariantID),
		VariantKey:  rv.VariantKey,
		Combination: parseCombination(rv.Combination),
		Price:       rv.Price.Decimal,
		Quantity:    int(rv.Quantity),
	}
}

// parseCombination reads {"color":"red"} either inline or as a JSON string.
func parseCombination(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		raw = []byte(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Printf("[cart] ignoring variant combination: %v", err)
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
