package cart

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(t *testing.T, raw ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		require.True(t, json.Valid([]byte(r)), r)
		out = append(out, json.RawMessage(r))
	}
	return out
}

func TestNormalize_NestedAndFlatShapes(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product":{"product_id":"P1","product_name":"Denim jacket","product_price":"45.00","seller_id":"S1"},"selected_quantity":2}`,
		`{"product_id":"P2","product_name":"Scarf","product_price":12.5,"seller_id":"S1","quantity":3}`,
	))
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	assert.Equal(t, "S1", snap.SellerID)
	assert.Equal(t, "P1", snap.Items[0].ProductID)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.True(t, snap.Items[0].UnitPrice.Equal(decimal.RequireFromString("45")))
	assert.Equal(t, "P2", snap.Items[1].ProductID)
	assert.Equal(t, 3, snap.Items[1].Quantity)
	assert.True(t, snap.Subtotal().Equal(decimal.RequireFromString("127.5")))
}

func TestNormalize_QuantityFallbacks(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product_id":"A","quantity":4,"selected_quantity":9}`,
		`{"product_id":"B","selected_quantity":"2"}`,
		`{"product_id":"C"}`,
		`{"product_id":"D","quantity":0}`,
	))
	require.NoError(t, err)

	got := map[string]int{}
	for _, it := range snap.Items {
		got[it.ProductID] = it.Quantity
	}
	assert.Equal(t, map[string]int{"A": 4, "B": 2, "C": 1, "D": 1}, got)
}

func TestNormalize_VariantPriceWins(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product":{"product_id":"P1","product_price":30},"selected_variant":{"variant_id":"V1","price":"35.90","quantity":5,"combination":{"size":"M"}}}`,
	))
	require.NoError(t, err)

	it := snap.Items[0]
	require.NotNil(t, it.SelectedVariant)
	assert.Equal(t, "V1", it.SelectedVariant.VariantID)
	assert.Equal(t, 5, it.SelectedVariant.Quantity)
	assert.Equal(t, map[string]string{"size": "M"}, it.SelectedVariant.Combination)
	assert.True(t, it.UnitPrice.Equal(decimal.RequireFromString("35.90")))
}

func TestNormalize_SerializedVariant(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product_id":"P1","product_price":10,"selected_variant":"{\"variant_id\":7,\"price\":12,\"combination\":\"{\\\"color\\\":\\\"red\\\"}\"}"}`,
	))
	require.NoError(t, err)

	v := snap.Items[0].SelectedVariant
	require.NotNil(t, v)
	assert.Equal(t, "7", v.VariantID)
	assert.Equal(t, map[string]string{"color": "red"}, v.Combination)
	assert.True(t, snap.Items[0].UnitPrice.Equal(decimal.NewFromInt(12)))
}

func TestNormalize_MalformedVariantFallsBackToBasePrice(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product_id":"P1","product_price":"19.90","selected_variant":"{not json"}`,
	))
	require.NoError(t, err)

	assert.Nil(t, snap.Items[0].SelectedVariant)
	assert.True(t, snap.Items[0].UnitPrice.Equal(decimal.RequireFromString("19.90")))
}

func TestNormalize_MissingPriceIsZero(t *testing.T) {
	snap, err := Normalize(entries(t, `{"product_id":"P1"}`))
	require.NoError(t, err)
	assert.True(t, snap.Items[0].UnitPrice.IsZero())
}

func TestNormalize_MergesDuplicateIdentity(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product_id":"P1","quantity":1,"product_price":5}`,
		`{"product_id":"P2","quantity":1,"product_price":5,"selected_variant":{"variant_id":"V1"}}`,
		`{"product_id":"P1","quantity":2,"product_price":5}`,
		`{"product_id":"P2","quantity":1,"product_price":5,"selected_variant":{"variant_id":"V2"}}`,
	))
	require.NoError(t, err)

	require.Len(t, snap.Items, 3)
	assert.Equal(t, "P1", snap.Items[0].Key())
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.Equal(t, "P2#V1", snap.Items[1].Key())
	assert.Equal(t, "P2#V2", snap.Items[2].Key())
	assert.Equal(t, 5, snap.TotalQuantity())
}

func TestNormalize_LengthAndQuantityProperty(t *testing.T) {
	inputs := [][]string{
		{`{"product_id":"a","quantity":1}`},
		{`{"product_id":"a","quantity":2}`, `{"product_id":"b","quantity":5}`},
		{`{"product_id":"a","quantity":2}`, `{"product_id":"a","quantity":3}`, `{"product":{"product_id":"c"},"selected_quantity":4}`},
	}
	for _, in := range inputs {
		snap, err := Normalize(entries(t, in...))
		require.NoError(t, err)

		distinct := map[string]bool{}
		sum := 0
		for _, raw := range in {
			var entry rawEntry
			require.NoError(t, json.Unmarshal([]byte(raw), &entry))
			item, ok := normalizeEntry(entry)
			require.True(t, ok)
			distinct[item.Key()] = true
			sum += item.Quantity
		}
		assert.Len(t, snap.Items, len(distinct))
		assert.Equal(t, sum, snap.TotalQuantity())
	}
}

func TestNormalize_SellerFallbacks(t *testing.T) {
	snap, err := Normalize(entries(t,
		`{"product":{"product_id":"P1","seller":{"seller_id":"S9"}}}`,
		`{"product_id":"P2","seller_id":"S2"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, "S9", snap.SellerID)
}

func TestNormalize_EmptyCart(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = Normalize(entries(t, `{"product_name":"no id"}`, `[]`))
	assert.ErrorIs(t, err, ErrEmptyCart)
}
