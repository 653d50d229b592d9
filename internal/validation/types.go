package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Tags reported by the struct-level money checks.
const (
	tagPriceMin      = "price_min"
	tagSubtotalItems = "subtotal_match_items"
	tagAmountCovers  = "amount_covers_total"
	tagNonNegative   = "non_negative"
)

// messages are keyed by "<StructField>.<tag>".
var messages = map[string]string{
	"OrderItems.required": "Your cart is empty. Please add items before placing an order.",
	"OrderItems.min":      "Your cart must contain at least one item.",
	"ProductID.required":  "A product in your cart is missing information. Please refresh and try again.",
	"Quantity.required":   "Please enter the quantity for all items.",
	"Quantity.min":        "Quantity must be at least 1.",

	"OrderItems." + tagPriceMin:   "Item prices must be at least 0.",
	"Subtotal." + tagSubtotalItems: "The subtotal does not match the order items.",
	"Amount." + tagAmountCovers:    "The amount does not cover the subtotal and shipping.",
}

// Message turns a single validation failure into text a buyer can read.
func Message(fe validatorv10.FieldError) string {
	if m, ok := messages[fe.StructField()+"."+fe.Tag()]; ok {
		return m
	}
	name := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", name)
	case "len":
		return fmt.Sprintf("The %s must be %s characters.", name, fe.Param())
	case "min":
		return fmt.Sprintf("The %s must be at least %s.", name, fe.Param())
	case tagNonNegative:
		return fmt.Sprintf("The %s must be at least 0.", name)
	default:
		return fmt.Sprintf("The %s field is invalid.", name)
	}
}

// First returns the message of the first failure in err.
func First(err error) string {
	if ve, ok := err.(validatorv10.ValidationErrors); ok && len(ve) > 0 {
		return Message(ve[0])
	}
	return err.Error()
}
