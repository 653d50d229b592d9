package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// ErrorBody renders the 400 body for a validation message. Each endpoint
// keeps its own envelope.
type ErrorBody func(msg string) any

// ErrorOnly renders {"error": msg}.
func ErrorOnly(msg string) any { return gin.H{"error": msg} }

// InvalidStock renders {"valid": false, "error": msg}.
func InvalidStock(msg string) any { return gin.H{"valid": false, "error": msg} }

// Unsuccessful renders {"success": false, "error": msg}.
func Unsuccessful(msg string) any { return gin.H{"success": false, "error": msg} }

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate, body ErrorBody) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, body("Invalid request body."))
		return err
	}

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, body(First(err)))
		return err
	}
	return nil
}
