package checkout

import (
	"errors"
	"fmt"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
)

// Error kinds. Match with errors.Is against an *Error.
var (
	ErrEmptyCart               = cart.ErrEmptyCart
	ErrValidationUnavailable   = errors.New("stock validation unavailable")
	ErrValidationRejected      = errors.New("stock validation rejected")
	ErrIntentCreation          = errors.New("payment intent creation failed")
	ErrProcessorDeclined       = errors.New("payment processor declined")
	ErrPaymentUnconfirmed      = errors.New("payment outcome unknown")
	ErrReconciliationTransport = errors.New("order confirmation unreachable")
	ErrReconciliationRejected  = errors.New("order confirmation rejected")
	ErrCancelled               = errors.New("checkout cancelled")
)

// Orchestrator usage errors.
var (
	ErrCheckoutInProgress = errors.New("a checkout is already in progress")
	ErrCancelNotAllowed   = errors.New("checkout can no longer be cancelled")
	ErrNoActiveCheckout   = errors.New("no active checkout")
	ErrNotRetriable       = errors.New("previous payment attempt cannot be retried")
	ErrPaymentUnresolved  = errors.New("outcome of the previous payment is unknown, retry it before starting a new checkout")
	ErrIllegalTransition  = errors.New("illegal transition of checkout phase")
)

// ErrBackendUnavailable marks transport failures from backend ports: network
// errors, timeouts, 5xx responses and an open circuit.
var ErrBackendUnavailable = errors.New("checkout backend unavailable")

// Action tells the UI what to offer next.
type Action string

const (
	ActionTryAgain          Action = "try_again"
	ActionAwaitConfirmation Action = "await_confirmation"
	ActionContactSupport    Action = "contact_support"
	ActionNone              Action = "none"
)

// Error is the user-facing failure of a checkout session.
type Error struct {
	Kind    error
	Phase   Phase
	Message string
	// Retriable is the processor's signal that the same intent may be
	// confirmed again.
	Retriable bool
	// Charged is set once the processor has captured the payment.
	Charged bool
	Code    string
	cause   error
}

func newError(kind error, phase Phase, msg string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v during %s: %s: %v", e.Kind, e.Phase, e.Message, e.cause)
	}
	return fmt.Sprintf("%v during %s: %s", e.Kind, e.Phase, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Action maps the error to the recovery offered to the buyer.
func (e *Error) Action() Action {
	switch e.Kind {
	case ErrReconciliationTransport, ErrPaymentUnconfirmed:
		return ActionAwaitConfirmation
	case ErrReconciliationRejected:
		return ActionContactSupport
	case ErrCancelled:
		return ActionNone
	default:
		return ActionTryAgain
	}
}

func asError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
