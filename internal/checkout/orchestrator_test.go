package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/money"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestOrchestrator(b *fakeBackend, c *fakeCard, log *phaseLog) *Orchestrator {
	opts := []Option{WithIDGenerator(func() string { return "sess-1" })}
	if log != nil {
		opts = append(opts, WithObserver(log.observe))
	}
	return New(testConfig(), b, c, opts...)
}

func cardRequest(t *testing.T) Request {
	return Request{Cart: twoItemCart(t), BuyerID: "U1", PaymentMethod: PaymentCard, PaymentMethodToken: "pm_card_visa"}
}

func assertMonotonic(t *testing.T, phases []Phase) {
	t.Helper()
	for i := 1; i < len(phases); i++ {
		assert.LessOrEqual(t, phases[i-1].Rank(), phases[i].Rank(), "%v", phases)
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	b, c, log := newFakeBackend(), newFakeCard(), &phaseLog{}
	o := newTestOrchestrator(b, c, log)

	res, err := o.Submit(context.Background(), cardRequest(t))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Order)
	assert.Equal(t, PhaseSucceeded, res.Phase)
	assert.Equal(t, "ORD-20260101-A1", res.Order.OrderID)
	assert.Equal(t, "processing", res.Order.Status)
	assert.Equal(t, "RM 70.00", res.Order.Display())

	stock, intent, confirm := b.calls()
	assert.Equal(t, []int{1, 1, 1}, []int{stock, intent, confirm})
	assert.Equal(t, 1, c.count())

	assert.Equal(t, int64(7000), b.lastIntent.Amount)
	assert.Equal(t, "val-1", b.lastIntent.StockValidationID)
	assert.Equal(t, "S1", b.lastIntent.SellerID)
	assert.Equal(t, []string{"card"}, b.lastIntent.PaymentMethodTypes)
	assert.Equal(t, []string{"pi_1:ORD-20260101-A1"}, b.confirmKeys)
	assert.Equal(t, "pi_1", b.lastConfirm.PaymentIntentID)
	assert.Equal(t, int64(7000), b.lastConfirm.Amount)

	assert.Equal(t, []Phase{
		PhaseValidating, PhaseCreatingIntent, PhaseAwaitingCardConfirmation, PhaseReconciling, PhaseSucceeded,
	}, log.all())
	st := o.Session().State()
	assert.Equal(t, "pi_1", st.PaymentIntentID)
	assert.Equal(t, PhaseIdle, st.History[0])
}

func TestSubmit_EmptyCartMakesNoCalls(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), Request{Cart: rawCart(t, `{"quantity":2}`), BuyerID: "U1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, "No items to checkout.", res.Err.Message)

	stock, intent, confirm := b.calls()
	assert.Zero(t, stock+intent+confirm)
	assert.Zero(t, c.count())
}

func TestSubmit_StockRejectedPassesReason(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	b.stockFn = func(context.Context, contract.StockValidationRequest) (contract.StockValidationResponse, error) {
		return contract.StockValidationResponse{Valid: false, Error: "Some items are out of stock"}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrValidationRejected)
	assert.Equal(t, "Some items are out of stock", res.Err.Message)
	assert.Equal(t, ActionTryAgain, res.Err.Action())
	_, intent, _ := b.calls()
	assert.Zero(t, intent)
}

func TestSubmit_StockRejectedFallbackMessage(t *testing.T) {
	b := newFakeBackend()
	b.stockFn = func(context.Context, contract.StockValidationRequest) (contract.StockValidationResponse, error) {
		return contract.StockValidationResponse{Valid: false}, nil
	}
	o := newTestOrchestrator(b, newFakeCard(), nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrValidationRejected)
	assert.Equal(t, "Stock validation failed.", res.Err.Message)
}

func TestSubmit_StockUnavailable(t *testing.T) {
	b := newFakeBackend()
	b.stockFn = func(context.Context, contract.StockValidationRequest) (contract.StockValidationResponse, error) {
		return contract.StockValidationResponse{}, fmt.Errorf("post: %w", ErrBackendUnavailable)
	}
	o := newTestOrchestrator(b, newFakeCard(), nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrValidationUnavailable)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, PhaseFailed, res.Phase)
}

func TestSubmit_VariantPrecheckRejectsLocally(t *testing.T) {
	b := newFakeBackend()
	o := newTestOrchestrator(b, newFakeCard(), nil)

	req := cardRequest(t)
	req.Cart = rawCart(t,
		`{"product":{"product_id":"P1","product_price":"20"},"quantity":3,"selected_variant":{"variant_id":"V1","price":"22","quantity":2}}`,
	)
	res, err := o.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidationRejected)
	assert.Equal(t, "Not enough stock for selected variant. Available: 2, Requested: 3", res.Err.Message)
	stock, _, _ := b.calls()
	assert.Zero(t, stock)
}

func TestSubmit_IntentWithoutSecretFails(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	b.intentFn = func(context.Context, contract.IntentRequest) (contract.IntentResponse, error) {
		return contract.IntentResponse{OrderID: "ORD-1"}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrIntentCreation)
	assert.Equal(t, "Failed to create payment intent.", res.Err.Message)
	assert.Zero(t, c.count())
}

func TestSubmit_IntentBackendErrorPassedThrough(t *testing.T) {
	b := newFakeBackend()
	b.intentFn = func(context.Context, contract.IntentRequest) (contract.IntentResponse, error) {
		return contract.IntentResponse{Error: "Stock validation expired. Please validate your cart again."}, nil
	}
	o := newTestOrchestrator(b, newFakeCard(), nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrIntentCreation)
	assert.Equal(t, "Stock validation expired. Please validate your cart again.", res.Err.Message)
}

func TestSubmit_CardDeclinedIsNotReconciled(t *testing.T) {
	b, c, log := newFakeBackend(), newFakeCard(), &phaseLog{}
	c.fn = func(context.Context, string, string) (CardResult, error) {
		return CardResult{Error: &ProcessorError{Message: "Your card has insufficient funds.", DeclineCode: "insufficient_funds"}}, nil
	}
	o := newTestOrchestrator(b, c, log)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrProcessorDeclined)
	assert.Equal(t, "Your card has insufficient funds.", res.Err.Message)
	assert.Equal(t, "insufficient_funds", res.Err.Code)
	assert.False(t, res.Err.Retriable)
	assert.False(t, res.Err.Charged)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, 1, c.count())
	_, _, confirm := b.calls()
	assert.Zero(t, confirm)
	assertMonotonic(t, log.all())

	_, err = o.RetryCard(context.Background(), "pm_other")
	assert.ErrorIs(t, err, ErrNotRetriable)
}

func TestRetryCard_ReusesIntent(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	attempts := 0
	c.fn = func(_ context.Context, secret, token string) (CardResult, error) {
		attempts++
		if attempts == 1 {
			return CardResult{Error: &ProcessorError{Message: "Your card was declined.", Retriable: true}}, nil
		}
		return CardResult{Succeeded: true, PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	_, err := o.Submit(context.Background(), cardRequest(t))
	require.ErrorIs(t, err, ErrProcessorDeclined)

	res, err := o.RetryCard(context.Background(), "pm_card_mastercard")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, intent, confirm := b.calls()
	assert.Equal(t, 1, intent)
	assert.Equal(t, 1, confirm)
	assert.Equal(t, []string{"pi_1_secret_abc", "pi_1_secret_abc"}, c.secrets)
	assert.Equal(t, []Phase{PhaseIdle, PhaseAwaitingCardConfirmation, PhaseReconciling, PhaseSucceeded},
		o.Session().State().History)
}

func TestSubmit_ProcessorTimeoutButChargedIsReconciled(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	c.fn = func(context.Context, string, string) (CardResult, error) {
		return CardResult{}, context.DeadlineExceeded
	}
	c.statusFn = func(_ context.Context, secret string) (CardResult, error) {
		return CardResult{Succeeded: true, Status: "succeeded", PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, c.count())
	_, intent, confirm := b.calls()
	assert.Equal(t, 1, intent)
	assert.Equal(t, 1, confirm)
}

func TestSubmit_ProcessorUnreachableBlocksNewCheckout(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	c.fn = func(context.Context, string, string) (CardResult, error) {
		return CardResult{}, errors.New("dial tcp: i/o timeout")
	}
	c.statusFn = func(context.Context, string) (CardResult, error) {
		return CardResult{}, errors.New("dial tcp: i/o timeout")
	}
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	require.ErrorIs(t, err, ErrPaymentUnconfirmed)
	assert.Equal(t, ActionAwaitConfirmation, res.Err.Action())
	assert.Equal(t, PhaseFailed, res.Phase)

	// a second intent would risk charging the buyer twice
	_, err = o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrPaymentUnresolved)
	_, intent, _ := b.calls()
	assert.Equal(t, 1, intent)

	// the processor reports the first attempt as captured
	c.statusFn = func(_ context.Context, secret string) (CardResult, error) {
		return CardResult{Succeeded: true, Status: "succeeded", PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	res, err = o.RetryCard(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, c.count(), "card must not be confirmed again")
	_, intent, confirm := b.calls()
	assert.Equal(t, 1, intent)
	assert.Equal(t, 1, confirm)

	_, err = o.Submit(context.Background(), cardRequest(t))
	assert.NoError(t, err)
}

func TestSubmit_ProcessorUnreachableNothingCharged(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	attempts := 0
	c.fn = func(_ context.Context, secret, _ string) (CardResult, error) {
		attempts++
		if attempts == 1 {
			return CardResult{}, errors.New("connection reset")
		}
		return CardResult{Succeeded: true, PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	require.ErrorIs(t, err, ErrProcessorDeclined)
	assert.True(t, res.Err.Retriable)
	assert.Equal(t, "requires_confirmation", res.Err.Code)
	assert.Equal(t, ActionTryAgain, res.Err.Action())

	res, err = o.RetryCard(context.Background(), "pm_card_visa")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, c.count())
}

func TestRetryCard_OutcomeStillUnknown(t *testing.T) {
	b, c := newFakeBackend(), newFakeCard()
	c.fn = func(context.Context, string, string) (CardResult, error) {
		return CardResult{}, context.DeadlineExceeded
	}
	c.statusFn = func(context.Context, string) (CardResult, error) {
		return CardResult{Status: "processing"}, nil
	}
	o := newTestOrchestrator(b, c, nil)

	_, err := o.Submit(context.Background(), cardRequest(t))
	require.ErrorIs(t, err, ErrPaymentUnconfirmed)

	_, err = o.RetryCard(context.Background(), "pm_card_visa")
	assert.ErrorIs(t, err, ErrPaymentUnconfirmed)
	assert.Equal(t, 1, c.count())
	_, _, confirm := b.calls()
	assert.Zero(t, confirm)
}

func TestSubmit_ReconciliationPendingThenRetried(t *testing.T) {
	b, c, log := newFakeBackend(), newFakeCard(), &phaseLog{}
	down := true
	b.confirmFn = func(_ context.Context, req contract.ConfirmRequest) (contract.ConfirmResponse, error) {
		if down {
			return contract.ConfirmResponse{}, fmt.Errorf("confirm: %w", ErrBackendUnavailable)
		}
		return contract.ConfirmResponse{Success: true, Message: "Order already exists", Order: &contract.Order{OrderID: req.OrderID}}, nil
	}
	o := newTestOrchestrator(b, c, log)

	res, err := o.Submit(context.Background(), cardRequest(t))
	require.ErrorIs(t, err, ErrReconciliationTransport)
	assert.False(t, res.Success)
	assert.Nil(t, res.Order)
	assert.True(t, res.Err.Charged)
	assert.Equal(t, ActionAwaitConfirmation, res.Err.Action())
	assert.Equal(t, "Payment captured, confirmation pending.", res.Err.Message)
	assert.Equal(t, PhaseReconciliationPending, o.Session().Phase())

	_, err = o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	_, err = o.RetryReconciliation(context.Background())
	assert.ErrorIs(t, err, ErrReconciliationTransport)
	assert.Equal(t, PhaseReconciliationPending, o.Session().Phase())

	down = false
	res, err = o.RetryReconciliation(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, PhaseSucceeded, o.Session().Phase())

	assert.Equal(t, 1, c.count())
	assert.Equal(t, []string{"pi_1:ORD-20260101-A1", "pi_1:ORD-20260101-A1", "pi_1:ORD-20260101-A1"}, b.confirmKeys)
	assertMonotonic(t, log.all())

	_, err = o.RetryReconciliation(context.Background())
	assert.ErrorIs(t, err, ErrNothingToReconcile)
}

func TestSubmit_ReconciliationRejected(t *testing.T) {
	b := newFakeBackend()
	b.confirmFn = func(context.Context, contract.ConfirmRequest) (contract.ConfirmResponse, error) {
		return contract.ConfirmResponse{Success: false, Error: "Payment not completed"}, nil
	}
	o := newTestOrchestrator(b, newFakeCard(), nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrReconciliationRejected)
	assert.Equal(t, PhaseReconciliationRejected, res.Phase)
	assert.Equal(t, ActionContactSupport, res.Err.Action())
	assert.True(t, res.Err.Charged)
	assert.True(t, strings.HasPrefix(res.Err.Message, "Payment not completed. "), res.Err.Message)
	assert.Contains(t, res.Err.Message, "contact support")

	// rejected is terminal, a new checkout may start
	b.confirmFn = newFakeBackend().confirmFn
	_, err = o.Submit(context.Background(), cardRequest(t))
	assert.NoError(t, err)
}

func TestSubmit_ReconciliationRejectedUsesBackendMessage(t *testing.T) {
	b := newFakeBackend()
	b.confirmFn = func(context.Context, contract.ConfirmRequest) (contract.ConfirmResponse, error) {
		return contract.ConfirmResponse{Success: false, Message: "Order amount does not match the payment."}, nil
	}
	o := newTestOrchestrator(b, newFakeCard(), nil)

	res, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrReconciliationRejected)
	assert.True(t, strings.HasPrefix(res.Err.Message, "Order amount does not match the payment. "), res.Err.Message)
	assert.ErrorContains(t, err, "backend: Order amount does not match the payment.")
}

func TestSubmit_WalletUsesWalletMethodType(t *testing.T) {
	b := newFakeBackend()
	o := newTestOrchestrator(b, newFakeCard(), nil)

	req := cardRequest(t)
	req.PaymentMethod = PaymentWallet
	req.WalletType = "fpx"
	_, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"fpx"}, b.lastIntent.PaymentMethodTypes)
	assert.Equal(t, "wallet", b.lastIntent.PaymentMethod)
}

func TestSubmit_ShippingOverride(t *testing.T) {
	b := newFakeBackend()
	o := newTestOrchestrator(b, newFakeCard(), nil)

	req := cardRequest(t)
	free := decimal.Zero
	req.Shipping = &free
	_, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(6500), b.lastIntent.Amount)
}

func TestCancel_DuringValidation(t *testing.T) {
	b, log := newFakeBackend(), &phaseLog{}
	started := make(chan struct{})
	b.stockFn = func(ctx context.Context, _ contract.StockValidationRequest) (contract.StockValidationResponse, error) {
		close(started)
		<-ctx.Done()
		return contract.StockValidationResponse{}, ctx.Err()
	}
	o := newTestOrchestrator(b, newFakeCard(), log)

	done := make(chan struct{})
	var (
		res *PaymentResult
		err error
	)
	go func() {
		defer close(done)
		res, err = o.Submit(context.Background(), cardRequest(t))
	}()

	<-started
	require.NoError(t, o.Cancel())
	<-done

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, PhaseCancelled, res.Phase)
	assert.Equal(t, PhaseValidating, res.Err.Phase)
	_, intent, _ := b.calls()
	assert.Zero(t, intent)
	assert.Equal(t, []Phase{PhaseValidating, PhaseCancelled}, log.all())
}

func TestCancel_NotAllowedAfterCardSubmitted(t *testing.T) {
	c := newFakeCard()
	entered := make(chan struct{})
	release := make(chan struct{})
	c.fn = func(_ context.Context, secret, _ string) (CardResult, error) {
		close(entered)
		<-release
		return CardResult{Succeeded: true, PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	o := newTestOrchestrator(newFakeBackend(), c, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), cardRequest(t))
		done <- err
	}()

	<-entered
	assert.ErrorIs(t, o.Cancel(), ErrCancelNotAllowed)
	_, err := o.Submit(context.Background(), cardRequest(t))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, PhaseSucceeded, o.Session().Phase())
}

func TestSubmit_CallerCancelDoesNotAbortCardConfirmation(t *testing.T) {
	c := newFakeCard()
	ctx, cancel := context.WithCancel(context.Background())
	c.fn = func(cctx context.Context, secret, _ string) (CardResult, error) {
		cancel()
		select {
		case <-cctx.Done():
			return CardResult{}, cctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		return CardResult{Succeeded: true, PaymentIntentID: IntentIDFromSecret(secret)}, nil
	}
	o := newTestOrchestrator(newFakeBackend(), c, nil)

	res, err := o.Submit(ctx, cardRequest(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCancel_WithoutSession(t *testing.T) {
	o := newTestOrchestrator(newFakeBackend(), newFakeCard(), nil)
	assert.ErrorIs(t, o.Cancel(), ErrNoActiveCheckout)
}

func TestQuote_RoundsHalfEven(t *testing.T) {
	o := newTestOrchestrator(newFakeBackend(), newFakeCard(), nil)
	free := decimal.Zero

	_, totals, err := o.Quote(rawCart(t, `{"product_id":"P1","product_price":"19.995","quantity":1}`), &free)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), totals.AmountMinor())
	assert.Equal(t, "RM 20.00", money.Display("myr", totals.Total))
}

func TestQuote_AppliesTax(t *testing.T) {
	cfg := testConfig()
	cfg.TaxRate = decimal.RequireFromString("0.06")
	o := New(cfg, newFakeBackend(), newFakeCard())

	_, totals, err := o.Quote(rawCart(t, `{"product_id":"P1","product_price":"10.00","quantity":2}`), nil)
	require.NoError(t, err)
	assert.True(t, totals.Tax.Equal(decimal.RequireFromString("1.2")), totals.Tax.String())
	assert.Equal(t, int64(2620), totals.AmountMinor())
}
