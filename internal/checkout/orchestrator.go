package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
)

// ErrNothingToReconcile is returned by RetryReconciliation when no payment
// is waiting for confirmation.
var ErrNothingToReconcile = errors.New("no payment awaiting confirmation")

const defaultWalletType = "grabpay"

// Request is one checkout submission.
type Request struct {
	// Cart holds the raw cart entries as the storefront keeps them.
	Cart          []json.RawMessage
	BuyerID       string
	PaymentMethod PaymentMethod
	// WalletType is the processor method type for wallet payments
	// (grabpay, fpx).
	WalletType         string
	PaymentMethodToken string
	// Shipping overrides the configured shipping fee when set.
	Shipping *decimal.Decimal
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers a phase change observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// Orchestrator drives checkout sessions through validation, intent
// creation, processor confirmation and reconciliation. It holds at most one
// active session.
type Orchestrator struct {
	cfg        config.Checkout
	stock      *StockValidator
	intents    *IntentCoordinator
	reconciler *Reconciler
	observer   Observer
	newID      func() string

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
}

func New(cfg config.Checkout, backend Backend, card CardConfirmer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		stock:      NewStockValidator(backend),
		intents:    NewIntentCoordinator(backend, card),
		reconciler: NewReconciler(backend),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the latest session, or nil before the first submission.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Submit runs a checkout to a terminal phase or to ReconciliationPending.
// The returned error is the session's *Error when it did not succeed, or a
// usage error such as ErrCheckoutInProgress with a nil result.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*PaymentResult, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentCard
	}
	s, runCtx, err := o.begin(ctx, false, func(id string) *Session {
		return newSession(id, req.PaymentMethod, req.BuyerID, o.observer)
	})
	if err != nil {
		return nil, err
	}
	defer o.end(s)

	res := o.run(ctx, runCtx, s, req)
	s.finish(res)
	return result(res)
}

// begin starts a new session. A payment whose outcome is unknown blocks
// new checkouts; only a card retry on the same intent may resolve it.
func (o *Orchestrator) begin(ctx context.Context, resolving bool, create func(id string) *Session) (*Session, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		if !o.session.Phase().Terminal() {
			return nil, nil, ErrCheckoutInProgress
		}
		if !resolving && unresolved(o.session.Result()) {
			return nil, nil, ErrPaymentUnresolved
		}
	}
	s := create(o.newID())
	runCtx, cancel := context.WithCancel(ctx)
	o.session = s
	o.cancel = cancel
	return s, runCtx, nil
}

func (o *Orchestrator) end(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == s && o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) run(ctx, runCtx context.Context, s *Session, req Request) *PaymentResult {
	if err := s.transition(PhaseValidating); err != nil {
		return o.interrupted(s, err)
	}

	snap, err := cart.Normalize(req.Cart)
	if err != nil {
		return failed(newError(ErrEmptyCart, PhaseValidating, "No items to checkout.", nil))
	}
	shipping := o.cfg.ShippingFee
	if req.Shipping != nil {
		shipping = *req.Shipping
	}
	totals := Quote(snap.Items, shipping, o.cfg.TaxRate)
	s.update(func(st *SessionState) {
		st.Items = snap.Items
		st.SellerID = snap.SellerID
		st.Totals = totals
		st.Currency = o.cfg.Currency
	})

	validationID, err := o.stock.Validate(runCtx, snap.Items)
	if err != nil {
		return o.stepFailed(runCtx, s, PhaseValidating, err)
	}
	s.update(func(st *SessionState) { st.StockValidationID = validationID })

	if err := s.transition(PhaseCreatingIntent); err != nil {
		return o.interrupted(s, err)
	}
	intent, err := o.intents.CreateIntent(runCtx, IntentRequest{
		Items:              snap.Items,
		Totals:             totals,
		Currency:           o.cfg.Currency,
		PaymentMethodTypes: o.methodTypes(req),
		PaymentMethod:      string(req.PaymentMethod),
		BuyerID:            req.BuyerID,
		SellerID:           snap.SellerID,
		StockValidationID:  validationID,
	})
	if err != nil {
		return o.stepFailed(runCtx, s, PhaseCreatingIntent, err)
	}
	s.update(func(st *SessionState) {
		st.PaymentIntentID = intent.PaymentIntentID
		st.ClientSecret = intent.ClientSecret
		st.OrderID = intent.OrderID
	})

	return o.pay(ctx, s, intent, req.PaymentMethodToken, false)
}

// pay runs card confirmation and reconciliation. Neither step observes
// cancellation of ctx; each is bounded by its own timeout. With recheck set
// the processor is asked first whether an earlier attempt already charged
// the intent.
func (o *Orchestrator) pay(ctx context.Context, s *Session, intent Intent, token string, recheck bool) *PaymentResult {
	if err := s.transition(PhaseAwaitingCardConfirmation); err != nil {
		return o.interrupted(s, err)
	}
	detached := context.WithoutCancel(ctx)

	var intentID string
	if recheck {
		id, err := o.recheck(detached, intent)
		if err != nil && !errors.Is(err, ErrProcessorDeclined) {
			return failed(asErrorOr(err, PhaseAwaitingCardConfirmation))
		}
		intentID = id
	}
	if intentID == "" {
		cardCtx, cancelCard := context.WithTimeout(detached, o.cfg.CardConfirmTimeout)
		id, err := o.intents.ConfirmCard(cardCtx, intent, token)
		cancelCard()
		if errors.Is(err, ErrPaymentUnconfirmed) {
			id, err = o.recheck(detached, intent)
		}
		if err != nil {
			return failed(asErrorOr(err, PhaseAwaitingCardConfirmation))
		}
		intentID = id
	}
	s.update(func(st *SessionState) { st.PaymentIntentID = intentID })

	if err := s.transition(PhaseReconciling); err != nil {
		return o.interrupted(s, err)
	}
	return o.reconcile(detached, s.State())
}

func (o *Orchestrator) recheck(ctx context.Context, intent Intent) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	return o.intents.Recheck(rctx, intent)
}

func (o *Orchestrator) reconcile(ctx context.Context, st SessionState) *PaymentResult {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.ReconcileTimeout)
	defer cancel()
	res := o.reconciler.Reconcile(rctx, ReconcileRequest{
		PaymentIntentID: st.PaymentIntentID,
		OrderID:         st.OrderID,
		BuyerID:         st.BuyerID,
		SellerID:        st.SellerID,
		Items:           st.Items,
		Totals:          st.Totals,
		Currency:        st.Currency,
		PaymentMethod:   string(st.PaymentMethod),
	})
	return &res
}

// Cancel abandons the active checkout. It is only allowed before card
// details have been submitted.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	s, cancel := o.session, o.cancel
	o.mu.Unlock()
	if s == nil {
		return ErrNoActiveCheckout
	}
	if err := s.cancel(); err != nil {
		return err
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// RetryCard confirms the intent of a declined session again with new
// payment details. It starts a new session that reuses the intent and
// order id; it is only allowed when the processor marked the decline as
// retriable, or when the previous outcome is unknown. In the latter case
// the processor is asked first and a captured payment is reconciled
// without charging again.
func (o *Orchestrator) RetryCard(ctx context.Context, token string) (*PaymentResult, error) {
	o.mu.Lock()
	prev := o.session
	o.mu.Unlock()
	if prev == nil {
		return nil, ErrNotRetriable
	}
	pst := prev.State()
	resolving := unresolved(pst.Result)
	declined := pst.Result != nil && pst.Result.Err != nil &&
		pst.Result.Err.Kind == ErrProcessorDeclined && pst.Result.Err.Retriable
	if pst.Phase != PhaseFailed || pst.ClientSecret == "" || !(declined || resolving) {
		return nil, ErrNotRetriable
	}

	s, _, err := o.begin(ctx, resolving, func(id string) *Session {
		s := newSession(id, pst.PaymentMethod, pst.BuyerID, o.observer)
		s.st.SellerID = pst.SellerID
		s.st.Items = pst.Items
		s.st.Totals = pst.Totals
		s.st.Currency = pst.Currency
		s.st.StockValidationID = pst.StockValidationID
		s.st.PaymentIntentID = pst.PaymentIntentID
		s.st.ClientSecret = pst.ClientSecret
		s.st.OrderID = pst.OrderID
		return s
	})
	if err != nil {
		return nil, err
	}
	defer o.end(s)
	log.Printf("[checkout] retrying card confirmation session=%s previous=%s intent=%s", s.ID(), pst.ID, pst.PaymentIntentID)

	res := o.pay(ctx, s, Intent{
		PaymentIntentID: pst.PaymentIntentID,
		ClientSecret:    pst.ClientSecret,
		OrderID:         pst.OrderID,
		Amount:          pst.Totals.AmountMinor(),
	}, token, resolving)
	s.finish(res)
	return result(res)
}

// RetryReconciliation re-sends the confirmation of a pending session with
// the same payment intent and order id. The payment is never charged again.
func (o *Orchestrator) RetryReconciliation(ctx context.Context) (*PaymentResult, error) {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return nil, ErrNothingToReconcile
	}
	st, ok := s.claimPending()
	if !ok {
		return nil, ErrNothingToReconcile
	}
	defer s.releasePending()

	res := o.reconcile(ctx, st)
	if res.Phase == PhaseReconciliationPending {
		// still unreachable, the session stays pending
		return res, res.Err
	}
	s.finish(res)
	return result(res)
}

func (o *Orchestrator) methodTypes(req Request) []string {
	if req.PaymentMethod == PaymentWallet {
		if req.WalletType != "" {
			return []string{req.WalletType}
		}
		return []string{defaultWalletType}
	}
	return o.cfg.PaymentMethodTypes
}

// stepFailed maps the error of a cancellable step. A cancelled context
// means the buyer abandoned the checkout.
func (o *Orchestrator) stepFailed(runCtx context.Context, s *Session, phase Phase, err error) *PaymentResult {
	if errors.Is(runCtx.Err(), context.Canceled) {
		if cerr := s.cancel(); cerr != nil {
			log.Printf("[checkout] session=%s cancel after %s: %v", s.ID(), phase, cerr)
		}
		return cancelledResult(phase)
	}
	return failed(asErrorOr(err, phase))
}

// interrupted handles a rejected transition, which happens when the session
// was cancelled between two steps.
func (o *Orchestrator) interrupted(s *Session, err error) *PaymentResult {
	st := s.State()
	if st.Phase == PhaseCancelled {
		return cancelledResult(st.History[len(st.History)-2])
	}
	log.Printf("[checkout] session=%s: %v", st.ID, err)
	return failed(newError(ErrIntentCreation, st.Phase, "Checkout could not continue.", err))
}

func unresolved(res *PaymentResult) bool {
	return res != nil && res.Err != nil && res.Err.Kind == ErrPaymentUnconfirmed
}

func failed(e *Error) *PaymentResult {
	return &PaymentResult{Err: e, Phase: PhaseFailed}
}

func cancelledResult(at Phase) *PaymentResult {
	return &PaymentResult{
		Err:   newError(ErrCancelled, at, "Checkout cancelled.", nil),
		Phase: PhaseCancelled,
	}
}

func asErrorOr(err error, phase Phase) *Error {
	if ce := asError(err); ce != nil {
		return ce
	}
	kind := ErrValidationUnavailable
	if phase != PhaseValidating {
		kind = ErrIntentCreation
	}
	return newError(kind, phase, "Checkout failed. Please try again.", err)
}

func result(res *PaymentResult) (*PaymentResult, error) {
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// Quote normalizes a cart and prices it without contacting the backend.
func (o *Orchestrator) Quote(raw []json.RawMessage, shipping *decimal.Decimal) (cart.Snapshot, Totals, error) {
	snap, err := cart.Normalize(raw)
	if err != nil {
		return cart.Snapshot{}, Totals{}, err
	}
	fee := o.cfg.ShippingFee
	if shipping != nil {
		fee = *shipping
	}
	return snap, Quote(snap.Items, fee, o.cfg.TaxRate), nil
}
