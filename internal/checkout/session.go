package checkout

import (
	"fmt"
	"log"
	"sync"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/cart"
)

// PaymentMethod selects how the buyer pays. Both methods run through the
// same phases; they differ in the processor payment method types.
type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

// Observer is notified of every phase change. It runs while the session is
// locked and must not call back into the session.
type Observer func(sessionID string, from, to Phase)

// SessionState is a copy of a session's fields.
type SessionState struct {
	ID                string
	Phase             Phase
	PaymentMethod     PaymentMethod
	BuyerID           string
	SellerID          string
	Items             []cart.OrderItem
	Totals            Totals
	Currency          string
	StockValidationID string
	PaymentIntentID   string
	ClientSecret      string
	OrderID           string
	History           []Phase
	Result            *PaymentResult
}

// Session is one checkout attempt. It is created per submission and only
// lives in memory.
type Session struct {
	mu       sync.Mutex
	st       SessionState
	observer Observer
	// reconciling guards against concurrent confirmation retries.
	reconciling bool
}

func newSession(id string, method PaymentMethod, buyerID string, obs Observer) *Session {
	return &Session{
		st: SessionState{
			ID:            id,
			Phase:         PhaseIdle,
			PaymentMethod: method,
			BuyerID:       buyerID,
			History:       []Phase{PhaseIdle},
		},
		observer: obs,
	}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ID
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Phase
}

// State returns a copy of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.History = append([]Phase(nil), s.st.History...)
	st.Items = append([]cart.OrderItem(nil), s.st.Items...)
	return st
}

// Result returns the final result, or nil while the session is running.
func (s *Session) Result() *PaymentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Result
}

func (s *Session) update(fn func(st *SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

func (s *Session) transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to Phase) error {
	from := s.st.Phase
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	s.st.Phase = to
	s.st.History = append(s.st.History, to)
	log.Printf("[checkout] session=%s phase %s -> %s", s.st.ID, from, to)
	if s.observer != nil {
		s.observer(s.st.ID, from, to)
	}
	return nil
}

// cancel moves a cancellable session to Cancelled. Cancelling twice is a
// no-op.
func (s *Session) cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.st.Phase == PhaseCancelled:
		return nil
	case s.st.Phase.Terminal():
		return ErrNoActiveCheckout
	case !s.st.Phase.Cancellable():
		return fmt.Errorf("%w: session is %s", ErrCancelNotAllowed, s.st.Phase)
	}
	return s.transitionLocked(PhaseCancelled)
}

// finish records the result and moves the session to its phase when it is
// not already there.
func (s *Session) finish(res *PaymentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Phase == PhaseCancelled && res.Phase != PhaseCancelled {
		*res = *cancelledResult(s.st.History[len(s.st.History)-2])
	}
	if s.st.Phase != res.Phase {
		if err := s.transitionLocked(res.Phase); err != nil {
			log.Printf("[checkout] session=%s finish: %v", s.st.ID, err)
			res.Phase = s.st.Phase
		}
	}
	s.st.Result = res
}

// claimPending marks a pending session as being reconciled.
func (s *Session) claimPending() (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Phase != PhaseReconciliationPending || s.reconciling {
		return SessionState{}, false
	}
	s.reconciling = true
	st := s.st
	st.Items = append([]cart.OrderItem(nil), s.st.Items...)
	return st, true
}

func (s *Session) releasePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciling = false
}
