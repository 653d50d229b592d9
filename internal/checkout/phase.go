package checkout

// Phase is the state of a checkout session.
type Phase string

const (
	PhaseIdle                     Phase = "IDLE"
	PhaseValidating               Phase = "VALIDATING"
	PhaseCreatingIntent           Phase = "CREATING_INTENT"
	PhaseAwaitingCardConfirmation Phase = "AWAITING_CARD_CONFIRMATION"
	PhaseReconciling              Phase = "RECONCILING"
	PhaseReconciliationPending    Phase = "RECONCILIATION_PENDING"
	PhaseSucceeded                Phase = "SUCCEEDED"
	PhaseFailed                   Phase = "FAILED"
	PhaseReconciliationRejected   Phase = "RECONCILIATION_REJECTED"
	PhaseCancelled                Phase = "CANCELLED"
)

var ranks = map[Phase]int{
	PhaseIdle:                     0,
	PhaseValidating:               1,
	PhaseCreatingIntent:           2,
	PhaseAwaitingCardConfirmation: 3,
	PhaseReconciling:              4,
	PhaseReconciliationPending:    5,
	PhaseSucceeded:                6,
	PhaseFailed:                   6,
	PhaseReconciliationRejected:   6,
	PhaseCancelled:                6,
}

var transitions = map[Phase][]Phase{
	PhaseIdle:                     {PhaseValidating, PhaseAwaitingCardConfirmation, PhaseCancelled},
	PhaseValidating:               {PhaseCreatingIntent, PhaseFailed, PhaseCancelled},
	PhaseCreatingIntent:           {PhaseAwaitingCardConfirmation, PhaseFailed, PhaseCancelled},
	PhaseAwaitingCardConfirmation: {PhaseReconciling, PhaseFailed},
	PhaseReconciling:              {PhaseSucceeded, PhaseReconciliationPending, PhaseReconciliationRejected},
	PhaseReconciliationPending:    {PhaseSucceeded, PhaseReconciliationRejected},
}

// Rank orders phases; a session's observed ranks never decrease.
func (p Phase) Rank() int {
	return ranks[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}

// Cancellable reports whether the user may still abandon the checkout.
// Once card details are submitted the flow must run to a terminal phase.
func (p Phase) Cancellable() bool {
	return p == PhaseIdle || p == PhaseValidating || p == PhaseCreatingIntent
}

// CanTransitionTo reports whether p -> next is allowed.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, n := range transitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}
