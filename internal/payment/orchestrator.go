package payment

import (
	"fmt"
	"sync"

	"regbackend/internal/logger"
)

// Phase is one step of the checkout flow for a registration.
type Phase string

const (
	PhaseLoadingGateway Phase = "loading-gateway"
	PhaseCreatingOrder  Phase = "creating-order"
	PhaseReady          Phase = "ready"
	PhaseOpeningWidget  Phase = "opening-widget"
	PhaseVerifying      Phase = "verifying"
	PhaseSucceeded      Phase = "succeeded"
	PhaseFailed         Phase = "failed"
)

// allowedTransitions maps each phase to the phases it may move to. A widget
// dismissal returns opening-widget to ready so checkout can be reopened
// without creating a second order. A failed registration may re-enter at
// creating-order, since a failure before the order exists leaves nothing to
// resume at ready.
var allowedTransitions = map[Phase][]Phase{
	PhaseLoadingGateway: {PhaseCreatingOrder, PhaseFailed},
	PhaseCreatingOrder:  {PhaseReady, PhaseFailed},
	PhaseReady:          {PhaseOpeningWidget},
	PhaseOpeningWidget:  {PhaseVerifying, PhaseReady, PhaseFailed},
	PhaseVerifying:      {PhaseSucceeded, PhaseFailed},
	PhaseFailed:         {PhaseCreatingOrder, PhaseReady},
	PhaseSucceeded:      {},
}

// Orchestrator tracks the checkout phase per registration. Phase checks keep
// the flow honest: verification is only accepted from a registration whose
// widget was actually opened, and a succeeded registration never moves again.
type Orchestrator struct {
	phases map[string]Phase
	mutex  sync.Mutex
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{phases: make(map[string]Phase)}
}

// Phase returns the current phase for a registration. Registrations the
// orchestrator has never seen start at loading-gateway.
func (o *Orchestrator) Phase(registrationID string) Phase {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if phase, ok := o.phases[registrationID]; ok {
		return phase
	}
	return PhaseLoadingGateway
}

// Transition moves a registration to the target phase, enforcing the allowed
// edges. Transitioning to the current phase is a no-op so repeated client
// calls stay idempotent.
func (o *Orchestrator) Transition(registrationID string, target Phase) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	current, ok := o.phases[registrationID]
	if !ok {
		current = PhaseLoadingGateway
	}

	if current == target {
		return nil
	}

	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			o.phases[registrationID] = target
			logger.LogInfo("Checkout phase for %s: %s -> %s", registrationID, current, target)
			return nil
		}
	}

	return fmt.Errorf("invalid checkout transition for %s: %s -> %s", registrationID, current, target)
}

// Resume puts a registration directly into a phase, used when rebuilding
// state after a restart from what the database says about the registration.
func (o *Orchestrator) Resume(registrationID string, phase Phase) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.phases[registrationID] = phase
}

// Forget drops tracking for a registration, typically after it reaches a
// terminal success or is cleaned up.
func (o *Orchestrator) Forget(registrationID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	delete(o.phases, registrationID)
}
