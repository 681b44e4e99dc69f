package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

const lifecycleMachineID = "plugin-lifecycle"

// lifecycleContext is the statekit context. Plugin data lives on the
// aggregate, so the machine only tracks the state value.
type lifecycleContext struct{}

// lifecycleMachine is built once from the transition table.
var lifecycleMachine = sync.OnceValues(func() (*statekit.MachineConfig[lifecycleContext], error) {
	builder := statekit.NewMachine[lifecycleContext](lifecycleMachineID).
		WithInitial(statekit.StateID(StateDiscovered)).
		WithContext(lifecycleContext{})

	for _, from := range AllStates() {
		sb := builder.State(statekit.StateID(from))
		for _, to := range transitions[from] {
			sb.On(eventFor(to)).Target(statekit.StateID(to))
		}
	}

	return builder.Build()
})

func eventFor(to State) statekit.EventType {
	return statekit.EventType("to_" + string(to))
}

// StateMachine is the single authority on plugin state changes.
type StateMachine struct {
	logger ports.Logger
	now    func() time.Time
}

// StateMachineOption configures a StateMachine.
type StateMachineOption func(*StateMachine)

// WithStateClock overrides the clock used for timestamps.
func WithStateClock(now func() time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		sm.now = now
	}
}

// NewStateMachine creates a StateMachine that logs every edge to logger.
func NewStateMachine(logger ports.Logger, opts ...StateMachineOption) *StateMachine {
	if logger == nil {
		logger = discardLogger{}
	}
	sm := &StateMachine{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// CanTransition reports whether from -> to is allowed. A same-state
// transition is always allowed.
func (sm *StateMachine) CanTransition(from, to State) bool {
	if from == to {
		return from.IsValid()
	}
	next, err := sm.step(from, to)
	return err == nil && next == to
}

// AllowedTransitions returns the states reachable in one step from from.
func (sm *StateMachine) AllowedTransitions(from State) []State {
	allowed := make([]State, 0, len(transitions[from]))
	allowed = append(allowed, transitions[from]...)
	return allowed
}

// ValidateTransition returns an InvalidStateTransitionError if p cannot move to to.
func (sm *StateMachine) ValidateTransition(p *Plugin, to State) error {
	if p == nil {
		return ErrNilPlugin
	}
	if !sm.CanTransition(p.State, to) {
		return &InvalidStateTransitionError{Plugin: p.Name, From: p.State, To: to}
	}
	return nil
}

// Transition validates and applies a state change to p.
func (sm *StateMachine) Transition(ctx context.Context, p *Plugin, to State) error {
	if err := sm.ValidateTransition(p, to); err != nil {
		return err
	}

	from := p.State
	if from == to {
		return nil
	}

	p.State = to
	p.UpdatedAt = sm.now()
	sm.logger.Info(ctx, "plugin state changed",
		ports.F("plugin", p.Name),
		ports.F("from", string(from)),
		ports.F("to", string(to)),
	)
	return nil
}

// TransitionToRegistered moves p to REGISTERED.
func (sm *StateMachine) TransitionToRegistered(ctx context.Context, p *Plugin) error {
	return sm.Transition(ctx, p, StateRegistered)
}

// TransitionToEnabled moves p to ENABLED, stamps EnabledAt and clears any fault.
func (sm *StateMachine) TransitionToEnabled(ctx context.Context, p *Plugin) error {
	from := stateOf(p)
	if err := sm.Transition(ctx, p, StateEnabled); err != nil {
		return err
	}
	if from != StateEnabled {
		now := sm.now()
		p.EnabledAt = &now
		p.FaultReason = ""
	}
	return nil
}

// TransitionToDisabled moves p to DISABLED and stamps DisabledAt.
func (sm *StateMachine) TransitionToDisabled(ctx context.Context, p *Plugin) error {
	from := stateOf(p)
	if err := sm.Transition(ctx, p, StateDisabled); err != nil {
		return err
	}
	if from != StateDisabled {
		now := sm.now()
		p.DisabledAt = &now
	}
	return nil
}

// TransitionToFaulted moves p to FAULTED and records reason.
func (sm *StateMachine) TransitionToFaulted(ctx context.Context, p *Plugin, reason string) error {
	if err := sm.Transition(ctx, p, StateFaulted); err != nil {
		return err
	}
	p.FaultReason = reason
	sm.logger.Error(ctx, "plugin faulted", ports.F("plugin", p.Name), ports.F("reason", reason))
	return nil
}

// TransitionToUpdatePending moves p to UPDATE_PENDING.
func (sm *StateMachine) TransitionToUpdatePending(ctx context.Context, p *Plugin) error {
	return sm.Transition(ctx, p, StateUpdatePending)
}

// step runs the statekit interpreter from `from` with the event for `to`
// and returns the resulting state.
func (sm *StateMachine) step(from, to State) (State, error) {
	machine, err := lifecycleMachine()
	if err != nil {
		return "", fmt.Errorf("building lifecycle machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	if err := interp.Restore(statekit.Snapshot[lifecycleContext]{
		MachineID:    lifecycleMachineID,
		CurrentState: statekit.StateID(from),
	}); err != nil {
		return "", err
	}
	defer interp.Stop()

	interp.Send(statekit.Event{Type: eventFor(to)})
	return State(interp.State().Value), nil
}

func stateOf(p *Plugin) State {
	if p == nil {
		return ""
	}
	return p.State
}
