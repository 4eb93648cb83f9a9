package telemetry

import (
	"github.com/qmuntal/stateless"

	"mads-go/types"
)

// Arbiter lifecycle triggers. The tracker validates that the substates the
// arbiter reports only move along the legal edges; anything else is a
// violation worth counting, never a fatal condition.
const (
	trigEnable  = "enable"
	trigDisable = "disable"
	trigRequest = "request"
	trigGrant   = "grant"
	trigRevoke  = "revoke"
	trigClear   = "clear"
)

// newSubstateMachine builds the legal transition set. A grant straight from
// idle is legal: a toggle press can latch the request and be granted within
// the same tick.
func newSubstateMachine(initial types.Substate) *stateless.StateMachine {
	sm := stateless.NewStateMachine(initial)

	sm.Configure(types.SubstateDisabled).
		Permit(trigEnable, types.SubstateIdle)

	sm.Configure(types.SubstateIdle).
		Permit(trigRequest, types.SubstateRequested).
		Permit(trigGrant, types.SubstateActive).
		Permit(trigDisable, types.SubstateDisabled)

	sm.Configure(types.SubstateRequested).
		Permit(trigGrant, types.SubstateActive).
		Permit(trigClear, types.SubstateIdle).
		Permit(trigDisable, types.SubstateDisabled)

	sm.Configure(types.SubstateActive).
		Permit(trigRevoke, types.SubstateRequested).
		Permit(trigClear, types.SubstateIdle).
		Permit(trigDisable, types.SubstateDisabled)

	return sm
}

// triggerFor maps an observed substate pair to the trigger that should
// explain it, or "" when no legal edge exists.
func triggerFor(from, to types.Substate) string {
	if to == types.SubstateDisabled {
		if from == types.SubstateDisabled {
			return ""
		}
		return trigDisable
	}
	switch {
	case from == types.SubstateDisabled && to == types.SubstateIdle:
		return trigEnable
	case from == types.SubstateIdle && to == types.SubstateRequested:
		return trigRequest
	case from == types.SubstateIdle && to == types.SubstateActive:
		return trigGrant
	case from == types.SubstateRequested && to == types.SubstateActive:
		return trigGrant
	case from == types.SubstateRequested && to == types.SubstateIdle:
		return trigClear
	case from == types.SubstateActive && to == types.SubstateRequested:
		return trigRevoke
	case from == types.SubstateActive && to == types.SubstateIdle:
		return trigClear
	}
	return ""
}

// substateTracker feeds observed snapshots through the state machine and
// reports violations. On a violation it resynchronises at the observed
// state so one bad jump does not poison the rest of the run.
type substateTracker struct {
	sm      *stateless.StateMachine
	current types.Substate
}

func newSubstateTracker(initial types.Substate) *substateTracker {
	return &substateTracker{sm: newSubstateMachine(initial), current: initial}
}

// observe advances to next. It returns false when the move was not a legal
// lifecycle edge.
func (t *substateTracker) observe(next types.Substate) bool {
	if next == t.current {
		return true
	}
	trig := triggerFor(t.current, next)
	if trig == "" || t.sm.Fire(trig) != nil {
		t.sm = newSubstateMachine(next)
		t.current = next
		return false
	}
	t.current = next
	return true
}
