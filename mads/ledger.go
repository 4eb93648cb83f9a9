package mads

import "mads-go/types"

// ledger records the current and immediately-previous disengagement reason.
// The grant gating on record/clear lives on State; the ledger is storage
// plus the re-engagement rule.
type ledger struct {
	current  types.Reason
	previous types.Reason
}

func (l *ledger) reset() {
	l.current = types.ReasonNone
	l.previous = types.ReasonNone
}

// push rotates current into previous and installs r as the current reason.
func (l *ledger) push(r types.Reason) {
	l.previous = l.current
	l.current = r
}

// canReEngage reports whether the current reason permits a new grant.
// BRAKE is the one reason that actively blocks: it clears only once the
// brake is released while the brake-disengage policy is active. Every other
// reason defers to the request latch.
func (l *ledger) canReEngage(braking, disengageOnBrake bool) bool {
	if l.current == types.ReasonBrake {
		return !braking && disengageOnBrake
	}
	return true
}
