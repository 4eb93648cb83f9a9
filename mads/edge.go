package mads

import "mads-go/types"

// Edge classifies the transition between two boolean samples taken on
// consecutive ticks. A press-and-release inside one tick yields
// TransitionNone; the producer is responsible for sampling faster than the
// button bounce time.
func Edge(current, previous bool) types.Transition {
	switch {
	case current && !previous:
		return types.TransitionRising
	case !current && previous:
		return types.TransitionFalling
	default:
		return types.TransitionNone
	}
}
