package mads

import "mads-go/types"

// boolSignal tracks one boolean input: the value seen on the previous tick
// and the transition computed on the most recent committed tick.
type boolSignal struct {
	previous   bool
	transition types.Transition
}

func (s *boolSignal) update(v bool) types.Transition {
	tr := Edge(v, s.previous)
	s.transition = tr
	s.previous = v
	return tr
}

func (s *boolSignal) reset() {
	s.previous = false
	s.transition = types.TransitionNone
}

// buttonSignal tracks one tri-state button. An Unavailable sample commits
// nothing: previous and transition keep their values, and the tick sees no
// edge.
type buttonSignal struct {
	previous   types.ButtonState
	transition types.Transition
}

func (s *buttonSignal) update(v types.ButtonState) types.Transition {
	if v == types.ButtonUnavailable {
		return types.TransitionNone
	}
	tr := Edge(v == types.ButtonPressed, s.previous == types.ButtonPressed)
	s.transition = tr
	s.previous = v
	return tr
}

func (s *buttonSignal) reset() {
	s.previous = types.ButtonUnavailable
	s.transition = types.TransitionNone
}
