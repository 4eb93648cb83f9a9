// Package mads holds the lateral-control arbitration core: a single-writer
// state machine, updated once per control tick, that decides whether
// automated steering may act independently of longitudinal control.
//
// Every operation is total and constant-time; nothing here blocks,
// allocates, or fails. One producer mutates the state (SetX + Tick), any
// number of readers may call LateralAllowed.
package mads

import "mads-go/types"

// Safety-harness bitmask, consumed once at init.
const (
	FlagEnableMADS                     uint32 = 1024
	FlagDisableDisengageLateralOnBrake uint32 = 2048
)

// State-flag bitset: which optional controls the vehicle has exposed so far.
const (
	StateFlagDefault                 uint32 = 0
	StateFlagReserved                uint32 = 1
	StateFlagMainButtonAvailable     uint32 = 2
	StateFlagSteeringToggleAvailable uint32 = 4
)

// Inputs are the pre-validated booleans sampled for one tick. They are
// passed by value: the arbiter keeps copies of anything it needs across
// ticks, never pointers into producer memory.
type Inputs struct {
	VehicleMoving       bool
	MainCruise          bool
	BrakePressed        bool
	LongitudinalAllowed bool
}

// State is the MADS arbitration state machine. Construct with New or
// NewFromFlags; mutate only from the single tick producer.
type State struct {
	systemEnabled           bool
	disengageLateralOnBrake bool
	stateFlags              uint32

	mainCruise     boolSignal
	longitudinal   boolSignal
	steeringToggle buttonSignal
	mainButton     buttonSignal

	// Samples posted by the producer-side setters, consumed on the next Tick.
	steeringSample types.ButtonState
	mainSample     types.ButtonState

	controlsRequestedLat bool
	controlsAllowedLat   bool

	reasons   ledger
	isBraking bool
}

func New(enabled, disengageLateralOnBrake bool) *State {
	s := &State{}
	s.Reset(enabled, disengageLateralOnBrake)
	return s
}

// NewFromFlags builds a State from the harness bitmask: MADS is enabled by
// FlagEnableMADS, and the brake-disengage policy is on unless
// FlagDisableDisengageLateralOnBrake is set.
func NewFromFlags(flags uint32) *State {
	return New(flags&FlagEnableMADS != 0, flags&FlagDisableDisengageLateralOnBrake == 0)
}

// Reset discards all prior state and re-applies configuration. Safe to call
// at any time from the tick producer.
func (s *State) Reset(enabled, disengageLateralOnBrake bool) {
	s.systemEnabled = enabled
	s.disengageLateralOnBrake = disengageLateralOnBrake
	s.stateFlags = StateFlagDefault

	s.mainCruise.reset()
	s.longitudinal.reset()
	s.steeringToggle.reset()
	s.mainButton.reset()
	s.steeringSample = types.ButtonUnavailable
	s.mainSample = types.ButtonUnavailable

	s.controlsRequestedLat = false
	s.controlsAllowedLat = false
	s.reasons.reset()
	s.isBraking = false
}

// SetSteeringToggle posts the sampled steering (LKAS) button value for the
// next Tick. Out-of-range values are treated as Unavailable.
func (s *State) SetSteeringToggle(b types.ButtonState) {
	if !b.IsValid() {
		b = types.ButtonUnavailable
	}
	if b != types.ButtonUnavailable {
		s.stateFlags |= StateFlagSteeringToggleAvailable
	}
	s.steeringSample = b
}

// SetMainButton posts the sampled main-button value for the next Tick.
func (s *State) SetMainButton(b types.ButtonState) {
	if !b.IsValid() {
		b = types.ButtonUnavailable
	}
	if b != types.ButtonUnavailable {
		s.stateFlags |= StateFlagMainButtonAvailable
	}
	s.mainSample = b
}

// Tick runs one arbitration update. Order matters:
//
//  1. commit edges for every tracked signal
//  2. request-latch rules, in priority order
//  3. grant attempt
//  4. brake policy, then commit is_braking
//
// The grant attempt runs before the brake policy so that a tick where a
// request edge and a fresh brake press coincide ends disengaged with the
// BRAKE reason recorded against the just-issued grant; the BRAKE
// re-engagement gate reads this tick's brake sample, so the release tick
// itself may re-engage.
func (s *State) Tick(in Inputs) {
	mainTr := s.mainCruise.update(in.MainCruise)
	longTr := s.longitudinal.update(in.LongitudinalAllowed)
	mainBtnTr := s.mainButton.update(s.mainSample)
	toggleTr := s.steeringToggle.update(s.steeringSample)

	// Toggle presses compare against the grant as of tick entry, so a
	// simultaneous ACC-main-off keeps the state disengaged.
	allowedAtEntry := s.controlsAllowedLat

	if mainTr == types.TransitionRising {
		s.controlsRequestedLat = true
	}
	if mainTr == types.TransitionFalling {
		s.controlsRequestedLat = false
		s.record(types.ReasonACCMainOff)
	}
	if mainBtnTr == types.TransitionRising {
		s.toggleRequest(allowedAtEntry)
	}
	if toggleTr == types.TransitionRising {
		s.toggleRequest(allowedAtEntry)
	}
	if longTr == types.TransitionRising {
		s.controlsRequestedLat = true
	}

	// Grant attempt.
	if s.systemEnabled && s.controlsRequestedLat && !s.controlsAllowedLat &&
		s.reasons.canReEngage(in.BrakePressed, s.disengageLateralOnBrake) {
		s.controlsAllowedLat = true
		s.reasons.push(types.ReasonNone)
	}

	// Brake policy: a fresh press, or any braking while moving, disengages.
	// A brake held at a standstill does not re-trigger.
	wasBraking := s.isBraking
	if in.BrakePressed && (!wasBraking || in.VehicleMoving) && s.disengageLateralOnBrake {
		s.record(types.ReasonBrake)
	}
	s.isBraking = in.BrakePressed
}

// toggleRequest applies one toggle press: the request latch flips to the
// inverse of the grant held at tick entry, and a press that turns an active
// system off records the BUTTON reason.
func (s *State) toggleRequest(wasAllowed bool) {
	s.controlsRequestedLat = !wasAllowed
	if wasAllowed {
		s.record(types.ReasonButton)
	}
}

// record revokes the grant with reason r. On an already-disengaged state it
// does nothing: the first cause wins until re-engagement clears it.
func (s *State) record(r types.Reason) {
	if !s.controlsAllowedLat {
		return
	}
	s.reasons.push(r)
	s.controlsAllowedLat = false
}

// ForceDisengage is the out-of-band entry for harness-detected conditions
// (e.g. ReasonLag on stale frames).
func (s *State) ForceDisengage(r types.Reason) {
	s.record(r)
}

// LateralAllowed is the consumer query: the arbiter's verdict for this tick.
func (s *State) LateralAllowed() bool {
	return s.systemEnabled && s.controlsAllowedLat
}

func (s *State) DisengageReason() types.Reason         { return s.reasons.current }
func (s *State) PreviousDisengageReason() types.Reason { return s.reasons.previous }

// Substate derives the lifecycle state for telemetry.
func (s *State) Substate() types.Substate {
	switch {
	case !s.systemEnabled:
		return types.SubstateDisabled
	case s.controlsAllowedLat:
		return types.SubstateActive
	case s.controlsRequestedLat:
		return types.SubstateRequested
	default:
		return types.SubstateIdle
	}
}

// Snapshot returns a value copy of the full state for telemetry and the
// console. Not for gating; consumers gate on LateralAllowed.
func (s *State) Snapshot() types.Snapshot {
	return types.Snapshot{
		SystemEnabled:           s.systemEnabled,
		DisengageLateralOnBrake: s.disengageLateralOnBrake,
		RequestedLat:            s.controlsRequestedLat,
		AllowedLat:              s.controlsAllowedLat,
		CurrentReason:           s.reasons.current,
		PreviousReason:          s.reasons.previous,
		IsBraking:               s.isBraking,
		Substate:                s.Substate(),
		StateFlags:              s.stateFlags,
		MainCruise: types.SignalState{
			Previous:       s.mainCruise.previous,
			LastTransition: s.mainCruise.transition,
		},
		Longitudinal: types.SignalState{
			Previous:       s.longitudinal.previous,
			LastTransition: s.longitudinal.transition,
		},
		SteeringToggle: types.ButtonSignalState{
			Previous:       s.steeringToggle.previous,
			LastTransition: s.steeringToggle.transition,
		},
		MainButton: types.ButtonSignalState{
			Previous:       s.mainButton.previous,
			LastTransition: s.mainButton.transition,
		},
	}
}
