package mads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mads-go/types"
)

// tick is shorthand for the common case with no buttons posted.
func tick(s *State, mainCruise, brake, long, moving bool) {
	s.Tick(Inputs{
		VehicleMoving:       moving,
		MainCruise:          mainCruise,
		BrakePressed:        brake,
		LongitudinalAllowed: long,
	})
}

// engageViaMain drives a fresh state to ACTIVE through a main-cruise rising
// edge.
func engageViaMain(t *testing.T, s *State) {
	t.Helper()
	tick(s, false, false, false, false)
	tick(s, true, false, false, false)
	require.True(t, s.LateralAllowed())
	require.Equal(t, types.ReasonNone, s.DisengageReason())
}

func TestMainEngages(t *testing.T) {
	s := New(true, true)
	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed())

	tick(s, true, false, false, false)
	assert.True(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonNone, s.DisengageReason())
	assert.Equal(t, types.SubstateActive, s.Substate())
}

func TestMainDisengages(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)

	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonACCMainOff, s.DisengageReason())
	assert.False(t, s.Snapshot().RequestedLat)
	assert.Equal(t, types.SubstateIdle, s.Substate())
}

func TestBrakeWhileMovingDisengagesReleaseReEngages(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)

	tick(s, true, true, false, true)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonBrake, s.DisengageReason())

	// The release tick itself re-engages: the request latch was never
	// retracted and the BRAKE gate reads this tick's brake sample.
	tick(s, true, false, false, true)
	assert.True(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonNone, s.DisengageReason())
	assert.Equal(t, types.ReasonBrake, s.PreviousDisengageReason())
}

func TestBrakeHeldAtStandstillDoesNotRetrigger(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)

	tick(s, true, true, false, false)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonBrake, s.DisengageReason())
	first := s.Snapshot()

	// Identical tick: no fresh press, not moving, so no re-trigger and no
	// state drift of any kind.
	tick(s, true, true, false, false)
	assert.Equal(t, first, s.Snapshot())
}

func TestToggleCycle(t *testing.T) {
	s := New(true, true)

	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, false, false, false, false)
	assert.True(t, s.LateralAllowed(), "press engages")

	s.SetSteeringToggle(types.ButtonNotPressed)
	tick(s, false, false, false, false)
	assert.True(t, s.LateralAllowed(), "release is not an edge that matters")

	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed(), "second press disengages")
	assert.Equal(t, types.ReasonButton, s.DisengageReason())
	assert.Equal(t, types.SubstateIdle, s.Substate())
}

func TestMainButtonTogglesLikeSteeringToggle(t *testing.T) {
	s := New(true, true)

	s.SetMainButton(types.ButtonPressed)
	tick(s, false, false, false, false)
	assert.True(t, s.LateralAllowed())

	s.SetMainButton(types.ButtonNotPressed)
	tick(s, false, false, false, false)
	s.SetMainButton(types.ButtonPressed)
	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonButton, s.DisengageReason())
}

func TestLagInjectionRecoveredByMainEdge(t *testing.T) {
	s := New(true, true)

	// Engage via toggle so main can still produce a rising edge later.
	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, false, false, false, false)
	require.True(t, s.LateralAllowed())

	s.ForceDisengage(types.ReasonLag)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonLag, s.DisengageReason())

	s.SetSteeringToggle(types.ButtonNotPressed)
	tick(s, true, false, false, false)
	assert.True(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonNone, s.DisengageReason())
	assert.Equal(t, types.ReasonLag, s.PreviousDisengageReason())
}

func TestLongitudinalRisingRequestsLateral(t *testing.T) {
	s := New(true, true)
	tick(s, false, false, false, false)
	tick(s, false, false, true, false)
	assert.True(t, s.LateralAllowed())
}

// ---- Universal properties ----

func TestDisabledNeverAllows(t *testing.T) {
	s := New(false, true)
	assert.Equal(t, types.SubstateDisabled, s.Substate())

	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, true, false, true, false)
	tick(s, true, false, true, true)
	assert.False(t, s.LateralAllowed())
	assert.False(t, s.Snapshot().AllowedLat, "the grant bit itself stays false while disabled")

	s.Reset(true, true)
	tick(s, false, false, false, false)
	tick(s, true, false, false, false)
	assert.True(t, s.LateralAllowed())
}

func TestIdenticalTicksAreIdempotent(t *testing.T) {
	s := New(true, true)
	seq := []Inputs{
		{MainCruise: true},
		{MainCruise: true, BrakePressed: true, VehicleMoving: true},
		{MainCruise: true, BrakePressed: true, VehicleMoving: true},
		{MainCruise: true, VehicleMoving: true},
		{VehicleMoving: true},
	}
	for _, in := range seq {
		s.Tick(in)
		// A repeated sample is not an edge, so the tracked last transitions
		// read none after the second tick; nothing else may change.
		want := s.Snapshot()
		want.MainCruise.LastTransition = types.TransitionNone
		want.Longitudinal.LastTransition = types.TransitionNone
		s.Tick(in)
		assert.Equal(t, want, s.Snapshot(), "inputs %+v", in)
	}
}

func TestFreshBrakePressWhileMovingBlocksGrant(t *testing.T) {
	// Boundary: main rises on the same tick the brake rises while moving.
	// The grant is issued and immediately revoked with BRAKE recorded.
	s := New(true, true)
	tick(s, false, false, false, true)
	tick(s, true, true, false, true)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonBrake, s.DisengageReason())
}

func TestBrakeReasonBlocksUntilRelease(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)
	tick(s, true, true, false, true)
	require.Equal(t, types.ReasonBrake, s.DisengageReason())

	for i := 0; i < 5; i++ {
		tick(s, true, true, false, true)
		assert.False(t, s.LateralAllowed(), "tick %d", i)
	}
	tick(s, true, false, false, true)
	assert.True(t, s.LateralAllowed())
}

func TestSimultaneousMainOffAndTogglePressStaysDisengaged(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)

	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonACCMainOff, s.DisengageReason(), "first cause wins")
	assert.False(t, s.Snapshot().RequestedLat)
}

func TestToggleIsInvolutiveOnRequestLatch(t *testing.T) {
	s := New(true, true)
	start := s.Snapshot().RequestedLat

	press := func() {
		s.SetSteeringToggle(types.ButtonPressed)
		tick(s, false, false, false, false)
		s.SetSteeringToggle(types.ButtonNotPressed)
		tick(s, false, false, false, false)
	}
	press()
	press()
	assert.Equal(t, start, s.Snapshot().RequestedLat)
}

func TestUnavailableToggleCommitsNothing(t *testing.T) {
	s := New(true, true)
	s.SetSteeringToggle(types.ButtonPressed)
	tick(s, false, false, false, false)
	before := s.Snapshot().SteeringToggle

	s.SetSteeringToggle(types.ButtonUnavailable)
	tick(s, false, false, false, false)
	assert.Equal(t, before, s.Snapshot().SteeringToggle)
	assert.True(t, s.LateralAllowed(), "an unavailable sample must not re-toggle")
}

func TestOutOfRangeButtonTreatedAsUnavailable(t *testing.T) {
	s := New(true, true)
	s.SetSteeringToggle(types.ButtonState(42))
	tick(s, false, false, false, false)
	assert.False(t, s.LateralAllowed())
	assert.Zero(t, s.Snapshot().StateFlags)
}

func TestPolicyOffBrakeNeverDisengages(t *testing.T) {
	s := New(true, false)
	engageViaMain(t, s)

	tick(s, true, true, false, true)
	assert.True(t, s.LateralAllowed())
	assert.Equal(t, types.ReasonNone, s.DisengageReason())
}

func TestBrakeHeldBeforeRequestAtStandstill(t *testing.T) {
	// A brake that was already held at a standstill is not a fresh press,
	// so engaging via main succeeds.
	s := New(true, true)
	tick(s, false, true, false, false)
	tick(s, true, true, false, false)
	assert.True(t, s.LateralAllowed())
}

// ---- Lifecycle and configuration ----

func TestNewFromFlags(t *testing.T) {
	s := NewFromFlags(FlagEnableMADS)
	snap := s.Snapshot()
	assert.True(t, snap.SystemEnabled)
	assert.True(t, snap.DisengageLateralOnBrake)

	s = NewFromFlags(FlagEnableMADS | FlagDisableDisengageLateralOnBrake)
	snap = s.Snapshot()
	assert.True(t, snap.SystemEnabled)
	assert.False(t, snap.DisengageLateralOnBrake)

	s = NewFromFlags(0)
	assert.False(t, s.Snapshot().SystemEnabled)
}

func TestResetDiscardsEverything(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)
	s.SetMainButton(types.ButtonPressed)
	tick(s, true, true, false, true)
	require.NotEqual(t, types.ReasonNone, s.DisengageReason())

	s.Reset(true, true)
	snap := s.Snapshot()
	assert.False(t, snap.AllowedLat)
	assert.False(t, snap.RequestedLat)
	assert.Equal(t, types.ReasonNone, snap.CurrentReason)
	assert.Equal(t, types.ReasonNone, snap.PreviousReason)
	assert.Zero(t, snap.StateFlags)
	assert.Equal(t, types.SubstateIdle, snap.Substate)
}

func TestStateFlagsTrackExposedButtons(t *testing.T) {
	s := New(true, true)
	assert.Equal(t, StateFlagDefault, s.Snapshot().StateFlags)

	s.SetMainButton(types.ButtonNotPressed)
	assert.Equal(t, StateFlagMainButtonAvailable, s.Snapshot().StateFlags)

	s.SetSteeringToggle(types.ButtonPressed)
	assert.Equal(t, StateFlagMainButtonAvailable|StateFlagSteeringToggleAvailable, s.Snapshot().StateFlags)
}

func TestForceDisengageOnDisengagedStateIsNoop(t *testing.T) {
	s := New(true, true)
	engageViaMain(t, s)
	s.ForceDisengage(types.ReasonButton)
	require.Equal(t, types.ReasonButton, s.DisengageReason())

	// The first cause wins; a second reason cannot be layered on.
	s.ForceDisengage(types.ReasonLag)
	assert.Equal(t, types.ReasonButton, s.DisengageReason())
	assert.Equal(t, types.ReasonNone, s.PreviousDisengageReason())
}
