package handle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
)

func restMetric() model.WorkoutMetric {
	var m model.WorkoutMetric
	m.PosAmm, m.PosBmm = 1.0, 1.0
	m.VelAmmps, m.VelBmmps = 0, 0
	return m
}

func grabMetric() model.WorkoutMetric {
	var m model.WorkoutMetric
	m.PosAmm, m.PosBmm = 20.0, 20.0
	m.VelAmmps, m.VelBmmps = 120.0, 120.0
	return m
}

// TestDetector_SustainedGrabTriggersAutoStart verifies that, at rest
// with auto-start armed, the handle arms into Released, then a
// sustained grab (above both the position and velocity thresholds for
// the full 200ms hysteresis window) flips it to Grabbed.
func TestDetector_SustainedGrabTriggersAutoStart(t *testing.T) {
	d := New()
	require.Equal(t, model.HandleWaitingForRest, d.State())

	det := d.Update(restMetric(), true)
	assert.Equal(t, model.HandleReleased, det.State)

	det = d.Update(grabMetric(), true)
	assert.Equal(t, model.HandleReleased, det.State, "grab must sustain before flipping")

	time.Sleep(grabSustainDuration + 50*time.Millisecond)

	det = d.Update(grabMetric(), true)
	assert.Equal(t, model.HandleGrabbed, det.State)
}

func TestDetector_AutoStart_GrabReleasedEarly_DoesNotArm(t *testing.T) {
	d := New()
	d.Update(restMetric(), true)

	det := d.Update(grabMetric(), true)
	assert.Equal(t, model.HandleReleased, det.State)

	// Released before the sustain window elapses: must not flip.
	det = d.Update(restMetric(), true)
	assert.Equal(t, model.HandleReleased, det.State)
}

func TestDetector_Grabbed_To_Released_OnRest(t *testing.T) {
	d := New()
	d.Update(restMetric(), true)
	d.Update(grabMetric(), true)
	time.Sleep(grabSustainDuration + 50*time.Millisecond)
	det := d.Update(grabMetric(), true)
	require.Equal(t, model.HandleGrabbed, det.State)

	det = d.Update(restMetric(), true)
	assert.Equal(t, model.HandleReleased, det.State)
}

// TestDetector_NotAutoStart_GrabIsImmediate covers the tracking-only mode
// used once a workout is already active: arm into Released the normal
// way, then feed updates with forAutoStart=false, which tracks
// Released<->Grabbed directly with no sustain hysteresis.
func TestDetector_NotAutoStart_GrabIsImmediate(t *testing.T) {
	d := New()
	d.Update(restMetric(), true)
	require.Equal(t, model.HandleReleased, d.State())

	det := d.Update(grabMetric(), false)
	assert.Equal(t, model.HandleGrabbed, det.State)

	det = d.Update(restMetric(), false)
	assert.Equal(t, model.HandleReleased, det.State)
}

func TestDetector_Disable_StopsTransitions(t *testing.T) {
	d := New()
	d.Disable()
	require.Equal(t, model.HandleDisabled, d.State())

	det := d.Update(grabMetric(), true)
	assert.Equal(t, model.HandleDisabled, det.State)

	det = d.Update(restMetric(), true)
	assert.Equal(t, model.HandleDisabled, det.State, "disabled detector ignores all input")
}

func TestDetector_ResetToWaitingForRest_FromGrabbed(t *testing.T) {
	d := New()
	d.Update(restMetric(), true)
	d.Update(grabMetric(), true)
	time.Sleep(grabSustainDuration + 50*time.Millisecond)
	d.Update(grabMetric(), true)
	require.Equal(t, model.HandleGrabbed, d.State())

	d.ResetToWaitingForRest()
	assert.Equal(t, model.HandleWaitingForRest, d.State())
}

func TestDetector_Snapshot_TracksMaxPosAndVel(t *testing.T) {
	d := New()
	d.Update(restMetric(), true)
	det := d.Update(grabMetric(), true)
	assert.InDelta(t, 20.0, det.MaxPos, 0.001)
	assert.InDelta(t, 120.0, det.MaxVel, 0.001)
}
