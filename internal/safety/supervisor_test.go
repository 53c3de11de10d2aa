package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
	"trainer-core/internal/reps"
)

func TestSupervisor_StallDetected_AfterSustainedDuration(t *testing.T) {
	var reasons []string
	s := New(5.0, 10.0, 0.1, nil, func(reason string) { reasons = append(reasons, reason) })

	s.Evaluate(model.WorkoutMetric{VelAmmps: 1, VelBmmps: 1})
	assert.Empty(t, reasons, "stall must not fire before the sustain window elapses")

	time.Sleep(150 * time.Millisecond)
	s.Evaluate(model.WorkoutMetric{VelAmmps: 1, VelBmmps: 1})
	require.Len(t, reasons, 1)
	assert.Equal(t, "stall_detected", reasons[0])
}

func TestSupervisor_NoStallStop_WhenVelocityAboveThreshold(t *testing.T) {
	var reasons []string
	s := New(5.0, 10.0, 0.1, nil, func(reason string) { reasons = append(reasons, reason) })

	s.Evaluate(model.WorkoutMetric{VelAmmps: 1, VelBmmps: 1})
	time.Sleep(150 * time.Millisecond)
	s.Evaluate(model.WorkoutMetric{VelAmmps: 200, VelBmmps: 200})

	assert.Empty(t, reasons, "velocity recovering above threshold resets the stall timer")
}

func TestSupervisor_DangerZoneStop_AfterSustainedDuration(t *testing.T) {
	c := reps.New()
	c.SetTrackingActive(true)
	c.UpdatePositionRanges(0, 0)
	c.UpdatePositionRanges(100, 100)

	var reasons []string
	s := New(0, 0.1, 10.0, c, func(reason string) { reasons = append(reasons, reason) })

	dangerMetric := model.WorkoutMetric{VelAmmps: 200, VelBmmps: 200}
	dangerMetric.PosAmm, dangerMetric.PosBmm = 1, 1

	s.Evaluate(dangerMetric)
	assert.Empty(t, reasons, "danger zone must not fire before the sustain window elapses")

	time.Sleep(150 * time.Millisecond)
	s.Evaluate(dangerMetric)
	require.Len(t, reasons, 1)
	assert.Equal(t, "danger_zone", reasons[0])
}

func TestSupervisor_DangerZoneStop_ResetsWhenOutOfZone(t *testing.T) {
	c := reps.New()
	c.SetTrackingActive(true)
	c.UpdatePositionRanges(0, 0)
	c.UpdatePositionRanges(100, 100)

	var reasons []string
	s := New(0, 0.1, 10.0, c, func(reason string) { reasons = append(reasons, reason) })

	danger := model.WorkoutMetric{VelAmmps: 200, VelBmmps: 200}
	danger.PosAmm, danger.PosBmm = 1, 1
	mid := model.WorkoutMetric{VelAmmps: 200, VelBmmps: 200}
	mid.PosAmm, mid.PosBmm = 50, 50

	s.Evaluate(danger)
	s.Evaluate(mid)
	time.Sleep(150 * time.Millisecond)
	s.Evaluate(danger)

	assert.Empty(t, reasons, "leaving the danger zone mid-window resets its timer")
}

func TestSupervisor_Reset_ClearsTimers(t *testing.T) {
	var reasons []string
	s := New(5.0, 10.0, 0.1, nil, func(reason string) { reasons = append(reasons, reason) })

	s.Evaluate(model.WorkoutMetric{VelAmmps: 1, VelBmmps: 1})
	s.Reset()
	time.Sleep(150 * time.Millisecond)
	s.Evaluate(model.WorkoutMetric{VelAmmps: 1, VelBmmps: 1})

	assert.Empty(t, reasons, "Reset must restart the stall timer from zero")
}

func TestSupervisor_NilCounter_NoPanic(t *testing.T) {
	s := New(5.0, 10.0, 0.1, nil, nil)
	assert.NotPanics(t, func() {
		s.Evaluate(model.WorkoutMetric{VelAmmps: 200, VelBmmps: 200})
	})
}
