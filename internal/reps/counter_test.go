package reps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
)

func TestCounter_Modern24_AdvancesOnWorkingDone(t *testing.T) {
	c := New()

	ev, ok := c.OnNotification(model.RepNotification{Shape: model.RepModern24, WarmupDone: 2, WorkingDone: 1})
	require.True(t, ok)
	assert.Equal(t, 2, ev.WarmupDone)
	assert.Equal(t, 1, ev.WorkingDone)

	ev, ok = c.OnNotification(model.RepNotification{Shape: model.RepModern24, WarmupDone: 2, WorkingDone: 3})
	require.True(t, ok)
	assert.Equal(t, 3, ev.WorkingDone)
}

func TestCounter_Modern24_DoesNotDecrease(t *testing.T) {
	c := New()
	_, _ = c.OnNotification(model.RepNotification{Shape: model.RepModern24, WorkingDone: 5})

	_, ok := c.OnNotification(model.RepNotification{Shape: model.RepModern24, WorkingDone: 3})
	assert.False(t, ok, "a stale/out-of-order notification must not regress the count")
}

func TestCounter_Modern24_WarmupNeverBleedsIntoWorking(t *testing.T) {
	c := New()
	ev, ok := c.OnNotification(model.RepNotification{Shape: model.RepModern24, WarmupDone: 4, WorkingDone: 0})
	require.True(t, ok)
	assert.Equal(t, 4, ev.WarmupDone)
	assert.Equal(t, 0, ev.WorkingDone)
}

// TestCounter_Legacy6_MonotonicComplete documents one of the two
// legacy-6 interpretations this counter surfaces: "complete" is read as
// a monotonically increasing total-rep counter, matching the modern
// shape's semantics. The alternative reading (complete as a per-set
// counter that can legitimately reset to zero at a new set boundary) is
// not handled here; see DESIGN.md for why this interpretation was
// chosen and how the ambiguity is surfaced.
func TestCounter_Legacy6_MonotonicComplete(t *testing.T) {
	c := New()

	ev, ok := c.OnNotification(model.RepNotification{Shape: model.RepLegacy6, Top: 5, Complete: 3})
	require.True(t, ok)
	assert.Equal(t, 3, ev.WorkingDone)
	assert.Equal(t, model.RepLegacy6, ev.Source)

	_, ok = c.OnNotification(model.RepNotification{Shape: model.RepLegacy6, Top: 5, Complete: 3})
	assert.False(t, ok, "an unchanged complete count must not re-fire")

	ev, ok = c.OnNotification(model.RepNotification{Shape: model.RepLegacy6, Top: 6, Complete: 4})
	require.True(t, ok)
	assert.Equal(t, 4, ev.WorkingDone)
}

func TestCounter_Reset_ClearsCountsNotRange(t *testing.T) {
	c := New()
	c.SetTrackingActive(true)
	c.UpdatePositionRanges(10, 10)
	_, _ = c.OnNotification(model.RepNotification{Shape: model.RepModern24, WorkingDone: 5})

	c.Reset()

	ev, ok := c.OnNotification(model.RepNotification{Shape: model.RepModern24, WorkingDone: 1})
	require.True(t, ok)
	assert.Equal(t, 1, ev.WorkingDone, "counts must restart after Reset")

	_, maxA, _, _, ok := c.PositionRange()
	require.True(t, ok, "range tracking survives Reset")
	assert.InDelta(t, 10.0, maxA, 0.0001)
}

func TestCounter_PositionRange_IgnoredWhileTrackingInactive(t *testing.T) {
	c := New()
	c.UpdatePositionRanges(10, 10)
	_, _, _, _, ok := c.PositionRange()
	assert.False(t, ok)
}

func TestCounter_PositionRange_ExpandsEnvelope(t *testing.T) {
	c := New()
	c.SetTrackingActive(true)
	c.UpdatePositionRanges(10, 20)
	c.UpdatePositionRanges(2, 30)
	c.UpdatePositionRanges(15, 5)

	minA, maxA, minB, maxB, ok := c.PositionRange()
	require.True(t, ok)
	assert.InDelta(t, 2.0, minA, 0.0001)
	assert.InDelta(t, 15.0, maxA, 0.0001)
	assert.InDelta(t, 5.0, minB, 0.0001)
	assert.InDelta(t, 30.0, maxB, 0.0001)
}

func TestCounter_InDangerZone_BottomFivePercent(t *testing.T) {
	c := New()
	c.SetTrackingActive(true)
	c.UpdatePositionRanges(0, 0)
	c.UpdatePositionRanges(100, 100)

	assert.True(t, c.InDangerZone(1, 1), "within the bottom 5% of a 0-100 range")
	assert.False(t, c.InDangerZone(50, 50), "mid-range is not a danger zone")
}

func TestCounter_InDangerZone_FalseWithoutRange(t *testing.T) {
	c := New()
	assert.False(t, c.InDangerZone(0, 0))
}
