package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
)

func newTestProcessor(cb Callbacks) *Processor {
	return New(
		0, 1000, // min/max position mm
		120, // max weight kg
		20,  // jump threshold mm
		0.3, // EMA alpha
		true,
		2*time.Second, // deload debounce
		cb,
	)
}

// TestProcess_FirstSampleSeedsVelocityEMA verifies the first sample
// seeds the velocity EMA at the raw firmware value.
func TestProcess_FirstSampleSeedsVelocityEMA(t *testing.T) {
	p := newTestProcessor(Callbacks{})

	pkt := model.MonitorPacket{
		Ticks:   1,
		PosAmm:  10.0,
		PosBmm:  11.0,
		LoadAkg: 0.10,
		LoadBkg: 0.15,
		FwVelA:  800,
		FwVelB:  -544,
		Status:  0x0004,
	}

	metric, ok := p.Process(pkt)
	require.True(t, ok)
	assert.InDelta(t, 80.0, metric.VelAmmps, 0.0001)
	assert.InDelta(t, -54.4, metric.VelBmmps, 0.0001)
	assert.InDelta(t, 10.0, float64(metric.PosAmm), 0.0001)
}

// TestProcess_SinglePositionSpikeDoesNotCascade verifies a single spike
// (Issue #210) does not cascade into every following sample being
// filtered.
func TestProcess_SinglePositionSpikeDoesNotCascade(t *testing.T) {
	p := newTestProcessor(Callbacks{})

	_, ok := p.Process(model.MonitorPacket{PosAmm: 12.0, PosBmm: 12.0, FwVelA: 0, FwVelB: 0})
	require.True(t, ok)

	_, ok = p.Process(model.MonitorPacket{PosAmm: 200.0, PosBmm: 12.0, FwVelA: 0, FwVelB: 0})
	require.False(t, ok, "sample #2 (the spike) must be dropped")

	metric, ok := p.Process(model.MonitorPacket{PosAmm: 13.0, PosBmm: 12.0, FwVelA: 0, FwVelB: 0})
	require.True(t, ok, "sample #3 must NOT be cascaded into filtering")
	assert.InDelta(t, 13.0, float64(metric.PosAmm), 0.0001)
}

// TestProcess_DeloadDebounce verifies two deload-flagged packets
// processed back to back, well inside the 2s debounce this test setup
// configures, fire exactly one callback.
func TestProcess_DeloadDebounce(t *testing.T) {
	var deloadCount int
	p := newTestProcessor(Callbacks{OnDeloadOccurred: func() { deloadCount++ }})

	pkt := model.MonitorPacket{PosAmm: 10, PosBmm: 10, Status: model.StatusDeloadOccurred}
	_, _ = p.Process(pkt)
	_, _ = p.Process(pkt)

	assert.Equal(t, 1, deloadCount)
}

func TestProcess_PositionClamp(t *testing.T) {
	p := newTestProcessor(Callbacks{})

	_, ok := p.Process(model.MonitorPacket{PosAmm: 50, PosBmm: 50})
	require.True(t, ok)

	metric, ok := p.Process(model.MonitorPacket{PosAmm: 5000, PosBmm: 50})
	require.True(t, ok, "out-of-range position is clamped to last-good, not dropped")
	assert.InDelta(t, 50.0, float64(metric.PosAmm), 0.0001)
}

func TestProcess_LoadOutOfRange_SampleDropped(t *testing.T) {
	p := newTestProcessor(Callbacks{})
	_, ok := p.Process(model.MonitorPacket{PosAmm: 10, PosBmm: 10, LoadAkg: 999})
	assert.False(t, ok)
}

func TestProcess_RomViolationCallback(t *testing.T) {
	var dirs []model.Direction
	p := newTestProcessor(Callbacks{OnRomViolation: func(d model.Direction) { dirs = append(dirs, d) }})

	_, _ = p.Process(model.MonitorPacket{PosAmm: 10, PosBmm: 10, Status: model.StatusOutsideHigh})
	require.Len(t, dirs, 1)
	assert.Equal(t, model.DirectionOutsideHigh, dirs[0])
}

func TestReset_ClearsVelocityAndFirstSampleState(t *testing.T) {
	p := newTestProcessor(Callbacks{})

	_, _ = p.Process(model.MonitorPacket{PosAmm: 10, PosBmm: 10, FwVelA: 500})
	p.Reset()

	metric, ok := p.Process(model.MonitorPacket{PosAmm: 10, PosBmm: 10, FwVelA: 100})
	require.True(t, ok)
	assert.InDelta(t, 10.0, metric.VelAmmps, 0.0001, "seeded again after reset, not smoothed against stale EMA")
}
