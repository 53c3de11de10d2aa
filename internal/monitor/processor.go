// Package monitor implements the validation, clamping, and smoothing
// pipeline that turns raw MonitorPacket frames into validated
// WorkoutMetric records.
package monitor

import (
	"sync"
	"time"

	"trainer-core/internal/model"
)

// Callbacks are the status-flag routing hooks for ROM violations and
// deload events — plain function values supplied at construction rather
// than pointers bound to a shared mutable manager.
type Callbacks struct {
	OnRomViolation   func(dir model.Direction)
	OnDeloadOccurred func()
}

// Processor runs a seven-stage validation/smoothing pipeline, instance
// by instance with no shared mutable global state.
type Processor struct {
	minPosition           float64
	maxPosition           float64
	maxWeightKg           float64
	jumpThresholdMM       float64
	strictValidation      bool
	alpha                 float64
	deloadDebounce        time.Duration

	callbacks Callbacks

	mu sync.Mutex

	haveLastGoodA, haveLastGoodB bool
	lastGoodA, lastGoodB         float64
	previousA, previousB         float64
	haveEMAA, haveEMAB           bool
	emaA, emaB                   float64
	lastWasFiltered              bool
	lastDeloadAt                 time.Time
	firstSample                  bool
}

// New constructs a Processor with the thresholds from the config
// layer's Safety settings.
func New(minPosition, maxPosition, maxWeightKg, jumpThresholdMM, alpha float64, strictValidation bool, deloadDebounce time.Duration, cb Callbacks) *Processor {
	return &Processor{
		minPosition:      minPosition,
		maxPosition:      maxPosition,
		maxWeightKg:      maxWeightKg,
		jumpThresholdMM:  jumpThresholdMM,
		strictValidation: strictValidation,
		alpha:            alpha,
		deloadDebounce:   deloadDebounce,
		callbacks:        cb,
		firstSample:      true,
	}
}

// Reset clears session-scoped state between workouts: the jump-check
// position baseline, velocity EMA, first-sample flag, and filtered-flag
// are cleared; last-good positions, last-deload time, and the
// strict-validation toggle are preserved. The processor keeps no
// notification counter, so there is none to clear.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previousA, p.previousB = 0, 0
	p.haveEMAA, p.haveEMAB = false, false
	p.emaA, p.emaB = 0, 0
	p.firstSample = true
	p.lastWasFiltered = false
}

// Process runs one MonitorPacket through the pipeline, returning the
// validated WorkoutMetric and true, or false if the sample produced no
// metric (dropped by validation).
func (p *Processor) Process(pkt model.MonitorPacket) (model.WorkoutMetric, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	posA, posB := float64(pkt.PosAmm), float64(pkt.PosBmm)

	// Stage 1: position clamp using last known good values.
	clampedA := p.clamp(posA, p.lastGoodA, p.haveLastGoodA)
	clampedB := p.clamp(posB, p.lastGoodB, p.haveLastGoodB)
	if p.inRange(posA) {
		p.lastGoodA, p.haveLastGoodA = posA, true
	}
	if p.inRange(posB) {
		p.lastGoodB, p.haveLastGoodB = posB, true
	}

	// Stage 2: status-flag processing.
	p.processStatusFlags(pkt.Status)

	// Stage 3/4: sample validation. previous_position_a/b (used for the
	// jump check) only advances when a sample is accepted below — it is
	// a different tracker from last_good_a/b above, which already
	// advanced unconditionally for every in-range sample. Advancing
	// previous_position on a rejected spike is the Issue #210 bug: the
	// next, otherwise-good sample would then be measured against the
	// spike itself and get rejected too, cascading indefinitely.
	firstSample := p.firstSample

	if !p.inRange(clampedA) || !p.inRange(clampedB) {
		p.lastWasFiltered = true
		return model.WorkoutMetric{}, false
	}
	if float64(pkt.LoadAkg) < 0 || float64(pkt.LoadAkg) > p.maxWeightKg ||
		float64(pkt.LoadBkg) < 0 || float64(pkt.LoadBkg) > p.maxWeightKg {
		p.lastWasFiltered = true
		return model.WorkoutMetric{}, false
	}
	if p.strictValidation && !firstSample {
		if absf(clampedA-p.previousA) > p.jumpThresholdMM || absf(clampedB-p.previousB) > p.jumpThresholdMM {
			p.lastWasFiltered = true
			return model.WorkoutMetric{}, false
		}
	}
	p.previousA, p.previousB = clampedA, clampedB
	p.firstSample = false

	// Stage 5: firmware-provided velocity is authoritative, scaled
	// deci-mm/s -> mm/s.
	velA := float64(pkt.FwVelA) / 10.0
	velB := float64(pkt.FwVelB) / 10.0

	// Stage 6: EMA smoothing, independently per cable.
	wasFiltered := p.lastWasFiltered
	smoothedA := p.smoothVelocity(velA, wasFiltered, &p.haveEMAA, &p.emaA)
	smoothedB := p.smoothVelocity(velB, wasFiltered, &p.haveEMAB, &p.emaB)
	p.lastWasFiltered = false

	// Stage 7: construct WorkoutMetric.
	metric := model.WorkoutMetric{
		MonitorPacket: pkt,
		VelAmmps:      smoothedA,
		VelBmmps:      smoothedB,
		TimestampMs:   time.Now().UnixMilli(),
	}
	metric.MonitorPacket.PosAmm = float32(clampedA)
	metric.MonitorPacket.PosBmm = float32(clampedB)

	return metric, true
}

func (p *Processor) clamp(pos, lastGood float64, haveLastGood bool) float64 {
	if p.inRange(pos) {
		return pos
	}
	if haveLastGood {
		return lastGood
	}
	return pos
}

func (p *Processor) inRange(pos float64) bool {
	return pos >= p.minPosition && pos <= p.maxPosition
}

func (p *Processor) processStatusFlags(status uint16) {
	if status&model.StatusOutsideHigh != 0 && p.callbacks.OnRomViolation != nil {
		p.callbacks.OnRomViolation(model.DirectionOutsideHigh)
	}
	if status&model.StatusOutsideLow != 0 && p.callbacks.OnRomViolation != nil {
		p.callbacks.OnRomViolation(model.DirectionOutsideLow)
	}
	if status&model.StatusDeloadOccurred != 0 {
		now := time.Now()
		if now.Sub(p.lastDeloadAt) >= p.deloadDebounce {
			p.lastDeloadAt = now
			if p.callbacks.OnDeloadOccurred != nil {
				p.callbacks.OnDeloadOccurred()
			}
		}
	}
}

// smoothVelocity applies stage 6 for one cable's EMA state: skip the
// update if the last sample was filtered, seed on first real sample,
// else apply the EMA. Each cable carries its own seed/EMA pair since
// both channels are smoothed independently.
func (p *Processor) smoothVelocity(raw float64, wasFiltered bool, have *bool, ema *float64) float64 {
	if wasFiltered {
		return *ema
	}
	if !*have {
		*ema = raw
		*have = true
		return *ema
	}
	*ema = p.alpha*raw + (1-p.alpha)**ema
	return *ema
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
