// Package reps implements the dual-ingress rep counter: machine-
// originated rep notifications fused with a position-range fallback
// used primarily in just-lift mode.
package reps

import (
	"sync"
	"time"

	"trainer-core/internal/model"
)

// Counter fuses both ingress paths — machine-originated notifications
// and position-range tracking — into a single stream of RepEvent
// records.
type Counter struct {
	mu sync.Mutex

	lastWarmupDone, lastWorkingDone int
	lastLegacyComplete              int
	haveLegacy, haveModern          bool

	// Position-range envelope tracking, active while no workout runs.
	trackingActive       bool
	minA, maxA, minB, maxB float64
	haveRange              bool
}

// New constructs an empty Counter.
func New() *Counter {
	return &Counter{}
}

// Reset clears counting state for a new set, leaving range tracking
// untouched (it spans across sets in just-lift mode).
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastWarmupDone, c.lastWorkingDone, c.lastLegacyComplete = 0, 0, 0
	c.haveLegacy, c.haveModern = false, false
}

// OnNotification ingests a machine-originated RepNotification and
// returns a RepEvent if the counts advanced. Counts are monotonically
// non-decreasing within a set; warm-up never bleeds into working.
func (c *Counter) OnNotification(n model.RepNotification) (model.RepEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()

	switch n.Shape {
	case model.RepModern24:
		advanced := !c.haveModern || int(n.WorkingDone) > c.lastWorkingDone || int(n.WarmupDone) > c.lastWarmupDone
		if !advanced {
			return model.RepEvent{}, false
		}
		if int(n.WarmupDone) > c.lastWarmupDone {
			c.lastWarmupDone = int(n.WarmupDone)
		}
		if int(n.WorkingDone) > c.lastWorkingDone {
			c.lastWorkingDone = int(n.WorkingDone)
		}
		c.haveModern = true
		return model.RepEvent{
			WarmupDone:    c.lastWarmupDone,
			WarmupTarget:  int(n.WarmupTarget),
			WorkingDone:   c.lastWorkingDone,
			WorkingTarget: int(n.WorkingTarget),
			Source:        model.RepModern24,
			TimestampMs:   now,
		}, true

	default: // RepLegacy6 — an explicit fallback alongside modern events.
		if c.haveLegacy && int(n.Complete) <= c.lastLegacyComplete {
			return model.RepEvent{}, false
		}
		c.lastLegacyComplete = int(n.Complete)
		c.haveLegacy = true
		return model.RepEvent{
			WorkingDone: c.lastLegacyComplete,
			Source:      model.RepLegacy6,
			TimestampMs: now,
		}, true
	}
}

// SetTrackingActive toggles whether UpdatePositionRanges accumulates
// the envelope. It is active primarily while no scripted workout runs
// (just-lift mode).
func (c *Counter) SetTrackingActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackingActive = active
}

// UpdatePositionRanges builds a continuously-updated min/max envelope
// for each cable so a danger-zone check can reason about range of
// motion without relying on machine-reported reps, which the trainer
// often suppresses in just-lift mode.
func (c *Counter) UpdatePositionRanges(posA, posB float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.trackingActive {
		return
	}
	if !c.haveRange {
		c.minA, c.maxA, c.minB, c.maxB = posA, posA, posB, posB
		c.haveRange = true
		return
	}
	if posA < c.minA {
		c.minA = posA
	}
	if posA > c.maxA {
		c.maxA = posA
	}
	if posB < c.minB {
		c.minB = posB
	}
	if posB > c.maxB {
		c.maxB = posB
	}
}

// PositionRange returns the current observed envelope for both cables.
func (c *Counter) PositionRange() (minA, maxA, minB, maxB float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minA, c.maxA, c.minB, c.maxB, c.haveRange
}

// InDangerZone reports whether the given positions are within the
// bottom 5% of the observed range-of-motion envelope, used by the
// safety supervisor's position-based stop condition.
func (c *Counter) InDangerZone(posA, posB float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveRange {
		return false
	}
	spanA := c.maxA - c.minA
	spanB := c.maxB - c.minB
	thresholdA := c.minA + 0.05*spanA
	thresholdB := c.minB + 0.05*spanB
	return posA <= thresholdA && posB <= thresholdB
}
