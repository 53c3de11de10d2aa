// Package safety implements the stall-detection and danger-zone
// auto-stop supervisor. ROM-violation and deload events are not handled
// here; internal/agent relays them to the event bus.
package safety

import (
	"sync"
	"time"

	"trainer-core/internal/model"
	"trainer-core/internal/reps"
)

// Supervisor consumes WorkoutMetric records (velocity and position;
// handle state is not an input) and decides when to trigger the stop
// choreography. ROM violations and deload events never reach it, so
// neither causes a stop here.
type Supervisor struct {
	stallVelocityLow    float64
	stallDuration       time.Duration
	autoStopDuration    time.Duration

	counter *reps.Counter

	mu               sync.Mutex
	stallSince       time.Time
	stalling         bool
	dangerZoneSince  time.Time
	inDangerZone     bool

	onStop func(reason string)
}

// New constructs a Supervisor with the given stall/danger-zone thresholds.
func New(stallVelocityLow, autoStopDurationSeconds, stallDurationSeconds float64, counter *reps.Counter, onStop func(reason string)) *Supervisor {
	return &Supervisor{
		stallVelocityLow: stallVelocityLow,
		stallDuration:    time.Duration(stallDurationSeconds * float64(time.Second)),
		autoStopDuration: time.Duration(autoStopDurationSeconds * float64(time.Second)),
		counter:          counter,
		onStop:           onStop,
	}
}

// Reset clears in-progress stall/danger-zone timers, used when a new
// workout starts.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalling = false
	s.inDangerZone = false
}

// Evaluate feeds one WorkoutMetric through both stop conditions. It
// calls onStop at most once per condition transition into "sustained".
func (s *Supervisor) Evaluate(m model.WorkoutMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxVel := maxf(absf(m.VelAmmps), absf(m.VelBmmps))
	now := time.Now()

	if maxVel < s.stallVelocityLow {
		if !s.stalling {
			s.stalling = true
			s.stallSince = now
		} else if now.Sub(s.stallSince) >= s.stallDuration {
			s.stalling = false
			if s.onStop != nil {
				s.onStop("stall_detected")
			}
			return
		}
	} else {
		s.stalling = false
	}

	if s.counter != nil && s.counter.InDangerZone(float64(m.PosAmm), float64(m.PosBmm)) {
		if !s.inDangerZone {
			s.inDangerZone = true
			s.dangerZoneSince = now
		} else if now.Sub(s.dangerZoneSince) >= s.autoStopDuration {
			s.inDangerZone = false
			if s.onStop != nil {
				s.onStop("danger_zone")
			}
		}
	} else {
		s.inDangerZone = false
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
