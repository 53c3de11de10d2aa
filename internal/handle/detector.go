// Package handle implements the position/velocity-driven handle state
// machine used for auto-start detection and, in active-workout mode,
// grab/release tracking for safety consumers.
package handle

import (
	"sync"
	"time"

	"trainer-core/internal/model"
)

// Default thresholds used by New(). NewWithThresholds lets a deployment
// override them from config.Safety.
const (
	restThresholdMM     = 5.0
	grabPositionMM      = 8.0
	grabVelocityMMps    = 50.0
	grabSustainDuration = 200 * time.Millisecond
)

// Detector implements the handle position/velocity state machine. It
// runs in one of two modes: forAutoStart drives
// WaitingForRest -> Released -> Grabbed transitions; otherwise it only
// tracks Grabbed/Released transitions
// for safety consumers without arming auto-start.
type Detector struct {
	mu sync.Mutex

	restThresholdMM     float64
	grabPositionMM      float64
	grabVelocityMMps    float64
	grabSustainDuration time.Duration

	state            model.HandleState
	sustainedSince   time.Time
	sustaining       bool
	maxPos, maxVel   float64
	stateEnteredAt   time.Time
}

// New constructs a Detector starting in WaitingForRest, using the
// default thresholds.
func New() *Detector {
	return NewWithThresholds(restThresholdMM, grabPositionMM, grabVelocityMMps, grabSustainDuration)
}

// NewWithThresholds constructs a Detector with thresholds sourced from
// config.Safety, starting in WaitingForRest.
func NewWithThresholds(restMM, grabMM, grabVelMMps float64, grabSustain time.Duration) *Detector {
	return &Detector{
		restThresholdMM:     restMM,
		grabPositionMM:      grabMM,
		grabVelocityMMps:    grabVelMMps,
		grabSustainDuration: grabSustain,
		state:               model.HandleWaitingForRest,
		stateEnteredAt:      time.Now(),
	}
}

// Disable transitions to Disabled from any state.
func (d *Detector) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setState(model.HandleDisabled)
}

// ResetToWaitingForRest returns the detector to WaitingForRest.
func (d *Detector) ResetToWaitingForRest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setState(model.HandleWaitingForRest)
	d.sustaining = false
}

func (d *Detector) setState(s model.HandleState) {
	d.state = s
	d.stateEnteredAt = time.Now()
}

// State returns the current HandleState.
func (d *Detector) State() model.HandleState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Update feeds one WorkoutMetric through the state machine and returns
// a HandleDetection summary.
func (d *Detector) Update(m model.WorkoutMetric, forAutoStart bool) model.HandleDetection {
	d.mu.Lock()
	defer d.mu.Unlock()

	posA, posB := float64(m.PosAmm), float64(m.PosBmm)
	maxPos := maxf(posA, posB)
	maxVel := maxf(absf(m.VelAmmps), absf(m.VelBmmps))

	if maxPos > d.maxPos {
		d.maxPos = maxPos
	}
	if maxVel > d.maxVel {
		d.maxVel = maxVel
	}

	if d.state == model.HandleDisabled {
		return d.snapshot()
	}

	switch d.state {
	case model.HandleWaitingForRest:
		if forAutoStart && maxPos < d.restThresholdMM {
			d.setState(model.HandleReleased)
		}
	case model.HandleReleased:
		if forAutoStart {
			grabbing := maxPos > d.grabPositionMM && maxVel > d.grabVelocityMMps
			if grabbing {
				if !d.sustaining {
					d.sustaining = true
					d.sustainedSince = time.Now()
				} else if time.Since(d.sustainedSince) >= d.grabSustainDuration {
					d.setState(model.HandleGrabbed)
					d.sustaining = false
				}
			} else {
				d.sustaining = false
			}
		} else if maxPos > d.grabPositionMM && maxVel > d.grabVelocityMMps {
			d.setState(model.HandleGrabbed)
		}
	case model.HandleGrabbed:
		if maxPos < d.restThresholdMM {
			d.setState(model.HandleReleased)
			d.sustaining = false
		}
	}

	return d.snapshot()
}

func (d *Detector) snapshot() model.HandleDetection {
	return model.HandleDetection{
		State:  d.state,
		MaxPos: d.maxPos,
		MaxVel: d.maxVel,
		SinceMs: time.Since(d.stateEnteredAt).Milliseconds(),
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
