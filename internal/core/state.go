package core

import (
	"sync"

	"trainer-core/internal/model"
)

// State holds the single source of truth for the UI-facing view of the
// trainer: connection status, the currently running workout (if any),
// handle state, and whatever disco script is active while idle.
type State struct {
	mu sync.RWMutex

	IsConnected       bool
	RSSI              int16
	HardwareModel     string

	WorkoutActive     bool
	Params            model.WorkoutParameters
	HandleState       model.HandleState
	RunningDiscoScript string
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		IsConnected:        s.IsConnected,
		RSSI:               s.RSSI,
		HardwareModel:      s.HardwareModel,
		WorkoutActive:      s.WorkoutActive,
		Params:             s.Params,
		HandleState:        s.HandleState,
		RunningDiscoScript: s.RunningDiscoScript,
	}
}

// SetConnection updates connection state.
func (s *State) SetConnection(connected bool, rssi int16, hardwareModel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsConnected = connected
	s.RSSI = rssi
	if connected {
		s.HardwareModel = hardwareModel
	}
}

// SetWorkout marks a workout as started (active=true, with params) or
// stopped (active=false).
func (s *State) SetWorkout(active bool, params model.WorkoutParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WorkoutActive = active
	if active {
		s.Params = params
	}
}

// SetWeight updates the live-updatable weight-per-cable field.
func (s *State) SetWeight(kg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Params.WeightPerCableKg = kg
}

// SetHandleState updates the tracked handle state.
func (s *State) SetHandleState(hs model.HandleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HandleState = hs
}

// SetRunningDiscoScript updates the name of the currently running disco
// script, or "" when idle.
func (s *State) SetRunningDiscoScript(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningDiscoScript = name
}
