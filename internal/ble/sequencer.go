package ble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trainer-core/internal/model"
)

// CommandSequencer implements the workout-start and workout-stop
// choreographies on top of a Connection, a Poller, and a PacketFactory.
// It is the one place that knows the ordering of INIT/CONFIG/START and
// RESET/stop-polling/just-lift-restart.
type CommandSequencer struct {
	conn    *Connection
	poller  *Poller
	factory *PacketFactory

	stopDisco func()

	mu              sync.Mutex
	lastConfigFrame []byte
}

// NewCommandSequencer builds a CommandSequencer. stopDisco is called
// before every workout start to cancel any running disco script; it
// may be nil.
func NewCommandSequencer(conn *Connection, poller *Poller, stopDisco func()) *CommandSequencer {
	return &CommandSequencer{
		conn:      conn,
		poller:    poller,
		factory:   NewPacketFactory(),
		stopDisco: stopDisco,
	}
}

// StartWorkout runs the ordered choreography: stop disco, INIT, CONFIG,
// START, then switch the poller to active-workout (for_auto_start=false)
// polling.
func (s *CommandSequencer) StartWorkout(ctx context.Context, params model.WorkoutParameters) error {
	if s.stopDisco != nil {
		s.stopDisco()
	}

	if err := s.conn.SendCommand(ctx, s.factory.BuildInit()); err != nil {
		return fmt.Errorf("sequencer: init: %w", err)
	}
	if _, err := s.conn.AwaitResponse(OpcodeReset, 300*time.Millisecond); err != nil {
		log.Printf("[sequencer] init ack not observed: %v", err)
	}

	frame := s.factory.BuildConfig(params)
	if err := s.conn.SendCommand(ctx, frame); err != nil {
		return fmt.Errorf("sequencer: config: %w", err)
	}
	s.mu.Lock()
	s.lastConfigFrame = frame
	s.mu.Unlock()

	if err := s.conn.SendCommand(ctx, s.factory.BuildStart()); err != nil {
		return fmt.Errorf("sequencer: start: %w", err)
	}

	s.poller.RestartAll(ctx, false)
	return nil
}

// ChangeWeight rebuilds only the weight bytes of the last-sent CONFIG
// frame and resends it for a live weight change: no INIT, no START.
func (s *CommandSequencer) ChangeWeight(ctx context.Context, weightKg float64) error {
	s.mu.Lock()
	existing := s.lastConfigFrame
	s.mu.Unlock()

	if existing == nil {
		return fmt.Errorf("sequencer: no active config to rebuild weight on")
	}

	frame := s.factory.RebuildConfigWeight(existing, weightKg)
	if err := s.conn.SendCommand(ctx, frame); err != nil {
		return fmt.Errorf("sequencer: weight change: %w", err)
	}

	s.mu.Lock()
	s.lastConfigFrame = frame
	s.mu.Unlock()
	return nil
}

// StopWorkout runs the stop choreography: RESET, a
// 50ms settling delay, cancel all polling, and — if the closing
// session was just-lift — restart monitor polling immediately so the
// trainer can process the stop and leave the red-fault state.
func (s *CommandSequencer) StopWorkout(ctx context.Context, wasJustLift bool) error {
	s.mu.Lock()
	s.lastConfigFrame = nil
	s.mu.Unlock()

	err := s.conn.SendCommand(ctx, s.factory.BuildReset())

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
	}

	s.poller.StopAll()

	if wasJustLift {
		s.poller.RestartMonitorPolling(ctx, true)
	}

	if err != nil {
		return fmt.Errorf("sequencer: reset: %w", err)
	}
	return nil
}

// SetColorScheme sends a standalone color-scheme frame for explicit UI
// color commands. The disco engine does not use it; it writes through
// Connection.WriteColorScheme.
func (s *CommandSequencer) SetColorScheme(ctx context.Context, schemeIndex byte) error {
	return s.conn.SendCommand(ctx, s.factory.BuildColor(schemeIndex))
}
