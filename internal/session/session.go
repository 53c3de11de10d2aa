// Package session assembles WorkoutSession records from the event
// streams produced during an active workout and hands the completed
// session to the external WorkoutRepository collaborator on stop.
package session

import (
	"log"
	"sync"
	"time"

	"trainer-core/internal/external"
	"trainer-core/internal/model"

	"github.com/google/uuid"
)

// Assembler accumulates metrics, reps, and phase statistics for the
// currently active WorkoutSession and persists it via WorkoutRepository
// once the set completes.
type Assembler struct {
	repo external.WorkoutRepository

	mu      sync.Mutex
	current *model.WorkoutSession
}

// New constructs an Assembler. A nil repo is valid; Complete becomes a
// no-op persistence step in that case (useful for tests and for
// deployments that haven't wired storage yet).
func New(repo external.WorkoutRepository) *Assembler {
	return &Assembler{repo: repo}
}

// Start begins a new WorkoutSession with a fresh ID.
func (a *Assembler) Start(params model.WorkoutParameters) *model.WorkoutSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = &model.WorkoutSession{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Params:    params,
	}
	return a.current
}

// AddMetric appends a validated WorkoutMetric to the active session.
func (a *Assembler) AddMetric(m model.WorkoutMetric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return
	}
	a.current.Metrics = append(a.current.Metrics, m)
}

// AddRep appends a RepEvent to the active session.
func (a *Assembler) AddRep(r model.RepEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return
	}
	a.current.Reps = append(a.current.Reps, r)
}

// SetPhaseStats records the latest heuristic phase-statistics snapshot
// for the active session.
func (a *Assembler) SetPhaseStats(stats model.HeuristicStatistics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return
	}
	a.current.PhaseStats = stats
}

// Complete closes the active session and hands it to the
// WorkoutRepository collaborator. Returns the completed session (or
// nil if no session was active).
func (a *Assembler) Complete(notes string) *model.WorkoutSession {
	a.mu.Lock()
	session := a.current
	a.current = nil
	a.mu.Unlock()

	if session == nil {
		return nil
	}

	session.EndedAt = time.Now()
	session.Notes = notes

	if a.repo != nil {
		if err := a.repo.Save(*session); err != nil {
			// Persistence failures do not invalidate a completed set;
			// the session is still returned to the caller for its own
			// event-stream surfacing.
			log.Printf("[session] save failed: %v", err)
		}
	}

	return session
}

// Active reports whether a session is currently open.
func (a *Assembler) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}
