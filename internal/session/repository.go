package session

import (
	"sync"

	"trainer-core/internal/model"
)

// InMemoryRepository is the default WorkoutRepository used when a
// deployment has not wired real persistence (out of scope for this
// core). It keeps the most recent sessions in memory only.
type InMemoryRepository struct {
	mu       sync.Mutex
	sessions []model.WorkoutSession
}

// NewInMemoryRepository constructs an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Save appends the completed session to the in-memory list.
func (r *InMemoryRepository) Save(session model.WorkoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
	return nil
}

// All returns a copy of every session saved so far.
func (r *InMemoryRepository) All() []model.WorkoutSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.WorkoutSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}
