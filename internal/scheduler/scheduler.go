// Package scheduler implements "auto-arm windows": cron-triggered
// arming and disarming of the handle detector's auto-start mode,
// backed by robfig/cron.
package scheduler

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"trainer-core/internal/core"

	"github.com/robfig/cron/v3"
)

// Window is a saved auto-arm window: arm at ArmSpec, disarm at
// DisarmSpec, both standard 5-field cron expressions.
type Window struct {
	Name       string `json:"name"`
	ArmSpec    string `json:"arm_spec"`
	DisarmSpec string `json:"disarm_spec"`
}

type entryPair struct {
	window    Window
	armID     cron.EntryID
	disarmID  cron.EntryID
}

// Scheduler manages cron-triggered auto-arm windows and persists them
// to a JSON file.
type Scheduler struct {
	cron        *cron.Cron
	store       map[string]entryPair
	windowsFile string
	commandChan core.CommandChannel
	mu          sync.RWMutex
}

// NewScheduler creates and loads a Scheduler.
func NewScheduler(windowsFile string, cmdChan core.CommandChannel) *Scheduler {
	s := &Scheduler{
		cron:        cron.New(),
		store:       make(map[string]entryPair),
		windowsFile: windowsFile,
		commandChan: cmdChan,
	}
	s.load()
	return s
}

// Start begins the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("[scheduler] started")
}

// Stop halts the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] stopped")
}

// AddWindow registers a new auto-arm window and persists it.
func (s *Scheduler) AddWindow(w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	armID, err := s.cron.AddFunc(w.ArmSpec, func() { s.dispatch(core.CmdArmAutoStart) })
	if err != nil {
		return err
	}
	disarmID, err := s.cron.AddFunc(w.DisarmSpec, func() { s.dispatch(core.CmdDisarmAutoStart) })
	if err != nil {
		s.cron.Remove(armID)
		return err
	}

	s.store[w.Name] = entryPair{window: w, armID: armID, disarmID: disarmID}
	s.save()
	log.Printf("[scheduler] added window %q: arm=%q disarm=%q", w.Name, w.ArmSpec, w.DisarmSpec)
	return nil
}

// RemoveWindow deletes a previously added auto-arm window by name.
func (s *Scheduler) RemoveWindow(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.store[name]
	if !ok {
		return
	}
	s.cron.Remove(pair.armID)
	s.cron.Remove(pair.disarmID)
	delete(s.store, name)
	s.save()
	log.Printf("[scheduler] removed window %q", name)
}

// ListWindows returns a copy of the current windows.
func (s *Scheduler) ListWindows() []Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	windows := make([]Window, 0, len(s.store))
	for _, pair := range s.store {
		windows = append(windows, pair.window)
	}
	return windows
}

func (s *Scheduler) dispatch(cmdType core.CommandType) {
	if s.commandChan == nil {
		return
	}
	select {
	case s.commandChan <- core.Command{Type: cmdType}:
	default:
		log.Printf("[scheduler] command channel full, dropping %v", cmdType)
	}
}

func (s *Scheduler) save() {
	windows := make([]Window, 0, len(s.store))
	for _, pair := range s.store {
		windows = append(windows, pair.window)
	}
	data, err := json.MarshalIndent(windows, "", "  ")
	if err != nil {
		log.Printf("[scheduler] marshal error: %v", err)
		return
	}
	if err := os.WriteFile(s.windowsFile, data, 0644); err != nil {
		log.Printf("[scheduler] write error: %v", err)
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.windowsFile); os.IsNotExist(err) {
		return
	}
	data, err := os.ReadFile(s.windowsFile)
	if err != nil {
		log.Printf("[scheduler] read error: %v", err)
		return
	}

	var windows []Window
	if err := json.Unmarshal(data, &windows); err != nil {
		log.Printf("[scheduler] unmarshal error: %v", err)
		return
	}

	log.Printf("[scheduler] loading %d auto-arm windows", len(windows))
	for _, w := range windows {
		window := w
		armID, err := s.cron.AddFunc(window.ArmSpec, func() { s.dispatch(core.CmdArmAutoStart) })
		if err != nil {
			log.Printf("[scheduler] error re-adding window %q: %v", window.Name, err)
			continue
		}
		disarmID, err := s.cron.AddFunc(window.DisarmSpec, func() { s.dispatch(core.CmdDisarmAutoStart) })
		if err != nil {
			log.Printf("[scheduler] error re-adding window %q: %v", window.Name, err)
			s.cron.Remove(armID)
			continue
		}
		s.store[window.Name] = entryPair{window: window, armID: armID, disarmID: disarmID}
	}
}
