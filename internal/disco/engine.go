// Package disco implements the idle-mode color-sequencing loop: while
// no workout is active, a scripted sequence of color-scheme writes may
// run, yielding immediately to any workout start. Scripts are small Lua
// programs run one at a time on a single worker goroutine, so a new
// script always cancels whatever ran before it.
package disco

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"trainer-core/internal/core"

	lua "github.com/yuin/gopher-lua"
)

type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

type engineCmd struct {
	kind cmdType
	name string
	code string
}

// ColorWriter is the narrow capability the disco engine needs from the
// BLE layer: write a single color-scheme frame. Implemented by
// internal/ble's Connection+PacketFactory pairing.
type ColorWriter interface {
	WriteColorScheme(ctx context.Context, schemeIndex byte) error
}

// Engine runs scripted idle-mode color sequences using a single
// worker goroutine, so only one script ever runs at a time.
type Engine struct {
	writer      ColorWriter
	scriptsDir  string
	eventBus    *core.EventBus

	cmdChan chan engineCmd
	wg      sync.WaitGroup
}

// NewEngine creates a new disco engine and starts its background
// worker.
func NewEngine(writer ColorWriter, scriptsDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		writer:     writer,
		scriptsDir: scriptsDir,
		eventBus:   eb,
		cmdChan:    make(chan engineCmd, 10),
	}
	go e.runLoop()
	return e
}

func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(2 * time.Second):
				log.Println("[disco] timeout waiting for script to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			switch cmd.kind {
			case cmdRunFile:
				e.executeFile(cmd.name, cmd.code, ctx, done)
			case cmdRunString:
				e.executeString(cmd.name, cmd.code, ctx, done)
			}
		}(cmd, ctx, scriptDone)
	}
}

// Stop cancels whatever script is currently running: disco mode must
// yield to any workout start.
func (e *Engine) Stop() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		log.Println("[disco] command channel full, could not send stop")
	}
}

// RunScript runs a named script file from the scripts directory.
func (e *Engine) RunScript(name string) {
	path, err := e.GetScriptPath(name)
	if err != nil {
		log.Printf("[disco] could not get script path for %q: %v", name, err)
		return
	}
	e.cmdChan <- engineCmd{kind: cmdRunFile, name: name, code: path}
}

// ExecuteString runs a one-off script body.
func (e *Engine) ExecuteString(code string) {
	e.cmdChan <- engineCmd{kind: cmdRunString, name: "single script", code: code}
}

func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("filename must end with .lua")
	}
	clean := filepath.Base(name)
	if clean == "" || clean == ".lua" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid filename")
	}
	return clean, nil
}

// GetScriptPath returns the safe, absolute path to a script file
// within the engine's configured directory.
func (e *Engine) GetScriptPath(name string) (string, error) {
	clean, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(e.scriptsDir); os.IsNotExist(err) {
		if err := os.MkdirAll(e.scriptsDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create scripts directory: %w", err)
		}
	}
	return filepath.Join(e.scriptsDir, clean), nil
}

// GetScriptCode reads the source of a script file.
func (e *Engine) GetScriptCode(name string) (string, error) {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SaveScriptCode writes the given script source to disk.
func (e *Engine) SaveScriptCode(name, code string) error {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// DeleteScript removes a script file by name.
func (e *Engine) DeleteScript(name string) error {
	path, err := e.GetScriptPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// ListScripts returns the available .lua script names.
func (e *Engine) ListScripts() ([]string, error) {
	var scripts []string
	files, err := os.ReadDir(e.scriptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return scripts, nil
		}
		return nil, err
	}
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == ".lua" {
			scripts = append(scripts, f.Name())
		}
	}
	return scripts, nil
}

func (e *Engine) executeFile(name, path string, ctx context.Context, done chan struct{}) {
	defer close(done)
	e.execute(name, ctx, func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

func (e *Engine) executeString(name, code string, ctx context.Context, done chan struct{}) {
	defer close(done)
	e.execute(name, ctx, func(L *lua.LState) error {
		return L.DoString(code)
	})
}

func (e *Engine) execute(name string, ctx context.Context, run func(*lua.LState) error) {
	log.Printf("[disco] starting script %q", name)
	e.publishRunning(name)
	defer func() {
		log.Printf("[disco] script %q finished", name)
		e.publishRunning("")
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	e.registerGoFunctions(L, ctx)

	if err := run(L); err != nil {
		if ctx.Err() == context.Canceled {
			log.Printf("[disco] script %q canceled", name)
		} else {
			log.Printf("[disco] script %q error: %v", name, err)
		}
	}
}

func (e *Engine) publishRunning(name string) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(core.Event{
		Type:    core.DiscoScriptEvent,
		Payload: map[string]interface{}{"running": name},
	})
}
