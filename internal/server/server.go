// Package server provides the UI-facing HTTP and WebSocket surface:
// it streams connection/metrics/rep/safety events and accepts
// workout/disco/scheduler commands from the front end.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"trainer-core/internal/core"
	"trainer-core/internal/disco"
	"trainer-core/internal/scheduler"

	"github.com/gorilla/websocket"
)

// ClientConn defines an interface for a WebSocket connection,
// facilitating testing.
type ClientConn interface {
	WriteJSON(v interface{}) error
}

type incomingCommand struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Server manages the HTTP and WebSocket endpoints and wires client
// commands to the orchestrator's command channel.
type Server struct {
	Hub         *Hub
	discoEngine *disco.Engine
	httpServer  *http.Server

	eventBus       *core.EventBus
	commandChannel core.CommandChannel
	state          *core.State
	scheduler      *scheduler.Scheduler

	webFilesDir    string
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer creates and initializes a new Server instance.
func NewServer(discoEngine *disco.Engine, eb *core.EventBus, st *core.State, sched *scheduler.Scheduler, cmdChan core.CommandChannel, port string, webFilesDir string, allowedOrigins []string) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:            hub,
		discoEngine:    discoEngine,
		eventBus:       eb,
		state:          st,
		scheduler:      sched,
		commandChannel: cmdChan,

		webFilesDir:    webFilesDir,
		allowedOrigins: allowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 512,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				log.Println("[server] warning: websocket CheckOrigin is disabled (allowing all)")
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			log.Printf("[server] websocket connection blocked: origin %q not allowed", origin)
			return false
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.webFilesDir)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: ":" + port, Handler: mux}

	go s.listenEvents()

	return s
}

// listenEvents subscribes to the event bus and broadcasts relevant
// events to all connected WebSocket clients.
func (s *Server) listenEvents() {
	if s.eventBus == nil {
		return
	}

	sub := s.eventBus.Subscribe(
		core.ConnectionStateEvent,
		core.ScannedDevicesEvent,
		core.MetricsEvent,
		core.RepEvent,
		core.DeloadOccurredEvent,
		core.RomViolationEvent,
		core.HeuristicDataEvent,
		core.ReconnectionEvent,
		core.HandleStateEvent,
		core.SessionCompletedEvent,
		core.DiscoScriptEvent,
		core.ScheduleEvent,
	)

	for event := range sub {
		switch event.Type {
		case core.ConnectionStateEvent:
			s.Hub.Broadcast(NewMessage("connection_state", event.Payload))
		case core.ScannedDevicesEvent:
			s.Hub.Broadcast(NewMessage("scanned_devices", event.Payload))
		case core.MetricsEvent:
			s.Hub.Broadcast(NewMessage("metrics", event.Payload))
		case core.RepEvent:
			s.Hub.Broadcast(NewMessage("rep", event.Payload))
		case core.DeloadOccurredEvent:
			s.Hub.Broadcast(NewMessage("deload_occurred", event.Payload))
		case core.RomViolationEvent:
			s.Hub.Broadcast(NewMessage("rom_violation", event.Payload))
		case core.HeuristicDataEvent:
			s.Hub.Broadcast(NewMessage("heuristic_data", event.Payload))
		case core.ReconnectionEvent:
			s.Hub.Broadcast(NewMessage("reconnection_requested", event.Payload))
		case core.HandleStateEvent:
			s.Hub.Broadcast(NewMessage("handle_state", event.Payload))
		case core.SessionCompletedEvent:
			s.Hub.Broadcast(NewMessage("session_completed", event.Payload))
		case core.DiscoScriptEvent:
			s.Hub.Broadcast(NewMessage("disco_script_status", event.Payload))
		case core.ScheduleEvent:
			s.Hub.Broadcast(NewMessage("schedule_list", event.Payload))
		}
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.state != nil {
		st := s.state.Clone()
		_ = conn.WriteJSON(NewMessage("connection_state", map[string]interface{}{
			"connected":     st.IsConnected,
			"rssi":          st.RSSI,
			"hardwareModel": st.HardwareModel,
		}))
		_ = conn.WriteJSON(NewMessage("workout_state", map[string]interface{}{
			"active": st.WorkoutActive,
			"params": st.Params,
		}))
		_ = conn.WriteJSON(NewMessage("handle_state", map[string]interface{}{
			"state": st.HandleState.String(),
		}))
		_ = conn.WriteJSON(NewMessage("disco_script_status", map[string]interface{}{
			"running": st.RunningDiscoScript,
		}))
	}

	if s.discoEngine != nil {
		if scripts, err := s.discoEngine.ListScripts(); err == nil {
			_ = conn.WriteJSON(NewMessage("disco_script_list", scripts))
		}
	}

	if s.scheduler != nil {
		_ = conn.WriteJSON(NewMessage("schedule_list", s.scheduler.ListWindows()))
	}

	s.Hub.register <- conn
	defer func() {
		s.Hub.unregister <- conn
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var rawCmd incomingCommand
		if err := json.Unmarshal(msgBytes, &rawCmd); err != nil {
			log.Printf("[server] error unmarshalling client command: %v", err)
			continue
		}

		cmd := core.Command{
			Type:    core.CommandType(rawCmd.Type),
			Payload: rawCmd.Payload,
		}

		if s.commandChannel != nil {
			s.commandChannel <- cmd
		}
	}
}
