// Package agent wires every component of the trainer control core into
// one orchestration layer: the connection manager, polling engine,
// monitor processor, handle detector, rep counter, safety supervisor,
// command sequencer, session assembler, disco engine, scheduler, UI
// server, and telemetry sink — a flat struct of sibling components plus
// one central command loop.
package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"trainer-core/internal/ble"
	"trainer-core/internal/config"
	"trainer-core/internal/core"
	"trainer-core/internal/disco"
	"trainer-core/internal/external"
	"trainer-core/internal/handle"
	"trainer-core/internal/model"
	"trainer-core/internal/monitor"
	"trainer-core/internal/reps"
	"trainer-core/internal/safety"
	"trainer-core/internal/scheduler"
	"trainer-core/internal/server"
	"trainer-core/internal/session"
	"trainer-core/internal/telemetry"

	"github.com/sirupsen/logrus"
)

// Agent is the top-level orchestrator. It owns no GATT state directly
// (that belongs to ble.Connection); it owns the wiring between
// components and the single command-dispatch loop.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	queue      *ble.OperationQueue
	connection *ble.Connection
	poller     *ble.Poller
	sequencer  *ble.CommandSequencer

	processor  *monitor.Processor
	detector   *handle.Detector
	repCounter *reps.Counter
	supervisor *safety.Supervisor
	sessionAsm *session.Assembler

	discoEngine   *disco.Engine
	scheduler     *scheduler.Scheduler
	server        *server.Server
	mqttPublisher *telemetry.MQTTPublisher
	logRepo       *telemetry.LogrusConnectionLog

	mu             sync.Mutex
	autoStartArmed bool
	workoutActive  bool
	currentParams  model.WorkoutParameters
}

// NewAgent builds and wires every component from cfg. The connection
// loop, scheduler, HTTP listener, and command loop start only in Run;
// the disco engine's worker and the server's (and, when enabled, the
// MQTT publisher's) event-forwarding goroutines start here.
func NewAgent(cfg *config.Config) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		state:          core.NewState(),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
		autoStartArmed: true,
	}

	scanTimeout, _ := time.ParseDuration(cfg.BLE.ScanTimeout)
	connectTimeout, _ := time.ParseDuration(cfg.BLE.ConnectTimeout)
	connectRetryDelay, _ := time.ParseDuration(cfg.BLE.ConnectRetryDelay)
	heartbeatInterval, _ := time.ParseDuration(cfg.BLE.HeartbeatInterval)
	diagnosticInterval, _ := time.ParseDuration(cfg.BLE.DiagnosticInterval)
	deloadDebounce := time.Duration(cfg.Safety.DeloadDebounceMs) * time.Millisecond

	a.logRepo = telemetry.NewLogrusConnectionLog(logrus.StandardLogger())

	a.queue = ble.NewOperationQueue(cfg.BLE.CommandRateLimit, cfg.BLE.CommandRateBurst)

	a.connection = ble.NewConnection(
		a.eventBus,
		a.queue,
		nil,
		cfg.BLE.DeviceNamePrefixes,
		scanTimeout,
		connectTimeout,
		cfg.BLE.ConnectRetryCount,
		connectRetryDelay,
		uint16(cfg.BLE.DesiredMTU),
	)

	a.repCounter = reps.New()
	a.repCounter.SetTrackingActive(true)

	grabSustain := time.Duration(cfg.Safety.GrabSustainMs) * time.Millisecond
	a.detector = handle.NewWithThresholds(
		cfg.Safety.RestPositionMM,
		cfg.Safety.GrabPositionMM,
		cfg.Safety.GrabVelocityMMps,
		grabSustain,
	)

	a.processor = monitor.New(
		cfg.Safety.MinPositionMM,
		cfg.Safety.MaxPositionMM,
		cfg.Safety.MaxWeightKg,
		cfg.Safety.PositionJumpThresholdMM,
		cfg.Safety.VelocitySmoothingAlpha,
		cfg.Safety.StrictValidation,
		deloadDebounce,
		monitor.Callbacks{
			OnRomViolation:   a.onRomViolation,
			OnDeloadOccurred: a.onDeloadOccurred,
		},
	)

	a.supervisor = safety.New(
		cfg.Safety.StallVelocityLowMMps,
		cfg.Safety.AutoStopDurationSeconds,
		cfg.Safety.StallDurationSeconds,
		a.repCounter,
		a.onSafetyStop,
	)

	pollWarnAvg := time.Duration(cfg.Safety.PollWarningAvgMs * float64(time.Millisecond))
	a.poller = ble.NewPoller(
		a.connection,
		a.queue,
		a.eventBus,
		diagnosticInterval,
		heartbeatInterval,
		pollWarnAvg,
		a.onMonitorPacket,
		a.onDiagnosticPacket,
	)

	a.connection.SetRepSink(a.onRepPayload)

	a.sequencer = ble.NewCommandSequencer(a.connection, a.poller, func() {
		if a.discoEngine != nil {
			a.discoEngine.Stop()
		}
	})

	a.sessionAsm = session.New(session.NewInMemoryRepository())

	a.discoEngine = disco.NewEngine(a.connection, cfg.Disco.ScriptsDir, a.eventBus)

	a.scheduler = scheduler.NewScheduler(cfg.Scheduler.WindowsFile, a.commandChannel)

	a.server = server.NewServer(
		a.discoEngine,
		a.eventBus,
		a.state,
		a.scheduler,
		a.commandChannel,
		cfg.Server.Port,
		cfg.Server.WebFilesDir,
		cfg.Server.AllowedOrigins,
	)

	a.mqttPublisher = telemetry.NewMQTTPublisher(cfg, a.eventBus)

	return a, nil
}

// Run starts every background loop: the connection state machine, the
// scheduler, the UI server, the optional MQTT publisher, and the
// central command-dispatch loop. It blocks until Shutdown cancels the
// agent's context.
func (a *Agent) Run() {
	if a.mqttPublisher != nil {
		go func() {
			if err := a.mqttPublisher.Connect(); err != nil {
				log.Printf("[agent] mqtt connect error: %v", err)
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.connection.Run(a.ctx, a.onConnectionReady)
	}()

	go a.listenEvents()

	a.scheduler.Start()

	log.Printf("[agent] running on http://localhost:%s", a.config.Server.Port)
	go func() {
		if err := a.server.ListenAndServe(); err != nil {
			log.Printf("[agent] server error: %v", err)
		}
	}()

	log.Println("[agent] orchestrator ready")
	for {
		select {
		case <-a.ctx.Done():
			log.Println("[agent] orchestrator shutting down")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

// Shutdown stops every background component and waits for the
// connection loop to exit.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	_ = a.server.Shutdown(context.Background())
	if a.mqttPublisher != nil {
		a.mqttPublisher.Disconnect()
	}
	a.connection.Disconnect()
	a.cancel()
	a.wg.Wait()
}

// onConnectionReady starts the polling engine once the on-ready
// sequence (MTU, service discovery, subscriptions) has completed. It
// arms auto-start polling unless the scheduler/UI has explicitly
// disarmed it.
func (a *Agent) onConnectionReady(ctx context.Context) {
	a.mu.Lock()
	armed := a.autoStartArmed
	a.mu.Unlock()

	if armed {
		a.detector.ResetToWaitingForRest()
	} else {
		a.detector.Disable()
	}

	a.poller.StartAll(ctx, armed)
}

// onMonitorPacket is the Poller's MonitorSink: it runs every raw frame
// through the monitor processor, then fans the validated metric out to
// the handle detector, safety supervisor, rep-range tracker, session
// assembler, and the metrics event stream.
func (a *Agent) onMonitorPacket(pkt model.MonitorPacket, forAutoStart bool) {
	metric, ok := a.processor.Process(pkt)
	if !ok {
		return
	}

	a.eventBus.Publish(core.Event{Type: core.MetricsEvent, Payload: metric})
	if a.sessionAsm.Active() {
		a.sessionAsm.AddMetric(metric)
	}

	detection := a.detector.Update(metric, forAutoStart)
	a.state.SetHandleState(detection.State)
	a.eventBus.Publish(core.Event{Type: core.HandleStateEvent, Payload: detection})

	a.repCounter.UpdatePositionRanges(float64(metric.PosAmm), float64(metric.PosBmm))

	if forAutoStart {
		if detection.State == model.HandleGrabbed && !a.workoutActiveSnapshot() {
			a.triggerAutoStart()
		}
		return
	}

	a.supervisor.Evaluate(metric)
}

func (a *Agent) workoutActiveSnapshot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workoutActive
}

// listenEvents mirrors connection-lifecycle events into the shared
// State snapshot and the structured log, and stops an in-progress
// workout when the link drops unexpectedly rather than leaving the
// session assembler open against a device that is no longer there.
func (a *Agent) listenEvents() {
	sub := a.eventBus.Subscribe(core.ConnectionStateEvent, core.ReconnectionEvent, core.DiscoScriptEvent)
	defer a.eventBus.Unsubscribe(sub, core.ConnectionStateEvent, core.ReconnectionEvent, core.DiscoScriptEvent)

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-sub:
			switch ev.Type {
			case core.ConnectionStateEvent:
				cs, ok := ev.Payload.(model.ConnectionState)
				if !ok {
					continue
				}
				a.state.SetConnection(cs.Phase == model.Connected, 0, cs.HardwareModel)
				switch cs.Phase {
				case model.Connected:
					a.logRepo.Info(external.LogConnectSuccess, map[string]interface{}{"name": cs.Name, "address": cs.Address})
				case model.Disconnected:
					if a.workoutActiveSnapshot() {
						a.stopWorkout("connection_lost")
					}
				}
			case core.ReconnectionEvent:
				req, ok := ev.Payload.(model.ReconnectionRequest)
				if !ok {
					continue
				}
				a.logRepo.Warn(external.LogError, map[string]interface{}{
					"reason":  req.Reason,
					"device":  req.DeviceName,
					"address": req.Address,
				})
			case core.DiscoScriptEvent:
				payload, ok := ev.Payload.(map[string]interface{})
				if !ok {
					continue
				}
				name, _ := payload["running"].(string)
				a.state.SetRunningDiscoScript(name)
			}
		}
	}
}

// triggerAutoStart handles a sustained grab transition while
// disabled-workout (auto-start) polling is running: it starts a
// just-lift workout with skip_countdown semantics — there is no
// countdown step in this core, so "skip" is simply "start immediately".
func (a *Agent) triggerAutoStart() {
	params := model.WorkoutParameters{
		ProgramMode: model.ProgramJustLift,
		IsJustLift:  true,
	}
	log.Println("[agent] handle grab detected during auto-start polling, starting just-lift workout")
	a.startWorkout(params)
}

func (a *Agent) onRepPayload(buf []byte) {
	if len(buf) == 0 {
		return
	}
	n, err := ble.ParseRepFrame(buf)
	if err != nil {
		return
	}
	a.onRepNotification(n)
}

func (a *Agent) onRepNotification(n model.RepNotification) {
	evt, ok := a.repCounter.OnNotification(n)
	if !ok {
		return
	}
	a.eventBus.Publish(core.Event{Type: core.RepEvent, Payload: evt})
	if a.sessionAsm.Active() {
		a.sessionAsm.AddRep(evt)
	}
}

func (a *Agent) onDiagnosticPacket(pkt model.DiagnosticPacket) {
	if pkt.HasFaults {
		a.logRepo.Warn(external.LogError, map[string]interface{}{"faults": pkt.Faults})
	}
}

func (a *Agent) onRomViolation(dir model.Direction) {
	a.eventBus.Publish(core.Event{Type: core.RomViolationEvent, Payload: dir})
}

func (a *Agent) onDeloadOccurred() {
	a.eventBus.Publish(core.Event{Type: core.DeloadOccurredEvent, Payload: time.Now().UnixMilli()})
}

// onSafetyStop is the Supervisor's onStop callback: both the velocity-
// stall and position-based danger-zone conditions route through the
// same stop choreography.
func (a *Agent) onSafetyStop(reason string) {
	log.Printf("[agent] safety supervisor triggered stop: %s", reason)
	a.stopWorkout(reason)
}

func (a *Agent) startWorkout(params model.WorkoutParameters) {
	a.mu.Lock()
	a.workoutActive = true
	a.currentParams = params
	a.mu.Unlock()

	a.repCounter.Reset()
	a.processor.Reset()
	a.supervisor.Reset()
	a.repCounter.SetTrackingActive(params.IsJustLift)

	a.sessionAsm.Start(params)
	a.state.SetWorkout(true, params)

	if err := a.sequencer.StartWorkout(a.ctx, params); err != nil {
		log.Printf("[agent] start workout failed: %v", err)
	}
}

func (a *Agent) stopWorkout(reason string) {
	a.mu.Lock()
	wasJustLift := a.currentParams.IsJustLift
	a.workoutActive = false
	a.mu.Unlock()

	if err := a.sequencer.StopWorkout(a.ctx, wasJustLift); err != nil {
		log.Printf("[agent] stop workout failed: %v", err)
	}

	heuristicCtx, cancel := context.WithTimeout(a.ctx, 500*time.Millisecond)
	stats, err := a.connection.ReadHeuristicSnapshot(heuristicCtx)
	cancel()
	if err != nil {
		log.Printf("[agent] heuristic snapshot read failed: %v", err)
	} else {
		a.sessionAsm.SetPhaseStats(stats)
		a.eventBus.Publish(core.Event{Type: core.HeuristicDataEvent, Payload: stats})
	}

	completed := a.sessionAsm.Complete(reason)
	if completed != nil {
		a.eventBus.Publish(core.Event{Type: core.SessionCompletedEvent, Payload: *completed})
	}

	a.state.SetWorkout(false, model.WorkoutParameters{})
	a.repCounter.SetTrackingActive(true)

	a.mu.Lock()
	armed := a.autoStartArmed
	a.mu.Unlock()
	if armed {
		a.detector.ResetToWaitingForRest()
	}
	a.poller.RestartAll(a.ctx, armed)
}

func (a *Agent) handleCommand(cmd core.Command) {
	log.Printf("[agent] handling command: %s", cmd.Type)

	switch cmd.Type {
	case core.CmdStartWorkout:
		a.startWorkout(paramsFromPayload(cmd.Payload))

	case core.CmdStopWorkout:
		a.stopWorkout("explicit_stop")

	case core.CmdSetWeight:
		weight := floatField(cmd.Payload, "weightPerCableKg", 0)
		a.mu.Lock()
		a.currentParams.WeightPerCableKg = weight
		a.mu.Unlock()
		a.state.SetWeight(weight)
		if err := a.sequencer.ChangeWeight(a.ctx, weight); err != nil {
			log.Printf("[agent] change weight failed: %v", err)
		}

	case core.CmdSetColorScheme:
		scheme := byte(intField(cmd.Payload, "scheme", 0))
		if err := a.sequencer.SetColorScheme(a.ctx, scheme); err != nil {
			log.Printf("[agent] set color scheme failed: %v", err)
		}

	case core.CmdRunDiscoScript:
		if name, ok := cmd.Payload["name"].(string); ok {
			a.discoEngine.RunScript(name)
		}

	case core.CmdStopDiscoScript:
		a.discoEngine.Stop()

	case core.CmdArmAutoStart:
		a.mu.Lock()
		a.autoStartArmed = true
		a.mu.Unlock()
		a.detector.ResetToWaitingForRest()

	case core.CmdDisarmAutoStart:
		a.mu.Lock()
		a.autoStartArmed = false
		a.mu.Unlock()
		a.detector.Disable()

	case core.CmdAddAutoArmWindow:
		name, _ := cmd.Payload["name"].(string)
		armSpec, _ := cmd.Payload["arm_spec"].(string)
		disarmSpec, _ := cmd.Payload["disarm_spec"].(string)
		if err := a.scheduler.AddWindow(scheduler.Window{Name: name, ArmSpec: armSpec, DisarmSpec: disarmSpec}); err != nil {
			log.Printf("[agent] add auto-arm window failed: %v", err)
		}
		a.eventBus.Publish(core.Event{Type: core.ScheduleEvent, Payload: a.scheduler.ListWindows()})

	case core.CmdRemoveAutoArmWindow:
		if name, ok := cmd.Payload["name"].(string); ok {
			a.scheduler.RemoveWindow(name)
			a.eventBus.Publish(core.Event{Type: core.ScheduleEvent, Payload: a.scheduler.ListWindows()})
		}

	case core.CmdSaveDiscoScript:
		name, nameOk := cmd.Payload["name"].(string)
		code, codeOk := cmd.Payload["code"].(string)
		if nameOk && codeOk {
			if err := a.discoEngine.SaveScriptCode(name, code); err != nil {
				log.Printf("[agent] save disco script failed: %v", err)
			}
		}

	case core.CmdDeleteDiscoScript:
		if name, ok := cmd.Payload["name"].(string); ok {
			if err := a.discoEngine.DeleteScript(name); err != nil {
				log.Printf("[agent] delete disco script failed: %v", err)
			}
		}

	case core.CmdGetDiscoScript:
		if name, ok := cmd.Payload["name"].(string); ok {
			if code, err := a.discoEngine.GetScriptCode(name); err == nil {
				a.eventBus.Publish(core.Event{Type: core.DiscoScriptEvent, Payload: map[string]interface{}{"name": name, "code": code}})
			}
		}

	default:
		log.Printf("[agent] unknown command type: %s", cmd.Type)
	}
}

func paramsFromPayload(payload map[string]interface{}) model.WorkoutParameters {
	p := model.WorkoutParameters{
		WeightPerCableKg: floatField(payload, "weightPerCableKg", 0),
		WarmupReps:       intField(payload, "warmupReps", 0),
		WorkingReps:      intField(payload, "workingReps", 0),
		Progression:      intField(payload, "progression", 0),
		IsJustLift:       boolField(payload, "isJustLift", false),
		IsEchoMode:       boolField(payload, "isEchoMode", false),
		EchoLevel:        intField(payload, "echoLevel", 0),
		EccentricLoadKg:  floatField(payload, "eccentricLoadKg", 0),
	}
	if mode, ok := payload["programMode"].(float64); ok {
		p.ProgramMode = model.ProgramMode(int(mode))
	}
	if p.IsJustLift {
		p.ProgramMode = model.ProgramJustLift
	} else if p.IsEchoMode {
		p.ProgramMode = model.ProgramEcho
	}
	return p
}

func floatField(payload map[string]interface{}, key string, def float64) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return def
}

func intField(payload map[string]interface{}, key string, def int) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return def
}

func boolField(payload map[string]interface{}, key string, def bool) bool {
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return def
}
