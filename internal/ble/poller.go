package ble

import (
	"context"
	"log"
	"sync"
	"time"

	"trainer-core/internal/core"
	"trainer-core/internal/model"

	"golang.org/x/sync/errgroup"
)

// MonitorSink receives a decoded MonitorPacket and reports whether it
// was driving auto-start detection (true) or active-workout tracking
// (false).
type MonitorSink func(pkt model.MonitorPacket, forAutoStart bool)

// pollStats aggregates poll-interval telemetry every 100 samples.
type pollStats struct {
	mu            sync.Mutex
	count         int
	sum           time.Duration
	min           time.Duration
	max           time.Duration
	last          time.Time
	warnThreshold time.Duration
}

func (s *pollStats) record(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.last.IsZero() {
		interval := now.Sub(s.last)
		s.sum += interval
		s.count++
		if s.min == 0 || interval < s.min {
			s.min = interval
		}
		if interval > s.max {
			s.max = interval
		}

		if s.count >= 100 {
			avg := s.sum / time.Duration(s.count)
			warn := s.warnThreshold
			if warn <= 0 {
				warn = 30 * time.Millisecond
			}
			if avg > warn {
				log.Printf("[ble] poll-rate warning: avg=%s min=%s max=%s over %d samples", avg, s.min, s.max, s.count)
			}
			s.count, s.sum, s.min, s.max = 0, 0, 0, 0
		}
	}
	s.last = now
}

// Poller runs four cooperative loops: monitor, diagnostic, heartbeat,
// and disco. Start/stop/restart are centrally
// orchestrated here; the disco loop is mutually exclusive with any
// running workout.
type Poller struct {
	conn  *Connection
	queue *OperationQueue

	diagInterval      time.Duration
	heartbeatInterval time.Duration

	onMonitor    MonitorSink
	onDiagnostic func(model.DiagnosticPacket)
	eventBus     *core.EventBus

	mu             sync.Mutex
	monitorCancel  context.CancelFunc
	discoCancel    context.CancelFunc
	groupCancel    context.CancelFunc
	forAutoStart   bool
	monitorStats   pollStats
}

// NewPoller constructs a Poller bound to the given connection, command
// queue, and sinks. pollWarnAvg is the avg-poll-interval threshold above
// which the monitor loop logs a warning every 100 samples; zero selects
// a 30ms default.
func NewPoller(conn *Connection, queue *OperationQueue, eb *core.EventBus, diagInterval, heartbeatInterval, pollWarnAvg time.Duration, onMonitor MonitorSink, onDiagnostic func(model.DiagnosticPacket)) *Poller {
	return &Poller{
		conn:              conn,
		queue:             queue,
		diagInterval:      diagInterval,
		heartbeatInterval: heartbeatInterval,
		onMonitor:         onMonitor,
		onDiagnostic:      onDiagnostic,
		eventBus:          eb,
		monitorStats:      pollStats{warnThreshold: pollWarnAvg},
	}
}

// StartAll starts monitor, diagnostic, and heartbeat loops (never
// disco) under a group context derived from ctx.
func (p *Poller) StartAll(ctx context.Context, forAutoStart bool) {
	groupCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(groupCtx)
	monitorCtx, monitorCancel := context.WithCancel(gctx)

	p.mu.Lock()
	p.groupCancel = cancel
	p.monitorCancel = monitorCancel
	p.mu.Unlock()

	g.Go(func() error { return p.runMonitorLoop(monitorCtx, forAutoStart) })
	g.Go(func() error { return p.runDiagnosticLoop(gctx) })
	g.Go(func() error { return p.runHeartbeatLoop(gctx) })

	go func() {
		if err := g.Wait(); err != nil && gctx.Err() == nil {
			log.Printf("[ble] polling group ended: %v", err)
		}
	}()
}

// StopAll cancels every running loop including disco.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.groupCancel != nil {
		p.groupCancel()
		p.groupCancel = nil
	}
	if p.monitorCancel != nil {
		p.monitorCancel()
		p.monitorCancel = nil
	}
	if p.discoCancel != nil {
		p.discoCancel()
		p.discoCancel = nil
	}
}

// RestartMonitorPolling stops and restarts only the monitor loop.
func (p *Poller) RestartMonitorPolling(ctx context.Context, forAutoStart bool) {
	p.mu.Lock()
	if p.monitorCancel != nil {
		p.monitorCancel()
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	p.monitorCancel = cancel
	p.mu.Unlock()

	go func() {
		if err := p.runMonitorLoop(monitorCtx, forAutoStart); err != nil {
			log.Printf("[ble] monitor loop restart ended: %v", err)
		}
	}()
}

// RestartAll stops all loops and restarts monitor, diagnostic, and
// heartbeat (never disco).
func (p *Poller) RestartAll(ctx context.Context, forAutoStart bool) {
	p.StopAll()
	p.StartAll(ctx, forAutoStart)
}

func (p *Poller) runMonitorLoop(ctx context.Context, forAutoStart bool) error {
	buf := make([]byte, 32)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		monitorChar, _, _, hasLink := p.conn.CurrentPeripheral()
		if !hasLink {
			return nil
		}

		n, err := p.queue.Read(ctx, monitorChar, buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}

		p.monitorStats.record(time.Now())

		pkt, err := ParseMonitorFrame(buf[:n])
		if err != nil {
			continue
		}
		if p.onMonitor != nil {
			p.onMonitor(pkt, forAutoStart)
		}
	}
}

func (p *Poller) runDiagnosticLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.diagInterval)
	defer ticker.Stop()

	buf := make([]byte, diagnosticFrameLen)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, diagChar, _, hasLink := p.conn.CurrentPeripheral()
			if !hasLink {
				return nil
			}
			n, err := p.queue.Read(ctx, diagChar, buf)
			if err != nil {
				continue
			}
			pkt, err := ParseDiagnosticFrame(buf[:n])
			if err != nil {
				continue
			}
			if p.onDiagnostic != nil {
				p.onDiagnostic(pkt)
			}
		}
	}
}

func (p *Poller) runHeartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	buf := make([]byte, 32)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			monitorChar, _, txChar, hasLink := p.conn.CurrentPeripheral()
			if !hasLink {
				return nil
			}
			if _, err := p.queue.Read(ctx, monitorChar, buf); err != nil {
				log.Printf("[ble] heartbeat read failed, sending no-op: %v", err)
				_ = p.queue.Write(ctx, txChar, []byte{0x00, 0x00, 0x00, 0x00}, false)
			}
		}
	}
}

// StartDisco runs the idle-mode color-sequencing loop, cancelled by
// any workout start. Steps come from the disco engine; this method
// only owns the loop's lifecycle and yields to a workout start via
// ctx cancellation.
func (p *Poller) StartDisco(ctx context.Context, step func(ctx context.Context) error) {
	p.mu.Lock()
	discoCtx, cancel := context.WithCancel(ctx)
	p.discoCancel = cancel
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-discoCtx.Done():
				return
			default:
			}
			if err := step(discoCtx); err != nil {
				return
			}
		}
	}()
}

// StopDisco cancels the disco loop without affecting the other loops.
func (p *Poller) StopDisco() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discoCancel != nil {
		p.discoCancel()
		p.discoCancel = nil
	}
}
