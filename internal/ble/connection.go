// Package ble implements the trainer's BLE transport: the connection
// manager, operation queue, polling engine, packet parsers, and command
// sequencer.
package ble

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"trainer-core/internal/core"
	"trainer-core/internal/model"

	"tinygo.org/x/bluetooth"
)

var adapter = bluetooth.DefaultAdapter

// Connection owns the peripheral handle exclusively and runs the
// connection state machine for a multi-characteristic trainer link:
// scan, connect with retry, discover services and characteristics,
// subscribe notifications, and recover from unexpected disconnects.
type Connection struct {
	namePrefixes []string

	scanTimeout       time.Duration
	connectTimeout    time.Duration
	connectRetryCount int
	connectRetryDelay time.Duration
	desiredMTU        uint16

	queue    *OperationQueue
	platform PlatformGatt
	eventBus *core.EventBus

	mu            sync.RWMutex
	device        bluetooth.Device
	txChar        bluetooth.DeviceCharacteristic
	monitorChar   bluetooth.DeviceCharacteristic
	repsChar      bluetooth.DeviceCharacteristic
	diagChar      bluetooth.DeviceCharacteristic
	heuristicChar bluetooth.DeviceCharacteristic
	versionChar   bluetooth.DeviceCharacteristic
	modeChar      bluetooth.DeviceCharacteristic

	hasLink bool

	wasEverConnected  bool
	explicitDisconnect bool

	disconnectChan chan struct{}

	opcodeBroadcast chan opcodeEvent
	repSink         func([]byte)
}

type opcodeEvent struct {
	opcode byte
	data   []byte
}

// NewConnection builds a Connection bound to the given operation queue
// and event bus. A nil platform uses the default PlatformGatt.
func NewConnection(eb *core.EventBus, queue *OperationQueue, platform PlatformGatt, namePrefixes []string, scanTimeout, connectTimeout time.Duration, connectRetryCount int, connectRetryDelay time.Duration, desiredMTU uint16) *Connection {
	if platform == nil {
		platform = NewDefaultPlatformGatt()
	}
	return &Connection{
		namePrefixes:      namePrefixes,
		scanTimeout:       scanTimeout,
		connectTimeout:    connectTimeout,
		connectRetryCount: connectRetryCount,
		connectRetryDelay: connectRetryDelay,
		desiredMTU:        desiredMTU,
		queue:             queue,
		platform:          platform,
		eventBus:          eb,
		disconnectChan:    make(chan struct{}, 1),
		opcodeBroadcast:   make(chan opcodeEvent, 16),
	}
}

func (c *Connection) publishState(s core.Event) {
	if c.eventBus != nil {
		c.eventBus.Publish(s)
	}
}

// advertisementQualifies reports whether a scan result looks like a
// compatible trainer: name prefix match, service UUID match, or
// non-empty 0000fef3 service data.
func (c *Connection) advertisementQualifies(result bluetooth.ScanResult) bool {
	name := result.LocalName()
	for _, prefix := range c.namePrefixes {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			return true
		}
	}

	for _, uuid := range result.AdvertisementPayload.ServiceUUIDs() {
		if uuid == FilterServiceUUID || uuid == NUSServiceUUID {
			return true
		}
	}

	for _, sd := range result.AdvertisementPayload.ServiceData() {
		if sd.UUID == FilterServiceUUID && len(sd.Data) > 0 {
			return true
		}
	}

	return false
}

// Run drives the connection state machine forever until ctx is
// cancelled: Disconnected -> Scanning -> Connecting -> Connected, with
// retry+timeout budgets and a ReconnectionRequest emitted whenever the
// link drops without an explicit disconnect.
func (c *Connection) Run(ctx context.Context, onReady func(ctx context.Context)) {
	c.publishState(core.Event{Type: core.ConnectionStateEvent, Payload: model.ConnectionState{Phase: model.Disconnected}})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := adapter.Enable(); err != nil {
			log.Printf("[ble] adapter enable failed: %v", err)
			time.Sleep(c.connectRetryDelay)
			continue
		}

		c.explicitDisconnect = false

		scanResult, ok := c.scan(ctx)
		if !ok {
			continue
		}

		device, ok := c.connectWithRetry(ctx, scanResult)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.device = device
		c.hasLink = true
		c.wasEverConnected = true
		c.mu.Unlock()

		c.publishState(core.Event{
			Type: core.ConnectionStateEvent,
			Payload: model.ConnectionState{
				Phase:   model.Connected,
				Name:    scanResult.LocalName(),
				Address: scanResult.Address.String(),
			},
		})

		if err := c.onReadySequence(ctx, device); err != nil {
			log.Printf("[ble] on-ready sequence failed: %v", err)
			c.teardown(device, scanResult, "ready_sequence_failed")
			time.Sleep(c.connectRetryDelay)
			continue
		}

		if onReady != nil {
			onReady(ctx)
		}

		c.waitForDisconnect(ctx)
		c.teardown(device, scanResult, "link_lost")
	}
}

func (c *Connection) scan(ctx context.Context) (bluetooth.ScanResult, bool) {
	c.publishState(core.Event{Type: core.ConnectionStateEvent, Payload: model.ConnectionState{Phase: model.Scanning}})

	adapter.StopScan()
	found := make(chan bluetooth.ScanResult, 1)

	go func() {
		err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if c.advertisementQualifies(result) {
				a.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
		if err != nil {
			log.Printf("[ble] %v: %v", ErrScanFailed, err)
		}
	}()

	scanCtx, cancel := context.WithTimeout(ctx, c.scanTimeout)
	defer cancel()

	select {
	case result := <-found:
		return result, true
	case <-scanCtx.Done():
		adapter.StopScan()
		select {
		case <-ctx.Done():
		default:
			time.Sleep(c.connectRetryDelay)
		}
		return bluetooth.ScanResult{}, false
	}
}

func (c *Connection) connectWithRetry(ctx context.Context, scanResult bluetooth.ScanResult) (bluetooth.Device, bool) {
	c.publishState(core.Event{Type: core.ConnectionStateEvent, Payload: model.ConnectionState{Phase: model.Connecting}})

	var lastErr error
	for attempt := 1; attempt <= c.connectRetryCount; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)

		type result struct {
			device bluetooth.Device
			err    error
		}
		done := make(chan result, 1)

		go func() {
			d, err := adapter.Connect(scanResult.Address, bluetooth.ConnectionParams{})
			done <- result{d, err}
		}()

		select {
		case r := <-done:
			cancel()
			if r.err == nil {
				return r.device, true
			}
			lastErr = r.err
		case <-connectCtx.Done():
			cancel()
			lastErr = &ConnectFailedError{AfterAttempts: attempt, Cause: fmt.Errorf("timeout")}
		case <-ctx.Done():
			cancel()
			return bluetooth.Device{}, false
		}

		if attempt < c.connectRetryCount {
			time.Sleep(c.connectRetryDelay)
		}
	}

	log.Printf("[ble] connect failed after %d attempts: %v", c.connectRetryCount, lastErr)
	c.publishState(core.Event{Type: core.ConnectionStateEvent, Payload: model.ConnectionState{Phase: model.Disconnected}})
	time.Sleep(c.connectRetryDelay)
	return bluetooth.Device{}, false
}

// onReadySequence runs the ordered on-ready sequence: priority request,
// MTU negotiation, service enumeration, firmware version reads,
// notification subscriptions.
func (c *Connection) onReadySequence(ctx context.Context, device bluetooth.Device) error {
	if err := c.platform.RequestHighPriority(device); err != nil {
		log.Printf("[ble] high priority request: %v", err)
	}

	if mtu, err := c.platform.RequestMTU(device, c.desiredMTU); err == nil && mtu > 0 {
		log.Printf("[ble] negotiated MTU=%d", mtu)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{NUSServiceUUID})
	if err != nil || len(services) == 0 {
		log.Printf("[ble] warning: NUS service not found")
	} else {
		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{TXCharUUID, RXCharUUID})
		if err != nil {
			log.Printf("[ble] warning: TX/RX characteristics not found: %v", err)
		}
		for _, ch := range chars {
			switch ch.UUID() {
			case TXCharUUID:
				c.mu.Lock()
				c.txChar = ch
				c.mu.Unlock()
			}
		}
	}

	if err := c.discoverProprietaryCharacteristics(device); err != nil {
		return err
	}

	c.readFirmwareRevision(device)

	if err := c.subscribeNotifications(); err != nil {
		return err
	}

	return nil
}

func (c *Connection) discoverProprietaryCharacteristics(device bluetooth.Device) error {
	wantUUIDs := []bluetooth.UUID{MonitorCharUUID, RepsCharUUID, DiagnosticCharUUID, HeuristicCharUUID, VersionCharUUID, ModeCharUUID}
	services, err := device.DiscoverServices([]bluetooth.UUID{NUSServiceUUID})
	if err != nil || len(services) == 0 {
		return ErrCharacteristicMissing
	}

	chars, err := services[0].DiscoverCharacteristics(wantUUIDs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chars {
		switch ch.UUID() {
		case MonitorCharUUID:
			c.monitorChar = ch
		case RepsCharUUID:
			c.repsChar = ch
		case DiagnosticCharUUID:
			c.diagChar = ch
		case HeuristicCharUUID:
			c.heuristicChar = ch
		case VersionCharUUID:
			c.versionChar = ch
		case ModeCharUUID:
			c.modeChar = ch
		}
	}
	return nil
}

func (c *Connection) readFirmwareRevision(device bluetooth.Device) {
	services, err := device.DiscoverServices([]bluetooth.UUID{DeviceInfoServiceUUID})
	if err != nil || len(services) == 0 {
		return
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{FirmwareRevisionCharUUID})
	if err != nil || len(chars) == 0 {
		return
	}
	buf := make([]byte, 32)
	if n, err := chars[0].Read(buf); err == nil {
		log.Printf("[ble] firmware revision: %s", string(buf[:n]))
	}
}

// subscribeNotifications subscribes to REPS, VERSION, and MODE only.
// Standard NUS RX (6e400003) is intentionally never subscribed: this
// trainer notifies over its proprietary characteristics instead.
func (c *Connection) subscribeNotifications() error {
	c.mu.RLock()
	repsChar := c.repsChar
	versionChar := c.versionChar
	modeChar := c.modeChar
	c.mu.RUnlock()

	if err := repsChar.EnableNotifications(c.onRepNotification); err != nil {
		return err
	}
	if err := versionChar.EnableNotifications(c.onOpaqueNotification); err != nil {
		log.Printf("[ble] version subscribe failed: %v", err)
	}
	if err := modeChar.EnableNotifications(c.onOpaqueNotification); err != nil {
		log.Printf("[ble] mode subscribe failed: %v", err)
	}
	return nil
}

func (c *Connection) onRepNotification(buf []byte) {
	c.broadcastOpcode(OpcodeRep, buf)
	c.mu.RLock()
	sink := c.repSink
	c.mu.RUnlock()
	if sink != nil {
		sink(buf)
	}
}

// SetRepSink registers the callback invoked with the raw payload of
// every REPS-characteristic notification. Must be called before Run
// starts subscribing notifications.
func (c *Connection) SetRepSink(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repSink = fn
}

// onOpaqueNotification handles VERSION/MODE notifications, which carry
// no fixed payload shape but do lead with an opcode byte when they
// carry a command acknowledgement. Recognized opcodes are broadcast
// for AwaitResponse; anything else is logged as unknown rather than
// silently dropped.
func (c *Connection) onOpaqueNotification(buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case OpcodeMonitor, OpcodeRep, OpcodeStart, OpcodeConfig, OpcodeReset, OpcodeColor, OpcodeEchoConfig, OpcodeStop:
		c.broadcastOpcode(buf[0], buf[1:])
	default:
		log.Printf("[ble] %v", &UnknownOpcodeError{Opcode: buf[0]})
	}
}

// broadcastOpcode fans a notification out to any pending AwaitResponse
// call, dropping it if no one is listening yet.
func (c *Connection) broadcastOpcode(opcode byte, data []byte) {
	select {
	case c.opcodeBroadcast <- opcodeEvent{opcode: opcode, data: data}:
	default:
	}
}

// AwaitResponse blocks until a notification carrying expectedOpcode
// arrives or timeout elapses.
func (c *Connection) AwaitResponse(expectedOpcode byte, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-c.opcodeBroadcast:
			if evt.opcode == expectedOpcode {
				return evt.data, nil
			}
		case <-deadline:
			return nil, &ResponseTimeoutError{Opcode: expectedOpcode}
		}
	}
}

func (c *Connection) waitForDisconnect(ctx context.Context) {
	select {
	case <-c.disconnectChan:
	case <-ctx.Done():
	}
}

// SignalDisconnect requests the connection manager tear down the
// current link on the next opportunity, as an unexpected/link-loss
// disconnect (not explicit).
func (c *Connection) SignalDisconnect() {
	select {
	case c.disconnectChan <- struct{}{}:
	default:
	}
}

// Disconnect requests an explicit, intentional disconnect: no
// ReconnectionRequest will be emitted for it.
func (c *Connection) Disconnect() {
	c.explicitDisconnect = true
	c.SignalDisconnect()
}

func (c *Connection) teardown(device bluetooth.Device, scanResult bluetooth.ScanResult, reason string) {
	c.mu.Lock()
	c.hasLink = false
	c.txChar = bluetooth.DeviceCharacteristic{}
	wasEverConnected := c.wasEverConnected
	explicit := c.explicitDisconnect
	c.mu.Unlock()

	_ = device.Disconnect()

	c.publishState(core.Event{Type: core.ConnectionStateEvent, Payload: model.ConnectionState{Phase: model.Disconnected}})

	if wasEverConnected && !explicit && scanResult.Address.String() != "" {
		c.publishState(core.Event{
			Type: core.ReconnectionEvent,
			Payload: model.ReconnectionRequest{
				DeviceName: scanResult.LocalName(),
				Address:    scanResult.Address.String(),
				Reason:     "unexpected_disconnect",
			},
		})
	}

	select {
	case <-c.disconnectChan:
	default:
	}
}

// CurrentPeripheral exposes the live device/characteristic handles the
// polling engine needs. The engine is inert when this returns
// hasLink=false.
func (c *Connection) CurrentPeripheral() (monitorChar, diagChar, txChar *bluetooth.DeviceCharacteristic, hasLink bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &c.monitorChar, &c.diagChar, &c.txChar, c.hasLink
}

// SendCommand writes a frame to TX through the operation queue and logs
// the hex payload.
func (c *Connection) SendCommand(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	txChar := c.txChar
	hasLink := c.hasLink
	c.mu.RUnlock()

	if !hasLink {
		return ErrNotConnected
	}

	log.Printf("[ble] command: % X", frame)

	if err := c.queue.Write(ctx, &txChar, frame, true); err != nil {
		c.SignalDisconnect()
		return err
	}

	// Diagnostic probe windows for the two CONFIG variants.
	if len(frame) > 0 {
		var rejected error
		switch frame[0] {
		case OpcodeEchoConfig:
			time.Sleep(200 * time.Millisecond)
			rejected = c.probeDiagnostic(ctx, frame[0])
		case OpcodeConfig:
			time.Sleep(350 * time.Millisecond)
			rejected = c.probeDiagnostic(ctx, frame[0])
		}
		if rejected != nil {
			log.Printf("[ble] %v", rejected)
		}
	}

	return nil
}

// WriteColorScheme sends the 4-byte color-scheme frame, satisfying
// disco.ColorWriter.
func (c *Connection) WriteColorScheme(ctx context.Context, schemeIndex byte) error {
	return c.SendCommand(ctx, NewPacketFactory().BuildColor(schemeIndex))
}

// ReadHeuristicSnapshot reads and decodes the latest heuristic-
// characteristic frame, used at session-completion time to attach
// phase statistics to the finished WorkoutSession.
func (c *Connection) ReadHeuristicSnapshot(ctx context.Context) (model.HeuristicStatistics, error) {
	c.mu.RLock()
	heuristicChar := c.heuristicChar
	hasLink := c.hasLink
	c.mu.RUnlock()

	if !hasLink {
		return model.HeuristicStatistics{}, ErrNotConnected
	}

	buf := make([]byte, 48)
	n, err := c.queue.Read(ctx, &heuristicChar, buf)
	if err != nil {
		return model.HeuristicStatistics{}, err
	}
	return ParseHeuristicFrame(buf[:n])
}

// probeDiagnostic reads the diagnostic characteristic once, shortly
// after a CONFIG/ECHO write, to catch faults the firmware raised in
// response to the command. A non-nil return means the command that
// triggered opcode carried is considered rejected.
func (c *Connection) probeDiagnostic(ctx context.Context, triggerOpcode byte) error {
	c.mu.RLock()
	diagChar := c.diagChar
	c.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	buf := make([]byte, diagnosticFrameLen)
	n, err := c.queue.Read(probeCtx, &diagChar, buf)
	if err != nil {
		return nil
	}
	if pkt, err := ParseDiagnosticFrame(buf[:n]); err == nil && pkt.HasFaults {
		return &CommandRejectedError{Opcode: triggerOpcode}
	}
	return nil
}
