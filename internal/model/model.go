// Package model holds the plain data entities shared across the trainer
// control core: the wire-level packet shapes, the validated metric and
// event records derived from them, and the session-level aggregates
// handed to external collaborators.
package model

import "time"

// ScannedDevice is one entry of the current scan-session device list.
type ScannedDevice struct {
	Name    string
	Address string
	RSSI    int8
}

// ConnectionPhase is the tag of the ConnectionState variant.
type ConnectionPhase int

const (
	Disconnected ConnectionPhase = iota
	Scanning
	Connecting
	Connected
)

func (p ConnectionPhase) String() string {
	switch p {
	case Disconnected:
		return "Disconnected"
	case Scanning:
		return "Scanning"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// ConnectionState is the single-writer, multi-reader tagged variant
// describing the connection manager's current phase.
type ConnectionState struct {
	Phase        ConnectionPhase
	Name         string
	Address      string
	HardwareModel string
}

// MonitorPacket is the raw decode of a monitor notification frame.
// Positions are millimeters (raw/10), loads are kilograms (raw/100).
// FwVelA/FwVelB hold the raw signed firmware velocities in 0.1 mm/s
// units; divide by 10 for mm/s.
type MonitorPacket struct {
	Ticks    uint32
	PosAmm   float32
	PosBmm   float32
	LoadAkg  float32
	LoadBkg  float32
	FwVelA   int16
	FwVelB   int16
	Status   uint16
}

// Status bit flags carried in MonitorPacket.Status.
const (
	StatusOutsideHigh    uint16 = 1 << 0
	StatusOutsideLow     uint16 = 1 << 1
	StatusDeloadOccurred uint16 = 1 << 2
	StatusDeloadWarn     uint16 = 1 << 3
	StatusSpotterActive  uint16 = 1 << 4
	StatusRepReady       uint16 = 1 << 5
)

// WorkoutMetric is a validated MonitorPacket plus smoothed velocities and
// a wall-clock timestamp.
type WorkoutMetric struct {
	MonitorPacket
	VelAmmps float64
	VelBmmps float64
	TimestampMs int64
}

// RepShape distinguishes the two RepNotification wire shapes.
type RepShape int

const (
	RepLegacy6 RepShape = iota
	RepModern24
)

// RepNotification is the tagged variant produced from either the REPS
// characteristic (no opcode) or RX opcode 0x02.
type RepNotification struct {
	Shape RepShape

	// Legacy6 fields.
	Top      uint16
	Complete uint16

	// Modern24 fields.
	WarmupDone     uint16
	WarmupTarget   uint16
	WorkingDone    uint16
	WorkingTarget  uint16
	RangeTop       uint16
	RangeBottom    uint16
}

// DiagnosticPacket is the decoded diagnostic-characteristic frame.
type DiagnosticPacket struct {
	Seconds   uint32
	Faults    [4]int16
	Temps     [8]int8
	HasFaults bool
}

// PhaseStats is one concentric-or-eccentric half of a HeuristicStatistics frame.
type PhaseStats struct {
	KgAvg   float32
	KgMax   float32
	VelAvg  float32
	VelMax  float32
	WattAvg float32
	WattMax float32
}

// HeuristicStatistics is the latest snapshot of per-phase load/velocity/power
// statistics reported by the trainer.
type HeuristicStatistics struct {
	Concentric PhaseStats
	Eccentric  PhaseStats
}

// HandleState is the auto-start/auto-stop gating state machine's current state.
type HandleState int

const (
	HandleDisabled HandleState = iota
	HandleWaitingForRest
	HandleReleased
	HandleGrabbed
)

func (h HandleState) String() string {
	switch h {
	case HandleDisabled:
		return "Disabled"
	case HandleWaitingForRest:
		return "WaitingForRest"
	case HandleReleased:
		return "Released"
	case HandleGrabbed:
		return "Grabbed"
	default:
		return "Unknown"
	}
}

// HandleDetection is a point-in-time summary of the handle detector.
type HandleDetection struct {
	State      HandleState
	MaxPos     float64
	MaxVel     float64
	SinceMs    int64
}

// ProgramMode distinguishes the trainer's program-mode profiles.
type ProgramMode int

const (
	ProgramOldSchool ProgramMode = iota
	ProgramEcho
	ProgramJustLift
)

// WorkoutParameters are the immutable-per-session configuration values;
// only weight is live-updatable mid-session.
type WorkoutParameters struct {
	ProgramMode      ProgramMode
	WeightPerCableKg float64
	WarmupReps       int
	WorkingReps      int
	Progression      int
	IsJustLift       bool
	IsEchoMode       bool
	EchoLevel        int
	EccentricLoadKg  float64
}

// RepEvent is counted rep output, fused from both ingress paths in
// internal/reps.
type RepEvent struct {
	WarmupDone    int
	WarmupTarget  int
	WorkingDone   int
	WorkingTarget int
	Source        RepShape
	TimestampMs   int64
}

// WorkoutSession is the complete record surfaced to storage on set completion.
type WorkoutSession struct {
	ID          string
	StartedAt   time.Time
	EndedAt     time.Time
	Params      WorkoutParameters
	Metrics     []WorkoutMetric
	Reps        []RepEvent
	PhaseStats  HeuristicStatistics
	Notes       string
}

// ReconnectionRequest is emitted when a connection drops while the device
// had previously connected and the disconnect was not explicit.
type ReconnectionRequest struct {
	DeviceName  string
	Address     string
	Reason      string
	TimestampMs int64
}
