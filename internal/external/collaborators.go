// Package external declares the boundary contracts the control core
// consumes from or exposes to systems outside its scope: UI,
// persistent storage, and the pure frame-building collaborator.
package external

import "trainer-core/internal/model"

// BlePacketFactory is the pure builder of CONFIG/START/STOP/COLOR
// frames from WorkoutParameters. The default implementation lives in
// internal/ble as PacketFactory.
type BlePacketFactory interface {
	BuildInit() []byte
	BuildReset() []byte
	BuildStop() []byte
	BuildStart() []byte
	BuildColor(schemeIndex byte) []byte
	BuildConfig(p model.WorkoutParameters) []byte
	RebuildConfigWeight(existing []byte, weightKg float64) []byte
}

// LogEventType keys the structured log sink below.
type LogEventType string

const (
	LogScanStart      LogEventType = "SCAN_START"
	LogDeviceFound     LogEventType = "DEVICE_FOUND"
	LogConnectSuccess LogEventType = "CONNECT_SUCCESS"
	LogNotification   LogEventType = "NOTIFICATION"
	LogCommandSent    LogEventType = "COMMAND_SENT"
	LogRepReceived    LogEventType = "REP_RECEIVED"
	LogMTUChanged     LogEventType = "MTU_CHANGED"
	LogError          LogEventType = "ERROR"
)

// ConnectionLogRepository is the structured log sink collaborator:
// info/warn/error entries keyed by LogEventType.
type ConnectionLogRepository interface {
	Info(event LogEventType, fields map[string]interface{})
	Warn(event LogEventType, fields map[string]interface{})
	Error(event LogEventType, fields map[string]interface{})
}

// WorkoutRepository is the storage collaborator: it receives the
// complete WorkoutSession on set completion. Persistence, schema, and
// cloud sync are explicitly out of scope for the core; this interface
// only names the handoff.
type WorkoutRepository interface {
	Save(session model.WorkoutSession) error
}
