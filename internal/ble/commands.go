package ble

import (
	"encoding/binary"

	"trainer-core/internal/model"
)

// Protocol opcodes for the trainer's proprietary command frames.
const (
	OpcodeMonitor    byte = 0x01
	OpcodeRep        byte = 0x02
	OpcodeStart      byte = 0x03
	OpcodeConfig     byte = 0x04
	OpcodeReset      byte = 0x0A
	OpcodeColor      byte = 0x10
	OpcodeEchoConfig byte = 0x4E
	OpcodeStop       byte = 0x50
)

const (
	programConfigLen = 96
	echoConfigLen    = 32
)

// PacketFactory is the default pure builder of CONFIG/START/STOP/COLOR
// frames from WorkoutParameters. It builds fixed-size byte arrays by
// hand rather than through a generic codec, since the frame layouts
// vary by opcode and program mode.
type PacketFactory struct{}

// NewPacketFactory returns the default pure frame builder.
func NewPacketFactory() *PacketFactory { return &PacketFactory{} }

// BuildInit returns the INIT/reset frame (0x0A), sent before every
// workout-start choreography to guarantee idempotent clean state.
func (PacketFactory) BuildInit() []byte {
	return []byte{OpcodeReset}
}

// BuildReset returns the same reset frame used both for INIT and for
// the stop choreography's RESET step.
func (PacketFactory) BuildReset() []byte {
	return []byte{OpcodeReset}
}

// BuildStop returns the official stop packet (0x50), sent by command
// dispatch paths that need the explicit stop opcode rather than a bare
// reset.
func (PacketFactory) BuildStop() []byte {
	return []byte{OpcodeStop}
}

// BuildStart returns the START frame (0x03) that engages the motors.
func (PacketFactory) BuildStart() []byte {
	return []byte{OpcodeStart}
}

// BuildColor returns the 4-byte color-scheme frame.
func (PacketFactory) BuildColor(schemeIndex byte) []byte {
	return []byte{OpcodeColor, schemeIndex, 0x00, 0x00}
}

// BuildConfig builds the CONFIG frame appropriate to the workout's
// program mode: a 96-byte Program frame (0x04) or a 32-byte Echo frame
// (0x4E). Weight is encoded as centi-kg little-endian u16.
func (PacketFactory) BuildConfig(p model.WorkoutParameters) []byte {
	if p.IsEchoMode {
		payload := make([]byte, echoConfigLen)
		payload[0] = OpcodeEchoConfig
		binary.LittleEndian.PutUint16(payload[1:3], uint16(p.EchoLevel))
		binary.LittleEndian.PutUint16(payload[3:5], uint16(p.WarmupReps))
		binary.LittleEndian.PutUint16(payload[5:7], uint16(p.EccentricLoadKg*100))
		return payload
	}

	payload := make([]byte, programConfigLen)
	payload[0] = OpcodeConfig
	payload[1] = byte(p.ProgramMode)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(p.WeightPerCableKg*100))
	binary.LittleEndian.PutUint16(payload[4:6], uint16(p.WarmupReps))
	binary.LittleEndian.PutUint16(payload[6:8], uint16(p.WorkingReps))
	payload[8] = byte(p.Progression)
	return payload
}

// RebuildConfigWeight rebuilds only the weight bytes of an already-built
// CONFIG frame for a live weight change: mode, reps, and progression
// are left untouched.
func (PacketFactory) RebuildConfigWeight(existing []byte, weightKg float64) []byte {
	out := make([]byte, len(existing))
	copy(out, existing)
	if len(out) >= 4 && out[0] == OpcodeConfig {
		binary.LittleEndian.PutUint16(out[2:4], uint16(weightKg*100))
	}
	return out
}
