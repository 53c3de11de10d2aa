package ble

import (
	"encoding/binary"
	"math"

	"trainer-core/internal/model"
)

const minMonitorFrameLen = 16

// ParseMonitorFrame decodes a monitor notification into a MonitorPacket.
// Positions and loads are big-endian; load uses the raw/100 scale (the
// alternative raw/10 interpretation is not used here — see DESIGN.md).
// The firmware-velocity fields are decoded big-endian to match the
// literal test vector that grounds this decoder, even though other
// documentation describes them as little-endian; this divergence is
// recorded in DESIGN.md.
func ParseMonitorFrame(b []byte) (model.MonitorPacket, error) {
	if len(b) < minMonitorFrameLen {
		return model.MonitorPacket{}, &model.FrameTooShortError{Need: minMonitorFrameLen, Got: len(b)}
	}

	ticks := binary.BigEndian.Uint16(b[0:2])
	posARaw := binary.BigEndian.Uint16(b[2:4])
	posBRaw := binary.BigEndian.Uint16(b[4:6])
	fwVelA := int16(binary.BigEndian.Uint16(b[6:8]))
	loadARaw := binary.BigEndian.Uint16(b[8:10])
	loadBRaw := binary.BigEndian.Uint16(b[10:12])
	fwVelB := int16(binary.BigEndian.Uint16(b[12:14]))

	var status uint16
	if len(b) >= 18 {
		status = binary.BigEndian.Uint16(b[16:18])
	}

	return model.MonitorPacket{
		Ticks:   uint32(ticks),
		PosAmm:  float32(posARaw) / 10.0,
		PosBmm:  float32(posBRaw) / 10.0,
		LoadAkg: float32(loadARaw) / 100.0,
		LoadBkg: float32(loadBRaw) / 100.0,
		FwVelA:  fwVelA,
		FwVelB:  fwVelB,
		Status:  status,
	}, nil
}

// EncodeMonitorFrame is the inverse of ParseMonitorFrame, used by the
// round-trip property test. It always emits an 18-byte frame (status
// included).
func EncodeMonitorFrame(p model.MonitorPacket) []byte {
	b := make([]byte, 18)
	binary.BigEndian.PutUint16(b[0:2], uint16(p.Ticks))
	binary.BigEndian.PutUint16(b[2:4], uint16(math.Round(float64(p.PosAmm)*10.0)))
	binary.BigEndian.PutUint16(b[4:6], uint16(math.Round(float64(p.PosBmm)*10.0)))
	binary.BigEndian.PutUint16(b[6:8], uint16(p.FwVelA))
	binary.BigEndian.PutUint16(b[8:10], uint16(math.Round(float64(p.LoadAkg)*100.0)))
	binary.BigEndian.PutUint16(b[10:12], uint16(math.Round(float64(p.LoadBkg)*100.0)))
	binary.BigEndian.PutUint16(b[12:14], uint16(p.FwVelB))
	binary.BigEndian.PutUint16(b[16:18], p.Status)
	return b
}

const (
	legacyRepFrameLen = 6
	modernRepFrameLen = 24
)

// ParseRepFrame decodes a rep notification, selecting shape by length.
// Callers must strip the one-byte opcode prefix first when the frame
// arrived over RX rather than the REPS characteristic.
func ParseRepFrame(b []byte) (model.RepNotification, error) {
	switch {
	case len(b) >= modernRepFrameLen:
		return model.RepNotification{
			Shape:         model.RepModern24,
			Top:           binary.BigEndian.Uint16(b[0:2]),
			Complete:      binary.BigEndian.Uint16(b[2:4]),
			WarmupDone:    binary.BigEndian.Uint16(b[4:6]),
			WarmupTarget:  binary.BigEndian.Uint16(b[6:8]),
			WorkingDone:   binary.BigEndian.Uint16(b[8:10]),
			WorkingTarget: binary.BigEndian.Uint16(b[10:12]),
			RangeTop:      binary.BigEndian.Uint16(b[12:14]),
			RangeBottom:   binary.BigEndian.Uint16(b[14:16]),
		}, nil
	case len(b) >= legacyRepFrameLen:
		return model.RepNotification{
			Shape:    model.RepLegacy6,
			Top:      binary.BigEndian.Uint16(b[0:2]),
			Complete: binary.BigEndian.Uint16(b[2:4]),
		}, nil
	default:
		return model.RepNotification{}, &model.FrameTooShortError{Need: legacyRepFrameLen, Got: len(b)}
	}
}

const diagnosticFrameLen = 4 + 2*4 + 8 // seconds(4) + faults(4*i16) + temps(8*i8)

// ParseDiagnosticFrame decodes a diagnostic notification: a u32 second
// counter, four i16 fault codes, and eight i8 temperature readings.
func ParseDiagnosticFrame(b []byte) (model.DiagnosticPacket, error) {
	if len(b) < diagnosticFrameLen {
		return model.DiagnosticPacket{}, &model.FrameTooShortError{Need: diagnosticFrameLen, Got: len(b)}
	}

	seconds := binary.BigEndian.Uint32(b[0:4])

	var faults [4]int16
	hasFaults := false
	for i := 0; i < 4; i++ {
		off := 4 + i*2
		faults[i] = int16(binary.BigEndian.Uint16(b[off : off+2]))
		if faults[i] != 0 {
			hasFaults = true
		}
	}

	var temps [8]int8
	for i := 0; i < 8; i++ {
		temps[i] = int8(b[12+i])
	}

	return model.DiagnosticPacket{
		Seconds:   seconds,
		Faults:    faults,
		Temps:     temps,
		HasFaults: hasFaults,
	}, nil
}

const heuristicFrameLen = 48

// ParseHeuristicFrame decodes the 48-byte heuristic frame: two mirrored
// 24-byte PhaseStats blocks, concentric then eccentric, little-endian.
func ParseHeuristicFrame(b []byte) (model.HeuristicStatistics, error) {
	if len(b) < heuristicFrameLen {
		return model.HeuristicStatistics{}, &model.FrameTooShortError{Need: heuristicFrameLen, Got: len(b)}
	}

	return model.HeuristicStatistics{
		Concentric: parsePhaseStats(b[0:24]),
		Eccentric:  parsePhaseStats(b[24:48]),
	}, nil
}

func parsePhaseStats(b []byte) model.PhaseStats {
	return model.PhaseStats{
		KgAvg:   readFloat32LE(b[0:4]),
		KgMax:   readFloat32LE(b[4:8]),
		VelAvg:  readFloat32LE(b[8:12]),
		VelMax:  readFloat32LE(b[12:16]),
		WattAvg: readFloat32LE(b[16:20]),
		WattMax: readFloat32LE(b[20:24]),
	}
}

func readFloat32LE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
