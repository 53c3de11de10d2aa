package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
)

// TestParseMonitorFrame_DecodesKnownFrame verifies a literal 18-byte
// monitor frame decodes to the exact field values it was built from.
func TestParseMonitorFrame_DecodesKnownFrame(t *testing.T) {
	frame := []byte{
		0x00, 0x01, // ticks = 1
		0x00, 0x64, // pos_a_raw = 100 -> 10.0mm
		0x00, 0x6E, // pos_b_raw = 110 -> 11.0mm
		0x03, 0x20, // fw_vel_a = 800
		0x00, 0x0A, // load_a_raw = 10 -> 0.10kg
		0x00, 0x0F, // load_b_raw = 15 -> 0.15kg
		0xFD, 0xE0, // fw_vel_b = -544
		0x00, 0x00, // padding
		0x00, 0x04, // status = 0x0004
	}

	pkt, err := ParseMonitorFrame(frame)
	require.NoError(t, err)

	assert.EqualValues(t, 1, pkt.Ticks)
	assert.InDelta(t, 10.0, pkt.PosAmm, 0.001)
	assert.InDelta(t, 11.0, pkt.PosBmm, 0.001)
	assert.EqualValues(t, 800, pkt.FwVelA)
	assert.EqualValues(t, -544, pkt.FwVelB)
	assert.InDelta(t, 0.10, pkt.LoadAkg, 0.001)
	assert.InDelta(t, 0.15, pkt.LoadBkg, 0.001)
	assert.EqualValues(t, 0x0004, pkt.Status)
}

func TestParseMonitorFrame_TooShort(t *testing.T) {
	_, err := ParseMonitorFrame(make([]byte, 10))
	require.Error(t, err)
	var shortErr *model.FrameTooShortError
	require.ErrorAs(t, err, &shortErr)
	assert.Equal(t, minMonitorFrameLen, shortErr.Need)
	assert.Equal(t, 10, shortErr.Got)
}

func TestMonitorFrame_RoundTrip(t *testing.T) {
	original := []byte{
		0x00, 0x2A,
		0x04, 0xD2, // pos_a_raw = 1234
		0x02, 0x38, // pos_b_raw = 568
		0xFF, 0x38, // fw_vel_a = -200
		0x04, 0xCB, // load_a_raw = 1227
		0x11, 0xDC, // load_b_raw = 4572
		0x01, 0x2C, // fw_vel_b = 300
		0x00, 0x00,
		0x00, 0x0A,
	}

	decoded, err := ParseMonitorFrame(original)
	require.NoError(t, err)

	reencoded := EncodeMonitorFrame(decoded)
	assert.Equal(t, original, reencoded)

	redecoded, err := ParseMonitorFrame(reencoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, redecoded)
}

func TestParseRepFrame_Legacy6(t *testing.T) {
	frame := []byte{0x00, 0x05, 0x00, 0x03, 0xFF, 0xFF}
	n, err := ParseRepFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, model.RepLegacy6, n.Shape)
	assert.EqualValues(t, 5, n.Top)
	assert.EqualValues(t, 3, n.Complete)
}

func TestParseRepFrame_Modern24(t *testing.T) {
	frame := make([]byte, 24)
	frame[1] = 1  // top
	frame[3] = 2  // complete
	frame[5] = 3  // warmup done
	frame[7] = 4  // warmup target
	frame[9] = 5  // working done
	frame[11] = 6 // working target
	frame[13] = 7 // range top
	frame[15] = 8 // range bottom

	n, err := ParseRepFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, model.RepModern24, n.Shape)
	assert.EqualValues(t, 3, n.WarmupDone)
	assert.EqualValues(t, 6, n.WorkingTarget)
	assert.EqualValues(t, 8, n.RangeBottom)
}

func TestParseRepFrame_TooShort(t *testing.T) {
	_, err := ParseRepFrame([]byte{0x01, 0x02})
	require.Error(t, err)
	var shortErr *model.FrameTooShortError
	require.ErrorAs(t, err, &shortErr)
}

// TestParseRepFrame_OpcodePrefixStripped verifies that callers strip a
// one-byte RX opcode prefix before parsing.
func TestParseRepFrame_OpcodePrefixStripped(t *testing.T) {
	withOpcode := append([]byte{OpcodeRep}, 0x00, 0x05, 0x00, 0x03, 0xFF, 0xFF)
	n, err := ParseRepFrame(withOpcode[1:])
	require.NoError(t, err)
	assert.EqualValues(t, 5, n.Top)
}

func TestParseDiagnosticFrame(t *testing.T) {
	frame := make([]byte, diagnosticFrameLen)
	frame[0], frame[1], frame[2], frame[3] = 0x00, 0x00, 0x00, 0x05 // seconds = 5
	frame[4], frame[5] = 0x00, 0x01                                 // fault[0] = 1
	temps := frame[12:20]
	for i := range temps {
		temps[i] = byte(20 + i)
	}

	pkt, err := ParseDiagnosticFrame(frame)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pkt.Seconds)
	assert.True(t, pkt.HasFaults)
	assert.EqualValues(t, 1, pkt.Faults[0])
	assert.EqualValues(t, 0, pkt.Faults[1])
	assert.EqualValues(t, 20, pkt.Temps[0])
}

func TestParseDiagnosticFrame_NoFaults(t *testing.T) {
	frame := make([]byte, diagnosticFrameLen)
	pkt, err := ParseDiagnosticFrame(frame)
	require.NoError(t, err)
	assert.False(t, pkt.HasFaults)
}

func TestParseHeuristicFrame(t *testing.T) {
	frame := make([]byte, heuristicFrameLen)
	// Only assert length-gated success; the float32 decoding of the
	// PhaseStats fields is not checked here.
	_, err := ParseHeuristicFrame(frame)
	require.NoError(t, err)

	_, err = ParseHeuristicFrame(frame[:10])
	require.Error(t, err)
}
