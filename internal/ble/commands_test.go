package ble

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer-core/internal/model"
)

func TestPacketFactory_BuildInit_IsReset(t *testing.T) {
	f := NewPacketFactory()
	assert.Equal(t, []byte{OpcodeReset}, f.BuildInit())
}

func TestPacketFactory_BuildStop(t *testing.T) {
	f := NewPacketFactory()
	assert.Equal(t, []byte{OpcodeStop}, f.BuildStop())
}

func TestPacketFactory_BuildStart(t *testing.T) {
	f := NewPacketFactory()
	assert.Equal(t, []byte{OpcodeStart}, f.BuildStart())
}

func TestPacketFactory_BuildColor(t *testing.T) {
	f := NewPacketFactory()
	assert.Equal(t, []byte{OpcodeColor, 0x07, 0x00, 0x00}, f.BuildColor(0x07))
}

func TestPacketFactory_BuildConfig_ProgramFrame(t *testing.T) {
	f := NewPacketFactory()
	params := model.WorkoutParameters{
		ProgramMode:      model.ProgramOldSchool,
		WeightPerCableKg: 12.5,
		WarmupReps:       3,
		WorkingReps:      10,
		Progression:      2,
	}

	frame := f.BuildConfig(params)
	require.Len(t, frame, programConfigLen)
	assert.Equal(t, OpcodeConfig, frame[0])
	assert.Equal(t, byte(model.ProgramOldSchool), frame[1])
	assert.EqualValues(t, 1250, binary.LittleEndian.Uint16(frame[2:4]))
	assert.EqualValues(t, 3, binary.LittleEndian.Uint16(frame[4:6]))
	assert.EqualValues(t, 10, binary.LittleEndian.Uint16(frame[6:8]))
	assert.Equal(t, byte(2), frame[8])
}

func TestPacketFactory_BuildConfig_EchoFrame(t *testing.T) {
	f := NewPacketFactory()
	params := model.WorkoutParameters{
		IsEchoMode:      true,
		EchoLevel:       4,
		WarmupReps:      2,
		EccentricLoadKg: 8.0,
	}

	frame := f.BuildConfig(params)
	require.Len(t, frame, echoConfigLen)
	assert.Equal(t, OpcodeEchoConfig, frame[0])
	assert.EqualValues(t, 4, binary.LittleEndian.Uint16(frame[1:3]))
	assert.EqualValues(t, 2, binary.LittleEndian.Uint16(frame[3:5]))
	assert.EqualValues(t, 800, binary.LittleEndian.Uint16(frame[5:7]))
}

func TestPacketFactory_RebuildConfigWeight_OnlyTouchesWeightField(t *testing.T) {
	f := NewPacketFactory()
	original := f.BuildConfig(model.WorkoutParameters{
		ProgramMode: model.ProgramOldSchool,
		WarmupReps:  3,
		WorkingReps: 10,
		Progression: 2,
	})

	updated := f.RebuildConfigWeight(original, 20.0)
	require.Len(t, updated, len(original))
	assert.EqualValues(t, 2000, binary.LittleEndian.Uint16(updated[2:4]))
	assert.Equal(t, original[4:], updated[4:], "reps and progression must be untouched")
	assert.Equal(t, original[0], updated[0])
	assert.Equal(t, original[1], updated[1])
}

func TestPacketFactory_RebuildConfigWeight_IgnoresNonConfigFrame(t *testing.T) {
	f := NewPacketFactory()
	echo := f.BuildConfig(model.WorkoutParameters{IsEchoMode: true, EchoLevel: 1})

	updated := f.RebuildConfigWeight(echo, 20.0)
	assert.Equal(t, echo, updated, "an echo frame's opcode guard must prevent a weight rewrite")
}
