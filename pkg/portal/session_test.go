package portal

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-desktop/wlcast/pkg/capture"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DeviceKeyboard|DevicePointer, cfg.Devices)
	assert.Equal(t, SourceMonitor, cfg.Sources)
	assert.Equal(t, CursorHidden, cfg.CursorMode)
	assert.Equal(t, PersistDoNot, cfg.PersistMode)
	assert.False(t, cfg.AllowMultiple)
	assert.False(t, cfg.WantClipboard)
}

func TestParseStreamsSingleMonitor(t *testing.T) {
	entry := []interface{}{
		uint32(42),
		map[string]dbus.Variant{
			"position": dbus.MakeVariant([]int32{0, 0}),
			"size":     dbus.MakeVariant([]int32{1920, 1080}),
		},
	}
	v := dbus.MakeVariant([][]interface{}{entry})

	streams := parseStreams(v)
	require.Len(t, streams, 1)
	assert.Equal(t, uint32(42), streams[0].NodeID)
	assert.Equal(t, [2]int32{0, 0}, streams[0].Position)
	assert.Equal(t, [2]uint32{1920, 1080}, streams[0].Size)
	assert.Equal(t, capture.Monitor, streams[0].SourceType)
}

func TestParseStreamsMultiMonitor(t *testing.T) {
	entries := [][]interface{}{
		{uint32(1), map[string]dbus.Variant{
			"position": dbus.MakeVariant([]int32{0, 0}),
			"size":     dbus.MakeVariant([]int32{1920, 1080}),
		}},
		{uint32(2), map[string]dbus.Variant{
			"position": dbus.MakeVariant([]int32{1920, 0}),
			"size":     dbus.MakeVariant([]int32{1280, 1024}),
		}},
	}
	streams := parseStreams(dbus.MakeVariant(entries))
	require.Len(t, streams, 2)
	assert.Equal(t, uint32(1), streams[0].NodeID)
	assert.Equal(t, uint32(2), streams[1].NodeID)
	assert.Equal(t, [2]int32{1920, 0}, streams[1].Position)
}

func TestParseStreamsMalformedVariant(t *testing.T) {
	streams := parseStreams(dbus.MakeVariant("not-a-stream-array"))
	assert.Nil(t, streams)
}

func TestParseStreamsMissingProperties(t *testing.T) {
	entry := []interface{}{uint32(7), map[string]dbus.Variant{}}
	streams := parseStreams(dbus.MakeVariant([][]interface{}{entry}))
	require.Len(t, streams, 1)
	assert.Equal(t, uint32(7), streams[0].NodeID)
	assert.Equal(t, [2]int32{0, 0}, streams[0].Position)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := &Session{pipewireFD: -1, log: zerolog.Nop()}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestPointerButtonConstants(t *testing.T) {
	assert.Equal(t, PointerButton(0x110), ButtonLeft)
	assert.Equal(t, PointerButton(0x111), ButtonRight)
	assert.Equal(t, PointerButton(0x112), ButtonMiddle)
}
