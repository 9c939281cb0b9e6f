package wlrinput

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedInjector() *Injector {
	return &Injector{log: zerolog.Nop(), closed: true, streamWidth: 1920, streamHeight: 1080}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 1919))
	assert.Equal(t, 1919.0, clamp(5000, 0, 1919))
	assert.Equal(t, 100.0, clamp(100, 0, 1919))
}

func TestClosedInjectorOperationsAreNoOps(t *testing.T) {
	in := closedInjector()

	require.NoError(t, in.PointerMotion(10, 10))
	require.NoError(t, in.PointerMotionAbsolute(500, 500))
	require.NoError(t, in.PointerButtonEvent(0x110, true))
	require.NoError(t, in.PointerAxis(0, 1, true))
	require.NoError(t, in.KeyboardKeycode(30, true))
}

func TestCloseIsIdempotent(t *testing.T) {
	in := closedInjector()
	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
}
