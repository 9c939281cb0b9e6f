package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorInfoDefault(t *testing.T) {
	info := defaultInfo()
	assert.Equal(t, [2]int32{0, 0}, info.Position)
	assert.True(t, info.Visible)
	assert.Nil(t, info.Bitmap)
}

func TestCursorExtractor(t *testing.T) {
	e := New()

	assert.False(t, e.HasMoved())

	e.UpdatePosition(100, 200)
	cur, ok := e.Current()
	require.True(t, ok)
	assert.Equal(t, [2]int32{100, 200}, cur.Position)
	assert.True(t, e.HasMoved())
	dx, dy := e.PositionDelta()
	assert.Equal(t, int32(100), dx)
	assert.Equal(t, int32(200), dy)

	e.UpdatePosition(150, 250)
	dx, dy = e.PositionDelta()
	assert.Equal(t, int32(50), dx)
	assert.Equal(t, int32(50), dy)
}

func TestBitmapUpdate(t *testing.T) {
	e := New()

	bitmap := make([]byte, 32*32*4)
	for i := range bitmap {
		bitmap[i] = 255
	}
	e.UpdateBitmap(bitmap, 32, 32, 0, 0)

	state := e.RawState()
	assert.Equal(t, [2]uint32{32, 32}, state.Size)
	assert.NotNil(t, state.Bitmap)
	assert.Equal(t, uint64(1), state.Serial)
}

func TestVisibility(t *testing.T) {
	e := New()

	_, ok := e.Current()
	assert.True(t, ok)

	e.UpdateVisibility(false)
	_, ok = e.Current()
	assert.False(t, ok)

	assert.False(t, e.RawState().Visible)
}

func TestBitmapCache(t *testing.T) {
	e := NewWithCacheSize(2)

	e.UpdateBitmap([]byte{1}, 1, 1, 0, 0)
	serial1 := e.RawState().Serial

	e.UpdateBitmap([]byte{2}, 1, 1, 0, 0)
	serial2 := e.RawState().Serial

	e.UpdateBitmap([]byte{3}, 1, 1, 0, 0)
	serial3 := e.RawState().Serial

	_, ok := e.CachedBitmap(serial1)
	assert.False(t, ok)
	_, ok = e.CachedBitmap(serial2)
	assert.True(t, ok)
	_, ok = e.CachedBitmap(serial3)
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	e := New()

	e.UpdatePosition(10, 20)
	e.UpdatePosition(30, 40)
	e.UpdateBitmap([]byte{1}, 1, 1, 0, 0)
	e.UpdateVisibility(false)
	e.UpdateVisibility(true)

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.PositionUpdates)
	assert.Equal(t, uint64(1), stats.BitmapUpdates)
	assert.Equal(t, uint64(2), stats.VisibilityChanges)
}

func TestReset(t *testing.T) {
	e := New()
	e.UpdatePosition(5, 5)
	e.UpdateBitmap([]byte{9}, 1, 1, 0, 0)

	e.Reset()

	assert.False(t, e.HasMoved())
	assert.Nil(t, e.RawState().Bitmap)
	_, ok := e.CachedBitmap(1)
	assert.False(t, ok)
}
