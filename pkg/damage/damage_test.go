package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionBasic(t *testing.T) {
	region := NewRegion(10, 20, 100, 50)

	assert.Equal(t, uint64(5000), region.Area())
	assert.True(t, region.Contains(50, 40))
	assert.False(t, region.Contains(0, 0))
}

func TestRegionOverlap(t *testing.T) {
	a := NewRegion(0, 0, 100, 100)
	b := NewRegion(50, 50, 100, 100)
	c := NewRegion(200, 200, 50, 50)

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c))
}

func TestRegionMerge(t *testing.T) {
	a := NewRegion(0, 0, 100, 100)
	b := NewRegion(50, 50, 100, 100)

	merged := a.Merge(b)
	assert.Equal(t, uint32(0), merged.X)
	assert.Equal(t, uint32(0), merged.Y)
	assert.Equal(t, uint32(150), merged.Width)
	assert.Equal(t, uint32(150), merged.Height)
}

func TestRegionClip(t *testing.T) {
	region := NewRegion(900, 500, 200, 200)
	clipped, ok := region.Clip(1000, 600)

	require.True(t, ok)
	assert.Equal(t, uint32(100), clipped.Width)
	assert.Equal(t, uint32(100), clipped.Height)
}

func TestRegionClipOutOfBounds(t *testing.T) {
	region := NewRegion(1000, 0, 50, 50)
	_, ok := region.Clip(1000, 600)
	assert.False(t, ok)
}

func TestTrackerBasic(t *testing.T) {
	tracker := New()

	assert.False(t, tracker.HasDamage())

	tracker.AddRegion(NewRegion(0, 0, 100, 100))
	assert.True(t, tracker.HasDamage())
	assert.Equal(t, 1, tracker.RegionCount())

	tracker.Clear()
	assert.False(t, tracker.HasDamage())
}

func TestTrackerMerge(t *testing.T) {
	tracker := New()

	tracker.AddRegion(NewRegion(0, 0, 100, 100))
	tracker.AddRegion(NewRegion(50, 50, 100, 100))

	assert.Equal(t, 1, tracker.RegionCount())
}

func TestTrackerNoTouchRegionsStaySeparate(t *testing.T) {
	tracker := New()

	tracker.AddRegion(NewRegion(0, 0, 64, 64))
	tracker.AddRegion(NewRegion(100, 100, 100, 100))

	assert.Equal(t, 2, tracker.RegionCount())
}

func TestShouldFullUpdate(t *testing.T) {
	tracker := New(WithThreshold(0.5))

	tracker.AddRegion(NewRegion(0, 0, 40, 40))
	assert.False(t, tracker.ShouldFullUpdate(100, 100))

	tracker.Clear()

	tracker.AddRegion(NewRegion(0, 0, 80, 80))
	assert.True(t, tracker.ShouldFullUpdate(100, 100))
}

func TestShouldFullUpdateEmptySet(t *testing.T) {
	tracker := New()
	assert.True(t, tracker.ShouldFullUpdate(100, 100))
}

func TestShouldFullUpdateTooManyRegions(t *testing.T) {
	tracker := New(WithMaxRegions(2), WithMerging(false))
	tracker.AddRegion(NewRegion(0, 0, 1, 1))
	tracker.AddRegion(NewRegion(10, 10, 1, 1))
	assert.True(t, tracker.ShouldFullUpdate(1000, 1000))
}

func TestBoundingBox(t *testing.T) {
	tracker := New(WithMerging(false))

	tracker.AddRegion(NewRegion(10, 10, 50, 50))
	tracker.AddRegion(NewRegion(200, 200, 30, 30))

	bbox, ok := tracker.BoundingBox()
	require.True(t, ok)
	assert.Equal(t, uint32(10), bbox.X)
	assert.Equal(t, uint32(10), bbox.Y)
	assert.Equal(t, uint32(220), bbox.Width)
	assert.Equal(t, uint32(220), bbox.Height)
}

func TestAddRegionIdempotentForFullUpdate(t *testing.T) {
	tracker := New(WithThreshold(0.5))
	r := NewRegion(0, 0, 80, 80)

	tracker.AddRegion(r)
	first := tracker.ShouldFullUpdate(100, 100)
	tracker.AddRegion(r)
	second := tracker.ShouldFullUpdate(100, 100)

	assert.Equal(t, first, second)
}
