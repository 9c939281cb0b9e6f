package bitrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// setCongestion is a test seam: production code only ever raises or
// decays congestion via RecordDroppedFrame/RecordNetworkFeedback, but
// tests need to force a specific level to exercise skip/quality
// behavior deterministically.
func (c *Controller) setCongestion(level float64) {
	c.congestionLevel = level
}

func TestControllerCreation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBitrateKbps = 500
	cfg.MaxBitrateKbps = 10000
	c := New(cfg)

	assert.Equal(t, uint32(5250), c.RecommendedBitrate())
	assert.Equal(t, 0.0, c.CongestionLevel())
}

func TestFrameRecording(t *testing.T) {
	c := New(DefaultConfig())

	for i := 0; i < 10; i++ {
		c.RecordFrame(5000, 8000)
	}

	assert.Equal(t, uint64(10), c.Stats().FramesRecorded)
}

func TestCongestionResponse(t *testing.T) {
	c := New(DefaultConfig())

	c.RecordNetworkFeedback(0.1, 50)
	assert.Greater(t, c.CongestionLevel(), 0.0)

	before := c.CongestionLevel()
	c.RecordNetworkFeedback(0.0, 10)
	assert.Less(t, c.CongestionLevel(), before)
}

func TestFrameSkipping(t *testing.T) {
	c := New(DefaultConfig())
	c.setCongestion(0.8)

	skipped := 0
	for i := 0; i < 10; i++ {
		if c.ShouldSkipFrame() {
			skipped++
		}
	}

	assert.Greater(t, skipped, 0)
}

func TestFrameSkippingDisabledBelowThreshold(t *testing.T) {
	c := New(DefaultConfig())
	c.setCongestion(0.2)

	for i := 0; i < 10; i++ {
		assert.False(t, c.ShouldSkipFrame())
	}
}

func TestQualityPresets(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Preset = LowLatency
	low := New(cfg)
	assert.Equal(t, uint32(2), low.config.Preset.skipThreshold())

	cfg.Preset = HighQuality
	high := New(cfg)
	assert.Equal(t, uint32(4), high.config.Preset.skipThreshold())
	assert.Greater(t, high.RecommendedQuality(), low.RecommendedQuality())
}

func TestStats(t *testing.T) {
	c := New(DefaultConfig())
	c.RecordFrame(1000, 500)
	c.RecordDroppedFrame()

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.FramesRecorded)
	assert.Equal(t, uint64(1), stats.FramesDropped)
	assert.InDelta(t, 0.5, stats.DropRate(), 0.01)
}

func TestReset(t *testing.T) {
	c := New(DefaultConfig())
	c.RecordFrame(1000, 500)
	c.RecordDroppedFrame()
	c.setCongestion(0.9)

	c.Reset()

	assert.Equal(t, Stats{}, c.Stats())
	assert.Equal(t, 0.0, c.CongestionLevel())
	assert.Equal(t, (c.config.MinBitrateKbps+c.config.MaxBitrateKbps)/2, c.RecommendedBitrate())
}

func TestBitrateDecreasesUnderCongestion(t *testing.T) {
	c := New(DefaultConfig())
	c.setCongestion(0.5)
	c.adjustmentIntervalMs = 0

	for i := 0; i < 5; i++ {
		c.RecordFrame(20000, 20000)
	}

	assert.Less(t, c.RecommendedBitrate(), (c.config.MinBitrateKbps+c.config.MaxBitrateKbps)/2)
}

func TestBitrateIncreasesWhenRoomy(t *testing.T) {
	c := New(DefaultConfig())
	c.adjustmentIntervalMs = 0

	for i := 0; i < 5; i++ {
		c.RecordFrame(1000, 1000)
	}

	assert.Greater(t, c.RecommendedBitrate(), (c.config.MinBitrateKbps+c.config.MaxBitrateKbps)/2)
}

func TestBitrateClampedToConfiguredRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBitrateKbps = 1000
	cfg.MaxBitrateKbps = 2000
	c := New(cfg)
	c.adjustmentIntervalMs = 0

	for i := 0; i < 50; i++ {
		c.RecordFrame(1000, 1000)
	}

	assert.LessOrEqual(t, c.RecommendedBitrate(), cfg.MaxBitrateKbps)
	assert.GreaterOrEqual(t, c.RecommendedBitrate(), cfg.MinBitrateKbps)
}
