package processor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamco-desktop/wlcast/pkg/bitrate"
	"github.com/lamco-desktop/wlcast/pkg/capture"
	"github.com/lamco-desktop/wlcast/pkg/damage"
	"github.com/lamco-desktop/wlcast/pkg/format"
)

func bgraFrame(seq uint64, w, h uint32, regions ...damage.Region) capture.VideoFrame {
	return capture.VideoFrame{
		StreamID:  0,
		Width:     w,
		Height:    h,
		Format:    format.BGRA,
		Data:      make([]byte, w*h*4),
		Seq:       seq,
		Timestamp: time.Now(),
		Damage:    regions,
	}
}

func TestHappyPathSingleMonitor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetFPS = 0 // disable rate limiting for deterministic test timing
	cfg.EnableDamageTracking = true

	tracker := damage.New()
	p := New(cfg, tracker, nil, zerolog.Nop())

	r1 := damage.NewRegion(0, 0, 64, 64)
	r2 := damage.NewRegion(100, 100, 100, 100)

	for i := 0; i < 5; i++ {
		accepted, err := p.Process(bgraFrame(uint64(i), 1920, 1080, r1, r2))
		require.NoError(t, err)
		require.True(t, accepted)

		update := <-p.Output()
		assert.Len(t, update.Rectangles, 2)
	}

	assert.Equal(t, uint64(5), p.Stats().FramesAccepted)
	assert.Equal(t, uint64(0), p.Stats().QueueDrops)
}

func TestDamageTriggersFullUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetFPS = 0
	cfg.EnableDamageTracking = true

	tracker := damage.New(damage.WithThreshold(0.5))
	p := New(cfg, tracker, nil, zerolog.Nop())

	accepted, err := p.Process(bgraFrame(1, 100, 100, damage.NewRegion(0, 0, 80, 80)))
	require.NoError(t, err)
	require.True(t, accepted)

	update := <-p.Output()
	require.Len(t, update.Rectangles, 1)
	assert.Equal(t, uint16(0), update.Rectangles[0].Left)
	assert.Equal(t, uint16(0), update.Rectangles[0].Top)
	assert.Equal(t, uint16(100), update.Rectangles[0].Right)
	assert.Equal(t, uint16(100), update.Rectangles[0].Bottom)
}

func TestRateLimiterRejectsTooFrequentFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetFPS = 30
	tracker := damage.New()
	p := New(cfg, tracker, nil, zerolog.Nop())

	accepted, err := p.Process(bgraFrame(1, 64, 64))
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = p.Process(bgraFrame(2, 64, 64))
	require.NoError(t, err)
	assert.False(t, accepted, "second frame within the same interval should be rate-limited")

	assert.Equal(t, uint64(1), p.Stats().FramesRateLimited)
}

func TestAdaptiveQualitySkipsUnderCongestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetFPS = 0
	cfg.AdaptiveQuality = true

	ctrl := bitrate.New(bitrate.DefaultConfig())
	ctrl.RecordDroppedFrame()
	ctrl.RecordDroppedFrame()
	ctrl.RecordDroppedFrame()
	require.GreaterOrEqual(t, ctrl.CongestionLevel(), 0.5)

	tracker := damage.New()
	p := New(cfg, tracker, ctrl, zerolog.Nop())

	skippedAny := false
	for i := 0; i < 6; i++ {
		accepted, err := p.Process(bgraFrame(uint64(i), 64, 64))
		require.NoError(t, err)
		if !accepted {
			skippedAny = true
		}
	}

	assert.True(t, skippedAny)
	assert.Greater(t, p.Stats().FramesSkippedAdaptive, uint64(0))
}

func TestYUVFrameConvertedBeforeEncoding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetFPS = 0
	tracker := damage.New()
	p := New(cfg, tracker, nil, zerolog.Nop())

	frame := capture.VideoFrame{
		Width:     2,
		Height:    2,
		Format:    format.NV12,
		Data:      []byte{16, 16, 16, 16, 128, 128},
		Seq:       1,
		Timestamp: time.Now(),
	}

	accepted, err := p.Process(frame)
	require.NoError(t, err)
	require.True(t, accepted)

	update := <-p.Output()
	require.Len(t, update.Rectangles, 1)
}
