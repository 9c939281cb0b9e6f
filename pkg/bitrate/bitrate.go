// Package bitrate implements adaptive bitrate control: it tracks
// recent encode-time/frame-size history and network feedback, and
// recommends a bitrate, quality level, and frame-skip decision.
package bitrate

import "time"

// QualityPreset selects the target latency/quality tradeoff and, with
// it, the target RTT and frame-skip cadence under congestion.
type QualityPreset int

const (
	LowLatency QualityPreset = iota
	Balanced
	HighQuality
)

func (p QualityPreset) targetRTTMs() uint32 {
	switch p {
	case LowLatency:
		return 50
	case HighQuality:
		return 300
	default:
		return 150
	}
}

func (p QualityPreset) baseQuality() float64 {
	switch p {
	case LowLatency:
		return 30
	case HighQuality:
		return 80
	default:
		return 50
	}
}

func (p QualityPreset) skipThreshold() uint32 {
	switch p {
	case LowLatency:
		return 2
	case HighQuality:
		return 4
	default:
		return 3
	}
}

// Config holds the adaptive-bitrate knobs from the spec's configuration
// table.
type Config struct {
	MinBitrateKbps    uint32
	MaxBitrateKbps    uint32
	TargetFPS         uint32
	Preset            QualityPreset
	CalculationWindow int
}

// DefaultConfig returns the spec defaults: min=500, max=50000,
// target_fps=30, preset=Balanced, calculation_window=30.
func DefaultConfig() Config {
	return Config{
		MinBitrateKbps:    500,
		MaxBitrateKbps:    50000,
		TargetFPS:         30,
		Preset:            Balanced,
		CalculationWindow: 30,
	}
}

type frameRecord struct {
	encodeUs   uint64
	frameSize  int
	recordedAt time.Time
}

// Stats carries cumulative bitrate-control counters.
type Stats struct {
	FramesRecorded       uint64
	FramesDropped        uint64
	FramesSkipped        uint64
	TotalBytes           uint64
	BitrateIncreases     uint64
	BitrateDecreases     uint64
	AvgEncodeTimeUs      uint64
	AvgFrameSize         int
	EstimatedBitrateKbps uint32
}

// EffectiveFPS estimates the delivered frame rate against targetFPS,
// accounting for drops and skips.
func (s Stats) EffectiveFPS(targetFPS uint32) float64 {
	if s.FramesRecorded == 0 {
		return 0
	}
	total := s.FramesRecorded + s.FramesDropped + s.FramesSkipped
	return (float64(s.FramesRecorded) / float64(total)) * float64(targetFPS)
}

// DropRate returns the fraction of frames dropped or skipped.
func (s Stats) DropRate() float64 {
	total := s.FramesRecorded + s.FramesDropped + s.FramesSkipped
	if total == 0 {
		return 0
	}
	return float64(s.FramesDropped+s.FramesSkipped) / float64(total)
}

// Controller tracks frame timing and network feedback and recommends
// bitrate, quality, and skip decisions. Not safe for concurrent use;
// a frame processor holds at most one Controller, which sees every
// frame that processor handles.
type Controller struct {
	config               Config
	currentBitrate       uint32
	frameHistory         []frameRecord
	congestionLevel      float64
	skipCounter          uint32
	stats                Stats
	lastAdjustment       time.Time
	adjustmentIntervalMs int64
}

// New builds a Controller. Initial bitrate is (min+max)/2 — see
// DESIGN.md's Open Question decision on why this stays conservative
// rather than ramping up from min.
func New(config Config) *Controller {
	return &Controller{
		config:               config,
		currentBitrate:       (config.MinBitrateKbps + config.MaxBitrateKbps) / 2,
		frameHistory:         make([]frameRecord, 0, 120),
		lastAdjustment:       time.Now(),
		adjustmentIntervalMs: 100,
	}
}

// RecordFrame appends an encode-time/frame-size sample, trims the
// window, and triggers a bitrate adjustment if the adjustment interval
// has elapsed.
func (c *Controller) RecordFrame(encodeUs uint64, frameSize int) {
	c.frameHistory = append(c.frameHistory, frameRecord{
		encodeUs:   encodeUs,
		frameSize:  frameSize,
		recordedAt: time.Now(),
	})

	for len(c.frameHistory) > c.config.CalculationWindow {
		c.frameHistory = c.frameHistory[1:]
	}

	c.stats.FramesRecorded++
	c.stats.TotalBytes += uint64(frameSize)

	if time.Since(c.lastAdjustment).Milliseconds() >= c.adjustmentIntervalMs {
		c.adjustBitrate()
	}
}

// RecordDroppedFrame marks a frame as lost to encoder overload and
// raises congestion.
func (c *Controller) RecordDroppedFrame() {
	c.stats.FramesDropped++
	c.congestionLevel = minF(c.congestionLevel+0.2, 1.0)
}

// RecordNetworkFeedback folds packet-loss ratio and RTT into the
// congestion estimate: loss above 5% and RTT above the preset's target
// both raise congestion; low loss and RTT under target decay it.
func (c *Controller) RecordNetworkFeedback(packetLossRatio float64, rttMs uint32) {
	if packetLossRatio > 0.05 {
		c.congestionLevel = minF(c.congestionLevel+packetLossRatio, 1.0)
	}

	targetRTT := c.config.Preset.targetRTTMs()
	if rttMs > targetRTT {
		rttFactor := float64(rttMs-targetRTT) / float64(targetRTT)
		c.congestionLevel = minF(c.congestionLevel+rttFactor*0.1, 1.0)
	}

	if packetLossRatio < 0.01 && rttMs < targetRTT {
		c.congestionLevel = maxF(c.congestionLevel-0.05, 0.0)
	}
}

// RecommendedBitrate returns the controller's current bitrate
// recommendation in kbps, always within [min_kbps, max_kbps].
func (c *Controller) RecommendedBitrate() uint32 {
	return c.currentBitrate
}

// RecommendedQuality returns a 0-100 quality recommendation derived
// from the preset's base quality, scaled down as congestion rises.
func (c *Controller) RecommendedQuality() uint8 {
	adjusted := c.config.Preset.baseQuality() * (1.0 - c.congestionLevel*0.5)
	if adjusted < 10 {
		adjusted = 10
	}
	if adjusted > 100 {
		adjusted = 100
	}
	return uint8(adjusted)
}

// ShouldSkipFrame reports whether the current frame should be skipped
// to relieve congestion. Below 0.5 congestion it always returns false
// and resets the skip counter; at or above it, it skips every Kth call
// where K is the preset's skip threshold (2/3/4).
func (c *Controller) ShouldSkipFrame() bool {
	if c.congestionLevel < 0.5 {
		c.skipCounter = 0
		return false
	}

	threshold := c.config.Preset.skipThreshold()
	c.skipCounter++
	if c.skipCounter >= threshold {
		c.skipCounter = 0
		c.stats.FramesSkipped++
		return true
	}
	return false
}

// CongestionLevel returns the current congestion estimate in [0,1].
func (c *Controller) CongestionLevel() float64 {
	return c.congestionLevel
}

// Stats returns a copy of the controller's cumulative statistics.
func (c *Controller) Stats() Stats {
	return c.stats
}

// Reset returns the controller to its just-constructed state.
func (c *Controller) Reset() {
	c.currentBitrate = (c.config.MinBitrateKbps + c.config.MaxBitrateKbps) / 2
	c.frameHistory = c.frameHistory[:0]
	c.congestionLevel = 0
	c.skipCounter = 0
	c.stats = Stats{}
}

func (c *Controller) adjustBitrate() {
	if len(c.frameHistory) == 0 {
		return
	}

	var totalTime uint64
	var totalSize int
	for _, r := range c.frameHistory {
		totalTime += r.encodeUs
		totalSize += r.frameSize
	}

	count := uint64(len(c.frameHistory))
	avgEncodeUs := totalTime / count
	avgFrameBytes := totalSize / len(c.frameHistory)

	targetFrameTimeUs := uint64(1_000_000) / uint64(c.config.TargetFPS)
	encodeBudgetRatio := float64(avgEncodeUs) / float64(targetFrameTimeUs)

	estimatedBitrateKbps := (avgFrameBytes * 8 * int(c.config.TargetFPS)) / 1000

	newBitrate := c.currentBitrate

	switch {
	case c.congestionLevel > 0.3:
		reduction := c.congestionLevel * 0.2
		newBitrate = uint32(float64(newBitrate) * (1.0 - reduction))
		c.stats.BitrateDecreases++
	case encodeBudgetRatio < 0.5 && c.congestionLevel < 0.1:
		newBitrate = uint32(float64(newBitrate) * 1.1)
		c.stats.BitrateIncreases++
	}

	newBitrate = clampU32(newBitrate, c.config.MinBitrateKbps, c.config.MaxBitrateKbps)

	if newBitrate != c.currentBitrate {
		c.currentBitrate = newBitrate
	}

	c.lastAdjustment = time.Now()

	c.stats.AvgEncodeTimeUs = avgEncodeUs
	c.stats.AvgFrameSize = avgFrameBytes
	c.stats.EstimatedBitrateKbps = uint32(estimatedBitrateKbps)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
