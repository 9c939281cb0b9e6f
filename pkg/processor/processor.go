// Package processor turns accepted capture frames into BitmapUpdate
// wire payloads: rate limiting, YUV→BGRA conversion, damage-region
// bookkeeping, and RDP rectangle packing.
package processor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lamco-desktop/wlcast/pkg/bitrate"
	"github.com/lamco-desktop/wlcast/pkg/capture"
	"github.com/lamco-desktop/wlcast/pkg/damage"
	"github.com/lamco-desktop/wlcast/pkg/format"
)

// Config holds the processor's tunables.
type Config struct {
	TargetFPS            uint32
	MaxQueueDepth        int
	AdaptiveQuality      bool
	DamageThreshold      float64
	DropOnFullQueue      bool
	RdpFormat            format.RdpPixelFormat
	EnableDamageTracking bool
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		TargetFPS:            60,
		MaxQueueDepth:        30,
		AdaptiveQuality:      true,
		DamageThreshold:      0.05,
		DropOnFullQueue:      true,
		RdpFormat:            format.BgrX32,
		EnableDamageTracking: false,
	}
}

// BitmapRectangle is one packed RDP rectangle within a BitmapUpdate.
type BitmapRectangle struct {
	Top, Left, Right, Bottom uint16
	Width, Height            uint16
	BitsPerPixel             uint8
	Compressed               bool
	Data                     []byte
}

// BitmapUpdate is the processor's wire-form output: a batch of
// rectangles carrying one frame's worth of changes.
type BitmapUpdate struct {
	Sequence   uint64
	Timestamp  time.Time
	Rectangles []BitmapRectangle
}

// Stats carries cumulative processor counters.
type Stats struct {
	FramesAccepted        uint64
	FramesRateLimited     uint64
	FramesSkippedAdaptive uint64
	UpdatesEmitted        uint64
	QueueDrops            uint64
}

// Processor rate-limits and converts accepted capture frames into
// BitmapUpdate payloads, feeding a DamageTracker and an optional
// bitrate Controller along the way. Not safe for concurrent use.
// cmd/wlcastd runs a single Processor over the dispatcher's merged
// output, so its rate limiter, damage tracker and Controller see the
// frames of every stream.
type Processor struct {
	cfg     Config
	log     zerolog.Logger
	damage  *damage.Tracker
	bitrate *bitrate.Controller

	lastAccepted time.Time
	epsilonNs    int64

	output chan BitmapUpdate
	stats  Stats
	seq    uint64
}

// New builds a Processor. bitrateController may be nil — adaptive
// skip decisions are only consulted when both AdaptiveQuality is set
// and a controller is supplied.
func New(cfg Config, tracker *damage.Tracker, bitrateController *bitrate.Controller, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:     cfg,
		log:     log.With().Str("component", "processor").Logger(),
		damage:  tracker,
		bitrate: bitrateController,
		output:  make(chan BitmapUpdate, cfg.MaxQueueDepth),
	}
}

// Output returns the processor's BitmapUpdate channel.
func (p *Processor) Output() <-chan BitmapUpdate {
	return p.output
}

// Stats returns a copy of the processor's cumulative statistics.
func (p *Processor) Stats() Stats {
	return p.stats
}

// targetIntervalNs is 10^6/target_fps microseconds, expressed in
// nanoseconds for time.Duration arithmetic.
func (p *Processor) targetIntervalNs() int64 {
	if p.cfg.TargetFPS == 0 {
		return 0
	}
	return (1_000_000_000) / int64(p.cfg.TargetFPS)
}

// admit applies the rate limiter: a frame is accepted iff
// now-last_accepted >= target_interval - epsilon. In adaptive mode,
// epsilon relaxes when the output queue is shallow and tightens when
// it's deep, linear on current depth / max_queue_depth.
func (p *Processor) admit(now time.Time) bool {
	interval := p.targetIntervalNs()
	if interval == 0 {
		return true
	}

	if p.lastAccepted.IsZero() {
		p.lastAccepted = now
		return true
	}

	epsilon := p.currentEpsilon(interval)
	elapsed := now.Sub(p.lastAccepted).Nanoseconds()

	if elapsed >= interval-epsilon {
		p.lastAccepted = now
		return true
	}
	return false
}

func (p *Processor) currentEpsilon(interval int64) int64 {
	if p.cfg.MaxQueueDepth == 0 {
		return 0
	}
	depthRatio := float64(len(p.output)) / float64(p.cfg.MaxQueueDepth)
	if depthRatio > 1 {
		depthRatio = 1
	}
	// Shallow queue (ratio near 0) relaxes the window toward 20% of
	// interval; a full queue tightens it toward 0.
	maxEpsilon := interval / 5
	return int64(float64(maxEpsilon) * (1 - depthRatio))
}

// Process runs one frame through the full pipeline: rate limiting,
// optional YUV→BGRA conversion, damage bookkeeping, rectangle
// selection, RDP packing, and emission. Returns false if the frame
// was dropped by the rate limiter, the adaptive-quality skip
// decision, or a full output queue.
func (p *Processor) Process(frame capture.VideoFrame) (bool, error) {
	now := time.Now()
	if !p.admit(now) {
		p.stats.FramesRateLimited++
		return false, nil
	}
	p.stats.FramesAccepted++

	pixels := frame.Data
	if frame.Format.IsYUV() {
		converted, err := format.ConvertToBGRA(frame.Data, frame.Width, frame.Height, frame.Format)
		if err != nil {
			return false, err
		}
		pixels = converted
	}

	switch {
	case !p.cfg.EnableDamageTracking:
		p.damage.MarkFullDamage(frame.Width, frame.Height)
	case len(frame.Damage) > 0:
		p.damage.AddRegions(frame.Damage)
	}

	if p.cfg.AdaptiveQuality && p.bitrate != nil && p.bitrate.ShouldSkipFrame() {
		p.stats.FramesSkippedAdaptive++
		p.damage.Clear()
		return false, nil
	}

	var rects []damage.Region
	fullUpdate := p.damage.ShouldFullUpdate(frame.Width, frame.Height)
	if fullUpdate {
		rects = []damage.Region{damage.NewRegion(0, 0, frame.Width, frame.Height)}
	} else {
		for _, r := range p.damage.DamagedRegions() {
			if clipped, ok := r.Clip(frame.Width, frame.Height); ok {
				rects = append(rects, clipped)
			}
		}
	}
	p.damage.Clear()

	update := BitmapUpdate{Sequence: frame.Seq, Timestamp: now}
	for _, r := range rects {
		data, stride, err := format.EncodeRect(pixels, frame.Width, frame.Height, r.X, r.Y, r.Width, r.Height, p.cfg.RdpFormat)
		if err != nil {
			return false, err
		}
		_ = stride // stride is baked into data's row layout; callers needing it re-derive via format.AlignUp64

		update.Rectangles = append(update.Rectangles, BitmapRectangle{
			Top:          uint16(r.Y),
			Left:         uint16(r.X),
			Right:        uint16(r.X + r.Width),
			Bottom:       uint16(r.Y + r.Height),
			Width:        uint16(r.Width),
			Height:       uint16(r.Height),
			BitsPerPixel: p.cfg.RdpFormat.BytesPerPixel() * 8,
			Compressed:   false,
			Data:         data,
		})
	}

	select {
	case p.output <- update:
		p.stats.UpdatesEmitted++
		return true, nil
	default:
		if p.cfg.DropOnFullQueue {
			p.stats.QueueDrops++
			return false, nil
		}
		p.output <- update
		p.stats.UpdatesEmitted++
		return true, nil
	}
}
