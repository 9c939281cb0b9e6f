// Package damage accumulates the rectangles that changed since the last
// frame, merges nearby or overlapping ones, and decides whether a full
// frame update is more efficient than encoding the damaged set.
package damage

import "time"

// Region is a changed rectangle. Invariants: Width>0, Height>0.
type Region struct {
	X, Y, Width, Height uint32
}

// NewRegion constructs a Region.
func NewRegion(x, y, width, height uint32) Region {
	return Region{X: x, Y: y, Width: width, Height: height}
}

// Area returns width*height.
func (r Region) Area() uint64 {
	return uint64(r.Width) * uint64(r.Height)
}

// Contains reports whether (x,y) falls inside the region.
func (r Region) Contains(x, y uint32) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Overlaps reports whether r and other share any pixels.
func (r Region) Overlaps(other Region) bool {
	return r.X < other.X+other.Width &&
		r.X+r.Width > other.X &&
		r.Y < other.Y+other.Height &&
		r.Y+r.Height > other.Y
}

// Merge returns the bounding box of r and other.
func (r Region) Merge(other Region) Region {
	x := min32(r.X, other.X)
	y := min32(r.Y, other.Y)
	x2 := max32(r.X+r.Width, other.X+other.Width)
	y2 := max32(r.Y+r.Height, other.Y+other.Height)
	return Region{X: x, Y: y, Width: x2 - x, Height: y2 - y}
}

// Clip clips r to a frame of frameWidth x frameHeight. The second
// return value is false if the region falls entirely outside the
// frame or clips down to zero area.
func (r Region) Clip(frameWidth, frameHeight uint32) (Region, bool) {
	if r.X >= frameWidth || r.Y >= frameHeight {
		return Region{}, false
	}
	width := min32(r.Width, frameWidth-r.X)
	height := min32(r.Height, frameHeight-r.Y)
	if width == 0 || height == 0 {
		return Region{}, false
	}
	return Region{X: r.X, Y: r.Y, Width: width, Height: height}, true
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// Stats carries cumulative damage-tracking counters.
type Stats struct {
	FramesProcessed    uint64
	FullDamageFrames   uint64
	PartialDamageFrames uint64
	TotalRegions       uint64
}

// Tracker accumulates damage regions across a frame's lifetime, merging
// nearby or overlapping ones and deciding whether a full update beats
// encoding the damaged set. Not safe for concurrent use; callers own
// serialization (the frame processor drives exactly one Tracker).
type Tracker struct {
	regions            []Region
	fullDamageThreshold float64
	mergeDistance      uint32
	enableMerging      bool
	stats              Stats
	lastUpdate         time.Time
	maxRegions         int
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithThreshold sets the full-update damage-ratio threshold, clamped to
// [0,1].
func WithThreshold(threshold float64) Option {
	return func(t *Tracker) {
		t.fullDamageThreshold = clamp01(threshold)
	}
}

// WithMergeDistance sets the maximum gap (px) between two regions that
// still triggers a merge.
func WithMergeDistance(distance uint32) Option {
	return func(t *Tracker) { t.mergeDistance = distance }
}

// WithMaxRegions sets the region count at or above which a full update
// is forced.
func WithMaxRegions(max int) Option {
	return func(t *Tracker) { t.maxRegions = max }
}

// WithMerging toggles region merging; disabled trackers keep every
// region distinct.
func WithMerging(enable bool) Option {
	return func(t *Tracker) { t.enableMerging = enable }
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// New builds a Tracker with the spec defaults: threshold 0.5,
// merge_distance 32px, merging enabled, max_regions 64.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		regions:             make([]Region, 0, 32),
		fullDamageThreshold: 0.5,
		mergeDistance:       32,
		enableMerging:       true,
		maxRegions:          64,
		lastUpdate:          time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddRegion adds a damaged region, merging it into the accumulated set
// per the overlap-or-proximity discipline when merging is enabled. Once
// the tracker already holds max_regions entries, further adds are
// dropped silently — the region count alone will force a full update.
func (t *Tracker) AddRegion(region Region) {
	if len(t.regions) >= t.maxRegions {
		return
	}

	if t.enableMerging {
		t.addWithMerge(region)
	} else {
		t.regions = append(t.regions, region)
	}

	t.stats.TotalRegions++
	t.lastUpdate = time.Now()
}

func (t *Tracker) addWithMerge(region Region) {
	merged := region
	mergedAny := true

	for mergedAny {
		mergedAny = false

		i := 0
		for i < len(t.regions) {
			if t.shouldMerge(merged, t.regions[i]) {
				merged = merged.Merge(t.regions[i])
				t.regions = append(t.regions[:i], t.regions[i+1:]...)
				mergedAny = true
			} else {
				i++
			}
		}
	}

	t.regions = append(t.regions, merged)
}

func (t *Tracker) shouldMerge(a, b Region) bool {
	if a.Overlaps(b) {
		return true
	}

	var distX uint32
	switch {
	case a.X+a.Width < b.X:
		distX = b.X - (a.X + a.Width)
	case b.X+b.Width < a.X:
		distX = a.X - (b.X + b.Width)
	default:
		distX = 0
	}

	var distY uint32
	switch {
	case a.Y+a.Height < b.Y:
		distY = b.Y - (a.Y + a.Height)
	case b.Y+b.Height < a.Y:
		distY = a.Y - (b.Y + b.Height)
	default:
		distY = 0
	}

	return distX <= t.mergeDistance && distY <= t.mergeDistance
}

// AddRegions adds each region in order.
func (t *Tracker) AddRegions(regions []Region) {
	for _, r := range regions {
		t.AddRegion(r)
	}
}

// MarkFullDamage clears the set and replaces it with a single region
// covering the whole frame.
func (t *Tracker) MarkFullDamage(width, height uint32) {
	t.regions = t.regions[:0]
	t.regions = append(t.regions, NewRegion(0, 0, width, height))
	t.stats.FullDamageFrames++
}

// DamagedRegions returns the current accumulated regions.
func (t *Tracker) DamagedRegions() []Region {
	return t.regions
}

// RegionCount returns the number of accumulated regions.
func (t *Tracker) RegionCount() int {
	return len(t.regions)
}

// HasDamage reports whether any region is accumulated.
func (t *Tracker) HasDamage() bool {
	return len(t.regions) > 0
}

// TotalDamagedArea sums the area of every accumulated region.
func (t *Tracker) TotalDamagedArea() uint64 {
	var total uint64
	for _, r := range t.regions {
		total += r.Area()
	}
	return total
}

// DamageRatio returns the accumulated damaged area as a fraction of
// frameWidth*frameHeight.
func (t *Tracker) DamageRatio(frameWidth, frameHeight uint32) float64 {
	totalArea := uint64(frameWidth) * uint64(frameHeight)
	if totalArea == 0 {
		return 0
	}
	return float64(t.TotalDamagedArea()) / float64(totalArea)
}

// ShouldFullUpdate reports whether encoding a full frame beats encoding
// the damaged set: true when there is no damage info, when the region
// count has hit max_regions, or when the damage ratio meets the
// configured threshold.
func (t *Tracker) ShouldFullUpdate(frameWidth, frameHeight uint32) bool {
	if len(t.regions) == 0 {
		return true
	}
	if len(t.regions) >= t.maxRegions {
		return true
	}
	return t.DamageRatio(frameWidth, frameHeight) >= t.fullDamageThreshold
}

// BoundingBox returns the union of every accumulated region, or false
// if none are accumulated.
func (t *Tracker) BoundingBox() (Region, bool) {
	if len(t.regions) == 0 {
		return Region{}, false
	}
	result := t.regions[0]
	for _, r := range t.regions[1:] {
		result = result.Merge(r)
	}
	return result, true
}

// Clear empties the accumulated set and advances the frames-processed
// counter, ready for the next frame.
func (t *Tracker) Clear() {
	t.regions = t.regions[:0]
	t.stats.FramesProcessed++
}

// Stats returns a copy of the tracker's cumulative statistics.
func (t *Tracker) Stats() Stats {
	return t.stats
}

// SetThreshold updates the full-update damage-ratio threshold, clamped
// to [0,1].
func (t *Tracker) SetThreshold(threshold float64) {
	t.fullDamageThreshold = clamp01(threshold)
}

// SetMerging enables or disables region merging for subsequent adds.
func (t *Tracker) SetMerging(enable bool) {
	t.enableMerging = enable
}
