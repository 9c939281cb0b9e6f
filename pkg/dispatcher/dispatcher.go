// Package dispatcher fans multiple per-stream capture channels into a
// single downstream output channel, dropping stale frames and
// applying priority-aware backpressure when the output fills up.
package dispatcher

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/lamco-desktop/wlcast/pkg/capture"
)

// StreamPriority orders which inputs get drained first under
// contention. Higher values win.
type StreamPriority int

const (
	PriorityLow StreamPriority = iota
	PriorityNormal
	PriorityHigh
)

// Config holds the dispatcher's tunables.
type Config struct {
	ChannelSize        int
	PriorityDispatch   bool
	MaxFrameAgeMs      int64
	EnableBackpressure bool
	HighWaterMark      float64
	LowWaterMark       float64
	LoadBalancing      bool
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		ChannelSize:        30,
		PriorityDispatch:   true,
		MaxFrameAgeMs:      150,
		EnableBackpressure: true,
		HighWaterMark:      0.8,
		LowWaterMark:       0.5,
		LoadBalancing:      true,
	}
}

type input struct {
	streamID uint32
	priority StreamPriority
	ch       <-chan capture.VideoFrame
}

// Stats carries per-stream receive/drop counters.
type Stats struct {
	Received uint64
	Dropped  uint64
}

// Dispatcher merges N per-stream frame channels into one output,
// applying age-based and priority-aware backpressure drops. Register
// inputs before calling Run; Run owns the dispatch loop until its
// context is canceled.
type Dispatcher struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	inputs []input

	statsMu sync.Mutex
	stats   map[uint32]*Stats

	output        chan capture.VideoFrame
	selectiveDrop bool

	wg conc.WaitGroup
}

// New builds a Dispatcher.
func New(cfg Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		log:    log.With().Str("component", "dispatcher").Logger(),
		stats:  make(map[uint32]*Stats),
		output: make(chan capture.VideoFrame, cfg.ChannelSize),
	}
}

// RegisterInput adds a capture stream's frame channel, tagged with
// its dispatch priority. Must be called before Run.
func (d *Dispatcher) RegisterInput(streamID uint32, priority StreamPriority, ch <-chan capture.VideoFrame) {
	d.mu.Lock()
	d.inputs = append(d.inputs, input{streamID: streamID, priority: priority, ch: ch})
	d.mu.Unlock()

	d.statsMu.Lock()
	d.stats[streamID] = &Stats{}
	d.statsMu.Unlock()
}

// RemoveInput stops draining streamID's channel.
func (d *Dispatcher) RemoveInput(streamID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, in := range d.inputs {
		if in.streamID == streamID {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			return
		}
	}
}

// Output returns the merged downstream channel.
func (d *Dispatcher) Output() <-chan capture.VideoFrame {
	return d.output
}

// Stats returns a copy of streamID's receive/drop counters.
func (d *Dispatcher) Stats(streamID uint32) Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if s, ok := d.stats[streamID]; ok {
		return *s
	}
	return Stats{}
}

// Run drives the dispatch loop until ctx is canceled, then closes the
// output channel. Intended to be run in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.output)

	for {
		frame, streamID, hasFrame, alive := d.receiveOne(ctx)
		if !alive {
			return
		}
		if hasFrame {
			d.handleFrame(streamID, frame)
		}
	}
}

// receiveOne scans inputs in priority order (if priority_dispatch is
// enabled) for a ready frame, falling back to a blocking select across
// every input when none is immediately ready. The third return value
// reports whether a frame was actually received; the fourth reports
// whether the dispatcher should keep running at all.
func (d *Dispatcher) receiveOne(ctx context.Context) (capture.VideoFrame, uint32, bool, bool) {
	d.mu.Lock()
	inputs := append([]input(nil), d.inputs...)
	d.mu.Unlock()

	if len(inputs) == 0 {
		select {
		case <-ctx.Done():
			return capture.VideoFrame{}, 0, false, false
		case <-time.After(10 * time.Millisecond):
			return capture.VideoFrame{}, 0, false, true
		}
	}

	if d.cfg.PriorityDispatch {
		sortByPriorityDesc(inputs)
	}

	// Non-blocking pass, priority order: take the first ready frame.
	for _, in := range inputs {
		select {
		case f, chOk := <-in.ch:
			if !chOk {
				continue
			}
			return f, in.streamID, true, true
		default:
		}
	}

	// Nothing ready: block across every input plus ctx/cancellation.
	cases := make([]reflect.SelectCase, 0, len(inputs)+1)
	for _, in := range inputs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in.ch)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, recv, recvOk := reflect.Select(cases)
	if chosen == len(cases)-1 {
		return capture.VideoFrame{}, 0, false, false
	}
	if !recvOk {
		return capture.VideoFrame{}, 0, false, true
	}
	frame := recv.Interface().(capture.VideoFrame)
	return frame, inputs[chosen].streamID, true, true
}

func sortByPriorityDesc(inputs []input) {
	for i := 1; i < len(inputs); i++ {
		for j := i; j > 0 && inputs[j].priority > inputs[j-1].priority; j-- {
			inputs[j], inputs[j-1] = inputs[j-1], inputs[j]
		}
	}
}

func (d *Dispatcher) handleFrame(streamID uint32, frame capture.VideoFrame) {
	d.statsMu.Lock()
	s, ok := d.stats[streamID]
	if !ok {
		s = &Stats{}
		d.stats[streamID] = s
	}
	s.Received++
	d.statsMu.Unlock()

	age := time.Since(frame.Timestamp).Milliseconds()
	if age > d.cfg.MaxFrameAgeMs {
		d.drop(streamID)
		return
	}

	priority := d.priorityOf(streamID)
	d.updateBackpressure()

	if d.cfg.EnableBackpressure && d.selectiveDrop && priority == PriorityLow {
		d.drop(streamID)
		return
	}

	select {
	case d.output <- frame:
	default:
		d.drop(streamID)
	}
}

func (d *Dispatcher) priorityOf(streamID uint32) StreamPriority {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, in := range d.inputs {
		if in.streamID == streamID {
			return in.priority
		}
	}
	return PriorityNormal
}

func (d *Dispatcher) updateBackpressure() {
	fill := float64(len(d.output)) / float64(cap(d.output))
	switch {
	case fill >= d.cfg.HighWaterMark:
		d.selectiveDrop = true
	case fill <= d.cfg.LowWaterMark:
		d.selectiveDrop = false
	}
}

func (d *Dispatcher) drop(streamID uint32) {
	d.statsMu.Lock()
	if s, ok := d.stats[streamID]; ok {
		s.Dropped++
	}
	d.statsMu.Unlock()
}
