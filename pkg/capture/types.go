package capture

import (
	"time"

	"github.com/lamco-desktop/wlcast/pkg/cursor"
	"github.com/lamco-desktop/wlcast/pkg/damage"
	"github.com/lamco-desktop/wlcast/pkg/format"
)

// SourceType tags what a stream captures.
type SourceType int

const (
	Monitor SourceType = iota
	Window
	Virtual
)

func (s SourceType) String() string {
	switch s {
	case Monitor:
		return "monitor"
	case Window:
		return "window"
	case Virtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// StreamInfo describes a source the portal has granted, as handed to
// CreateStream.
type StreamInfo struct {
	NodeID     uint32
	Position   [2]int32
	Size       [2]uint32
	SourceType SourceType
}

// StreamHandle is returned by CreateStream. It borrows nothing from
// the Manager — the frame channel lives in a map keyed by ID, so the
// handle can be freely copied and outlives the call that created it.
type StreamHandle struct {
	ID         uint32
	NodeID     uint32
	Position   [2]int32
	Size       [2]uint32
	SourceType SourceType
}

// VideoFrame is one captured frame handed to the receiver registered
// for its stream.
type VideoFrame struct {
	StreamID  uint32
	Width     uint32
	Height    uint32
	Format    format.PixelFormat
	Data      []byte
	Seq       uint64
	Timestamp time.Time
	Damage    []damage.Region // nil if the source does not report per-frame damage
	Cursor    *cursor.Info    // nil unless enable_cursor is set and the portal reported metadata-mode cursor state
}

// ManagerState is the capture manager's lifecycle state.
type ManagerState int

const (
	Disconnected ManagerState = iota
	Connecting
	Connected
	ShuttingDown
	Error
)

func (s ManagerState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Stats carries cumulative manager-level counters.
type Stats struct {
	StreamsCreated   uint64
	StreamsDestroyed uint64
	TotalFrames      uint64
	TotalBytes       uint64
}

// StreamStats carries per-stream frame-delivery counters.
type StreamStats struct {
	FramesDelivered uint64
	FramesDropped   uint64
}
