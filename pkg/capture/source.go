package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/go-gst/go-gst/gst/video"
	"github.com/rs/zerolog"

	"github.com/lamco-desktop/wlcast/pkg/format"
)

var gstInitOnce sync.Once

// initGStreamer initializes the GStreamer library. Safe to call
// multiple times.
func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// frameSource produces raw frames for one stream. The capture thread
// creates and starts exactly one per active stream; stop is also
// called from Manager.RemoveStream on the caller's goroutine, so
// implementations must make stop safe to call from any goroutine and
// more than once.
type frameSource interface {
	start() (<-chan rawFrame, error)
	stop()

	// lastError returns the error that caused the frame channel to
	// close, or nil if it was never set — i.e. the source was torn
	// down intentionally via stop() rather than failing on its own.
	lastError() error
}

// cursorSample is the raw cursor overlay data pulled off one buffer,
// before it's folded into a cursor.Extractor's running state.
type cursorSample struct {
	position [2]int32
	hotspot  [2]int32
	size     [2]uint32
	bitmap   []byte
}

// rawFrame is what a frameSource hands to the capture thread before
// it's wrapped into a VideoFrame with stream ID and sequence number.
type rawFrame struct {
	width, height uint32
	format        format.PixelFormat
	data          []byte
	timestamp     time.Time
	cursor        cursorSample
	hasCursor     bool
}

// gstSource wraps a GStreamer pipeline built around a pipewiresrc
// feeding an appsink, following the same appsink-pull and
// non-blocking-send-drop-on-full discipline the teacher's video
// forwarding pipeline uses.
type gstSource struct {
	pipeline     *gst.Pipeline
	appsink      *app.Sink
	frameCh      chan rawFrame
	running      atomic.Bool
	teardownOnce sync.Once
	log          zerolog.Logger

	enableCursor bool

	errMu   sync.Mutex
	lastErr error
}

// newGstSource builds a pipeline sourcing from PipeWire node nodeID on
// the core connection identified by fd, producing the pixel format
// preferredFormat. When enableCursor is set, buffers are also probed
// for the GstVideoOverlayCompositionMeta pipewiresrc attaches when the
// portal negotiated a metadata-mode cursor.
func newGstSource(fd int, nodeID uint32, preferredFormat format.PixelFormat, enableCursor bool, log zerolog.Logger) (*gstSource, error) {
	initGStreamer()

	pipelineStr := fmt.Sprintf(
		"pipewiresrc fd=%d path=%d ! videoconvert ! video/x-raw,format=%s ! appsink name=videosink",
		fd, nodeID, gstCapsFormat(preferredFormat),
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("parse capture pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("videosink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("get videosink element: %w", err)
	}

	appsink := app.SinkFromElement(elem)
	if appsink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("videosink element is not an appsink")
	}

	return &gstSource{
		pipeline:     pipeline,
		appsink:      appsink,
		frameCh:      make(chan rawFrame, 4),
		enableCursor: enableCursor,
		log:          log.With().Uint32("node_id", nodeID).Logger(),
	}, nil
}

func gstCapsFormat(f format.PixelFormat) string {
	switch f {
	case format.BGRx:
		return "BGRx"
	case format.RGBA:
		return "RGBA"
	case format.RGBx:
		return "RGBx"
	default:
		return "BGRA"
	}
}

func (g *gstSource) start() (<-chan rawFrame, error) {
	g.appsink.SetProperty("emit-signals", true)
	g.appsink.SetProperty("max-buffers", uint(2))
	g.appsink.SetProperty("drop", true)
	g.appsink.SetProperty("sync", false)

	g.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: g.onNewSample,
	})

	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("set pipeline playing: %w", err)
	}
	g.running.Store(true)

	go g.watchBus()

	return g.frameCh, nil
}

func (g *gstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !g.running.Load() {
		return gst.FlowEOS
	}

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	caps := sample.GetCaps()
	width, height := capsDimensions(caps)

	frame := rawFrame{
		width:     width,
		height:    height,
		format:    format.BGRA,
		data:      data,
		timestamp: time.Now(),
	}

	if g.enableCursor {
		if cs, ok := extractCursorOverlay(buffer); ok {
			frame.cursor = cs
			frame.hasCursor = true
		}
	}

	select {
	case g.frameCh <- frame:
	default:
		g.log.Debug().Msg("dropping frame: source channel full")
	}

	return gst.FlowOK
}

func capsDimensions(caps *gst.Caps) (uint32, uint32) {
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	s := caps.GetStructureAt(0)
	if s == nil {
		return 0, 0
	}
	w, _ := s.GetValue("width")
	h, _ := s.GetValue("height")
	wi, _ := w.(int)
	hi, _ := h.(int)
	return uint32(wi), uint32(hi)
}

func (g *gstSource) watchBus() {
	bus := g.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}

	for g.running.Load() {
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			g.fail(fmt.Errorf("capture pipeline reached end-of-stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			if gerr != nil {
				g.log.Error().Err(gerr).Msg("gstreamer pipeline error")
				g.fail(gerr)
			} else {
				g.fail(fmt.Errorf("gstreamer pipeline error"))
			}
			return
		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				g.log.Warn().Err(gwarn).Msg("gstreamer pipeline warning")
			}
		}
	}
}

// stop tears the pipeline down intentionally: lastError stays nil, so
// the capture thread won't mistake this for a connection loss.
func (g *gstSource) stop() {
	g.teardownOnce.Do(func() {
		g.running.Store(false)
		if g.pipeline != nil {
			g.pipeline.SetState(gst.StateNull)
		}
		close(g.frameCh)
	})
}

// fail records err as the cause of an unrequested pipeline shutdown,
// then tears down the same way stop() does.
func (g *gstSource) fail(err error) {
	g.errMu.Lock()
	if g.lastErr == nil {
		g.lastErr = err
	}
	g.errMu.Unlock()
	g.stop()
}

func (g *gstSource) lastError() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.lastErr
}

// extractCursorOverlay reads the GstVideoOverlayCompositionMeta
// pipewiresrc attaches to a buffer when the portal negotiated
// cursor_mode=Metadata: one overlay rectangle carrying the cursor's
// render position/size and, when the shape changed, its BGRA pixels.
// Returns false when the buffer carries no such meta (cursor_mode
// isn't Metadata, or the cursor hasn't been repainted since it last
// changed position only).
func extractCursorOverlay(buffer *gst.Buffer) (cursorSample, bool) {
	meta := video.GetVideoOverlayCompositionMeta(buffer)
	if meta == nil || meta.Overlay == nil || meta.Overlay.NumRectangles() == 0 {
		return cursorSample{}, false
	}

	rect := meta.Overlay.RectangleAt(0)
	if rect == nil {
		return cursorSample{}, false
	}

	x, y, w, h := rect.RenderRectangle()
	cs := cursorSample{
		position: [2]int32{x, y},
		size:     [2]uint32{w, h},
	}

	overlayBuf := rect.Buffer()
	if overlayBuf == nil {
		return cs, true
	}

	mapInfo := overlayBuf.Map(gst.MapRead)
	if mapInfo == nil {
		return cs, true
	}
	defer overlayBuf.Unmap()

	cs.bitmap = make([]byte, len(mapInfo.Bytes()))
	copy(cs.bitmap, mapInfo.Bytes())
	return cs, true
}
