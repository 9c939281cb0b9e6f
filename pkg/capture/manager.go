// Package capture wraps the non-thread-safe native screen-capture
// binding behind a dedicated OS thread, presenting a thread-safe,
// channel-based interface to the rest of the system: a command/reply
// protocol in, bounded per-stream frame channels out.
package capture

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/lamco-desktop/wlcast/pkg/cursor"
	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdCreateStream
	cmdDestroyStream
	cmdShutdown
)

type command struct {
	kind commandKind

	fd       int
	streamID uint32
	nodeID   uint32

	reply chan error
}

type streamEntry struct {
	handle          StreamHandle
	sender          chan VideoFrame
	stats           *streamCounters
	source          frameSource
	cursorExtractor *cursor.Extractor // nil unless enable_cursor is set
}

type streamCounters struct {
	delivered uint64
	dropped   uint64

	seqMu    sync.Mutex
	sequence uint64
}

// nextSeq returns this stream's next monotonic sequence number.
// Sequence numbers are scoped per stream, not shared across them.
func (c *streamCounters) nextSeq() uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.sequence++
	return c.sequence
}

// Manager is the single entry point for screen capture: it owns the
// dedicated capture thread and exposes a thread-safe API to connect,
// create/destroy streams, and receive frames.
//
// Not safe to construct twice against the same FD; a given transport
// FD must be handed to exactly one Manager.
type Manager struct {
	config Config
	log    zerolog.Logger

	mu    sync.RWMutex
	state ManagerState

	streams     *xsync.MapOf[uint32, *streamEntry]
	nextStream  uint32
	nextMu      sync.Mutex
	stats       Stats
	statsMu     sync.Mutex

	cmdCh    chan command
	wg       conc.WaitGroup
	stopOnce sync.Once

	portalFD int
}

// NewManager constructs a Manager. The config is validated; an
// invalid config fails fast rather than surfacing errors later from
// inside the capture thread.
func NewManager(config Config, log zerolog.Logger) (*Manager, error) {
	if issues := config.Validate(); len(issues) > 0 {
		return nil, wlerr.New(wlerr.KindInvalidParameter, "capture.NewManager", fmt.Errorf("%v", issues))
	}

	return &Manager{
		config:  config,
		log:     log.With().Str("component", "capture.manager").Logger(),
		state:   Disconnected,
		streams: xsync.NewMapOf[uint32, *streamEntry](),
		cmdCh:   make(chan command, 16),
	}, nil
}

func (m *Manager) getState() ManagerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s ManagerState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() ManagerState {
	return m.getState()
}

// IsConnected reports whether the manager is in the Connected state.
func (m *Manager) IsConnected() bool {
	return m.getState() == Connected
}

// Connect spawns the dedicated capture thread, hands it fd (the
// portal-provided pixel-transport descriptor), and blocks until the
// core connection is up or connection_timeout_ms elapses.
//
// Connect does not take ownership of fd and never closes it, on
// success or on failure; the descriptor stays with the portal.Session
// that produced it, whose Close closes it.
func (m *Manager) Connect(ctx context.Context, fd int) error {
	if m.getState() == Connected {
		return wlerr.New(wlerr.KindInvalidState, "capture.Connect", fmt.Errorf("already connected"))
	}

	m.setState(Connecting)
	m.portalFD = fd

	m.wg.Go(func() {
		m.runThread()
	})

	if err := m.sendConnect(ctx, fd); err != nil {
		return err
	}

	m.setState(Connected)
	m.log.Info().Int("fd", fd).Msg("capture connected")
	return nil
}

// sendConnect sends a Connect command to the capture thread — already
// running, whether from Connect's initial spawn or an earlier
// reconnect — and waits for it to report the core connection is up,
// or connection_timeout_ms elapses.
func (m *Manager) sendConnect(ctx context.Context, fd int) error {
	reply := make(chan error, 1)
	timeout := time.Duration(m.config.ConnectionTimeoutMs) * time.Millisecond

	select {
	case m.cmdCh <- command{kind: cmdConnect, fd: fd, reply: reply}:
	case <-time.After(timeout):
		m.setState(Error)
		return wlerr.New(wlerr.KindTimeout, "capture.Connect", fmt.Errorf("command channel blocked"))
	}

	select {
	case err := <-reply:
		if err != nil {
			m.setState(Error)
			return err
		}
		return nil
	case <-time.After(timeout):
		m.setState(Error)
		return wlerr.Sentinel(wlerr.KindTimeout)
	case <-ctx.Done():
		m.setState(Error)
		return wlerr.New(wlerr.KindTimeout, "capture.Connect", ctx.Err())
	}
}

// CreateStream allocates a stream ID, registers its frame channel,
// and asks the capture thread to build the underlying pipeline.
func (m *Manager) CreateStream(ctx context.Context, info StreamInfo) (StreamHandle, error) {
	if m.getState() != Connected {
		return StreamHandle{}, wlerr.New(wlerr.KindInvalidState, "capture.CreateStream", fmt.Errorf("manager not connected"))
	}

	count := 0
	m.streams.Range(func(uint32, *streamEntry) bool { count++; return true })
	if count >= m.config.MaxStreams {
		return StreamHandle{}, wlerr.TooManyStreams(m.config.MaxStreams)
	}

	m.nextMu.Lock()
	id := m.nextStream
	m.nextStream++
	m.nextMu.Unlock()

	handle := StreamHandle{
		ID:         id,
		NodeID:     info.NodeID,
		Position:   info.Position,
		Size:       info.Size,
		SourceType: info.SourceType,
	}

	sender := make(chan VideoFrame, m.config.FrameBufferSize)
	entry := &streamEntry{handle: handle, sender: sender, stats: &streamCounters{}}
	m.streams.Store(id, entry)

	reply := make(chan error, 1)
	m.cmdCh <- command{kind: cmdCreateStream, streamID: id, nodeID: info.NodeID, reply: reply}

	select {
	case err := <-reply:
		if err != nil {
			m.streams.Delete(id)
			return StreamHandle{}, wlerr.New(wlerr.KindStreamCreationFailed, "capture.CreateStream", err)
		}
	case <-ctx.Done():
		m.streams.Delete(id)
		return StreamHandle{}, wlerr.New(wlerr.KindTimeout, "capture.CreateStream", ctx.Err())
	}

	m.statsMu.Lock()
	m.stats.StreamsCreated++
	m.statsMu.Unlock()

	m.log.Info().Uint32("stream_id", id).Uint32("node_id", info.NodeID).Msg("stream created")
	return handle, nil
}

// FrameReceiver replaces the stream's current sender with a fresh one
// and returns the matching receiver. Frames already in flight on the
// old sender are lost — callers must attach before creating heavy
// downstream work. At most one receiver is meaningful per stream at a
// time.
func (m *Manager) FrameReceiver(id uint32) (<-chan VideoFrame, error) {
	entry, ok := m.streams.Load(id)
	if !ok {
		return nil, wlerr.StreamNotFound(id)
	}

	newSender := make(chan VideoFrame, m.config.FrameBufferSize)
	updated := &streamEntry{
		handle:          entry.handle,
		sender:          newSender,
		stats:           entry.stats,
		source:          entry.source,
		cursorExtractor: entry.cursorExtractor,
	}
	m.streams.Store(id, updated)

	return newSender, nil
}

// RemoveStream drops the stream's receiver and asks the capture
// thread to tear down its pipeline. Reply errors are ignored — this
// matches shutdown's best-effort cleanup contract.
func (m *Manager) RemoveStream(ctx context.Context, id uint32) error {
	entry, ok := m.streams.LoadAndDelete(id)
	if !ok {
		return wlerr.StreamNotFound(id)
	}
	if entry.source != nil {
		entry.source.stop()
	}

	reply := make(chan error, 1)
	select {
	case m.cmdCh <- command{kind: cmdDestroyStream, streamID: id, reply: reply}:
	default:
		return nil
	}

	select {
	case <-reply:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}

	m.statsMu.Lock()
	m.stats.StreamsDestroyed++
	m.statsMu.Unlock()

	return nil
}

// Stream returns the handle for id, if active.
func (m *Manager) Stream(id uint32) (StreamHandle, bool) {
	entry, ok := m.streams.Load(id)
	if !ok {
		return StreamHandle{}, false
	}
	return entry.handle, true
}

// Streams returns every currently active stream handle.
func (m *Manager) Streams() []StreamHandle {
	var out []StreamHandle
	m.streams.Range(func(_ uint32, entry *streamEntry) bool {
		out = append(out, entry.handle)
		return true
	})
	return out
}

// StreamStats returns delivery/drop counters for a stream.
func (m *Manager) StreamStats(id uint32) (StreamStats, bool) {
	entry, ok := m.streams.Load(id)
	if !ok {
		return StreamStats{}, false
	}
	return StreamStats{
		FramesDelivered: entry.stats.delivered,
		FramesDropped:   entry.stats.dropped,
	}, true
}

// Stats returns a copy of the manager's cumulative statistics.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Shutdown destroys every active stream, stops the capture thread,
// and returns the manager to Disconnected. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.setState(ShuttingDown)

	var ids []uint32
	m.streams.Range(func(id uint32, _ *streamEntry) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if err := m.RemoveStream(ctx, id); err != nil {
			m.log.Warn().Err(err).Uint32("stream_id", id).Msg("error removing stream during shutdown")
		}
	}

	m.stopOnce.Do(func() {
		select {
		case m.cmdCh <- command{kind: cmdShutdown}:
		default:
		}
		close(m.cmdCh)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		m.log.Warn().Msg("capture thread did not exit within 2s; resources leaked")
	}

	m.setState(Disconnected)
	m.log.Info().Msg("capture manager shut down")
	return nil
}

// runThread is the dedicated capture-thread loop. It owns all capture
// resources and never calls async code; it talks to the rest of the
// system only through cmdCh and per-stream frame channels.
func (m *Manager) runThread() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for cmd := range m.cmdCh {
		switch cmd.kind {
		case cmdConnect:
			err := m.threadConnect(cmd.fd)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case cmdCreateStream:
			err := m.threadCreateStream(cmd.streamID, cmd.nodeID)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case cmdDestroyStream:
			err := m.threadDestroyStream(cmd.streamID)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case cmdShutdown:
			return
		}
	}
}

func (m *Manager) threadConnect(fd int) error {
	// The real core connection handshake happens here, on the thread
	// that will own it for its lifetime. Nothing further to validate
	// once the FD is handed off; per-stream pipelines are built lazily
	// in threadCreateStream.
	if fd < 0 {
		return wlerr.New(wlerr.KindIPCConnectionFailed, "capture.threadConnect", fmt.Errorf("invalid fd %d", fd))
	}
	return nil
}

func (m *Manager) threadCreateStream(id, nodeID uint32) error {
	entry, ok := m.streams.Load(id)
	if !ok {
		return wlerr.StreamNotFound(id)
	}

	source, err := newGstSource(m.portalFD, nodeID, m.config.PreferredFormat, m.config.EnableCursor, m.log)
	if err != nil {
		return err
	}

	raw, err := source.start()
	if err != nil {
		return err
	}

	entry.source = source
	if m.config.EnableCursor {
		entry.cursorExtractor = cursor.New()
	}
	m.streams.Store(id, entry)

	m.wg.Go(func() {
		m.pumpFrames(id, raw)
	})

	return nil
}

func (m *Manager) threadDestroyStream(id uint32) error {
	entry, ok := m.streams.Load(id)
	if !ok {
		return wlerr.StreamNotFound(id)
	}
	if entry.source != nil {
		entry.source.stop()
	}
	return nil
}

// pumpFrames forwards raw frames from a source into the stream's
// current sender, dropping the newest frame and counting it when the
// channel is full — frames already queued stay queued, preserving
// temporal relevance over completeness.
func (m *Manager) pumpFrames(id uint32, raw <-chan rawFrame) {
	for rf := range raw {
		entry, ok := m.streams.Load(id)
		if !ok {
			continue
		}

		frame := VideoFrame{
			StreamID:  id,
			Width:     rf.width,
			Height:    rf.height,
			Format:    rf.format,
			Data:      rf.data,
			Seq:       entry.stats.nextSeq(),
			Timestamp: rf.timestamp,
		}

		if entry.cursorExtractor != nil {
			if rf.hasCursor {
				entry.cursorExtractor.UpdateFromRaw(rf.cursor.position, rf.cursor.hotspot, rf.cursor.size, rf.cursor.bitmap, true)
			}
			if info, visible := entry.cursorExtractor.Current(); visible {
				frame.Cursor = &info
			}
		}

		select {
		case entry.sender <- frame:
			entry.stats.delivered++
		default:
			entry.stats.dropped++
		}

		m.statsMu.Lock()
		m.stats.TotalFrames++
		m.stats.TotalBytes += uint64(len(rf.data))
		m.statsMu.Unlock()
	}

	entry, ok := m.streams.Load(id)
	if !ok || entry.source == nil {
		return
	}
	if err := entry.source.lastError(); err != nil {
		m.handleConnectionLoss(err)
	}
}

// reconnect retries the core connection with exponential backoff
// (100ms, 200, 400, ...) up to max_reconnect_attempts before
// surfacing a permanent Disconnected state. Called when the thread
// observes a broken core connection and auto_reconnect is enabled.
// Unlike Connect, it never spawns a new capture thread — the existing
// one is still running its command loop, waiting for exactly this.
func (m *Manager) reconnect(ctx context.Context, fd int) error {
	if !m.config.AutoReconnect {
		m.setState(Disconnected)
		return wlerr.Sentinel(wlerr.KindIPCConnectionFailed)
	}

	err := retry.Do(
		func() error {
			return m.sendConnect(ctx, fd)
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.config.MaxReconnectAttempts)),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		m.setState(Disconnected)
		return wlerr.New(wlerr.KindIPCConnectionFailed, "capture.reconnect", err)
	}

	m.setState(Connected)
	m.portalFD = fd
	m.log.Info().Int("fd", fd).Msg("capture reconnected")
	return nil
}

// handleConnectionLoss reacts to a stream's frame source shutting
// down on its own (core connection dropped): it moves the manager to
// Error and, if auto_reconnect is enabled, retries in the background.
func (m *Manager) handleConnectionLoss(err error) {
	switch m.getState() {
	case ShuttingDown, Disconnected:
		return
	}

	m.log.Error().Err(err).Msg("capture core connection lost")
	m.setState(Error)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconnectWindow(m.config))
		defer cancel()
		if rerr := m.reconnect(ctx, m.portalFD); rerr != nil {
			m.log.Error().Err(rerr).Msg("auto-reconnect exhausted; capture remains disconnected")
		}
	}()
}

// reconnectWindow bounds how long reconnect's backoff loop is allowed
// to run: every attempt's connection_timeout_ms plus its backoff
// delay (100ms, 200, 400, ...), with headroom to spare.
func reconnectWindow(cfg Config) time.Duration {
	timeout := time.Duration(cfg.ConnectionTimeoutMs) * time.Millisecond
	var total time.Duration
	delay := 100 * time.Millisecond
	for i := uint32(0); i < cfg.MaxReconnectAttempts; i++ {
		total += timeout + delay
		delay *= 2
	}
	return total + 2*time.Second
}
