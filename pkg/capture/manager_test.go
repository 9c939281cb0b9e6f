package capture

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFailingSource is a frameSource test double that closes its
// channel and reports a non-nil lastError, as if the pipeline had
// torn itself down rather than been asked to stop.
type fakeFailingSource struct {
	ch      chan rawFrame
	err     error
	stopped atomic.Bool
}

func newFakeFailingSource(err error) *fakeFailingSource {
	return &fakeFailingSource{ch: make(chan rawFrame), err: err}
}

func (f *fakeFailingSource) start() (<-chan rawFrame, error) { return f.ch, nil }

func (f *fakeFailingSource) stop() {
	if f.stopped.CompareAndSwap(false, true) {
		close(f.ch)
	}
}

func (f *fakeFailingSource) lastError() error { return f.err }

func TestManagerCreation(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Disconnected, m.State())
}

func TestManagerWithConfig(t *testing.T) {
	cfg := New(WithBufferCount(5), WithMaxStreams(4))
	m, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint32(5), m.Config().BufferCount)
	assert.Equal(t, 4, m.Config().MaxStreams)
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferCount = 0

	_, err := NewManager(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestManagerStateDefault(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.IsConnected())
}

func TestStreamHandleFields(t *testing.T) {
	h := StreamHandle{
		ID:         1,
		NodeID:     42,
		Position:   [2]int32{0, 0},
		Size:       [2]uint32{1920, 1080},
		SourceType: Monitor,
	}

	assert.Equal(t, uint32(1), h.ID)
	assert.Equal(t, uint32(42), h.NodeID)
	assert.Equal(t, [2]uint32{1920, 1080}, h.Size)
}

func TestCreateStreamRejectedWhenNotConnected(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = m.CreateStream(t.Context(), StreamInfo{NodeID: 1, Size: [2]uint32{100, 100}})
	require.Error(t, err)
}

func TestRemoveUnknownStreamFails(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	err = m.RemoveStream(t.Context(), 99)
	require.Error(t, err)
}

func TestFrameReceiverUnknownStreamFails(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = m.FrameReceiver(99)
	require.Error(t, err)
}

func TestPumpFramesNewestDrop(t *testing.T) {
	m, err := NewManager(New(WithFrameBufferSize(3)), zerolog.Nop())
	require.NoError(t, err)

	entry := &streamEntry{
		handle: StreamHandle{ID: 0},
		sender: make(chan VideoFrame, 3),
		stats:  &streamCounters{},
	}
	m.streams.Store(0, entry)

	raw := make(chan rawFrame, 10)
	for i := 0; i < 10; i++ {
		raw <- rawFrame{width: 10, height: 10}
	}
	close(raw)

	m.pumpFrames(0, raw)

	updated, _ := m.streams.Load(0)
	assert.Equal(t, uint64(7), updated.stats.dropped)
	assert.Equal(t, uint64(3), updated.stats.delivered)
	assert.Len(t, updated.sender, 3)
}

// TestSequencePerStream confirms stream 0's sequence numbers are
// independent of stream 1's, rather than sharing one manager-wide
// counter.
func TestSequencePerStream(t *testing.T) {
	m, err := NewManager(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	entry0 := &streamEntry{handle: StreamHandle{ID: 0}, sender: make(chan VideoFrame, 4), stats: &streamCounters{}}
	entry1 := &streamEntry{handle: StreamHandle{ID: 1}, sender: make(chan VideoFrame, 4), stats: &streamCounters{}}
	m.streams.Store(0, entry0)
	m.streams.Store(1, entry1)

	raw0 := make(chan rawFrame, 2)
	raw0 <- rawFrame{width: 10, height: 10}
	raw0 <- rawFrame{width: 10, height: 10}
	close(raw0)
	m.pumpFrames(0, raw0)

	raw1 := make(chan rawFrame, 1)
	raw1 <- rawFrame{width: 10, height: 10}
	close(raw1)
	m.pumpFrames(1, raw1)

	f0a := <-entry0.sender
	f0b := <-entry0.sender
	f1a := <-entry1.sender

	assert.Equal(t, uint64(1), f0a.Seq)
	assert.Equal(t, uint64(2), f0b.Seq)
	assert.Equal(t, uint64(1), f1a.Seq)
}

// TestConnectionLossTriggersReconnect simulates a source that tears
// itself down with a non-nil lastError and confirms the manager moves
// through Error and, once auto-reconnect exhausts its attempts against
// a connect command nothing answers, back to Disconnected rather than
// hanging in Error forever.
func TestConnectionLossTriggersReconnect(t *testing.T) {
	cfg := New(WithAutoReconnect(true), WithMaxReconnectAttempts(2), WithConnectionTimeoutMs(100))
	m, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)

	m.setState(Connected)
	m.portalFD = 7
	m.cmdCh = make(chan command, 16) // nothing reads this; sendConnect will time out per attempt

	source := newFakeFailingSource(fmt.Errorf("core connection reset"))
	entry := &streamEntry{handle: StreamHandle{ID: 0}, sender: make(chan VideoFrame, 1), stats: &streamCounters{}, source: source}
	m.streams.Store(0, entry)

	raw, err := source.start()
	require.NoError(t, err)
	source.stop()

	m.pumpFrames(0, raw)

	require.Eventually(t, func() bool {
		return m.State() == Disconnected
	}, 5*time.Second, 10*time.Millisecond)
}
