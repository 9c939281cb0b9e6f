// Package clipboard bridges a portal.Session's delayed-rendering
// clipboard selection to local producers and consumers: announcing
// formats, answering SelectionTransfer requests from a pending-data
// map, reading the remote selection, and transferring file lists.
package clipboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lamco-desktop/wlcast/pkg/portal"
	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// pendingTTL is how long a write_clipboard entry survives unclaimed
// before it's evicted.
const pendingTTL = 30 * time.Second

type pendingEntry struct {
	data     []byte
	queuedAt time.Time
}

// Bridge owns the pending-write queue and the SelectionTransfer
// listener for one portal session's clipboard.
type Bridge struct {
	session *portal.Session
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingEntry

	listenerStarted bool
	stopListener    context.CancelFunc

	files *fileListCache
}

// New builds a Bridge over an established portal session.
func New(session *portal.Session, log zerolog.Logger) *Bridge {
	return &Bridge{
		session: session,
		log:     log.With().Str("component", "clipboard").Logger(),
		pending: make(map[string]pendingEntry),
		files:   newFileListCache(),
	}
}

// AnnounceFormats calls the portal's SetSelection with the given MIME
// type list. No data is transferred yet — delayed rendering means
// bytes only move once a local consumer pastes and the portal raises
// SelectionTransfer.
func (b *Bridge) AnnounceFormats(mimeTypes []string) error {
	if len(mimeTypes) == 0 {
		return nil
	}
	return b.session.SetSelection(mimeTypes)
}

// StartTransferListener subscribes to the session's SelectionTransfer
// signal and begins answering requests from the pending map. Must be
// called once before WriteClipboard has any effect; calling it twice
// is a no-op.
func (b *Bridge) StartTransferListener(ctx context.Context) error {
	b.mu.Lock()
	if b.listenerStarted {
		b.mu.Unlock()
		return nil
	}
	b.listenerStarted = true
	b.mu.Unlock()

	events, err := b.session.SubscribeSelectionTransfer()
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	b.stopListener = cancel

	go func() {
		for {
			select {
			case <-listenCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.handleTransfer(ev)
			}
		}
	}()
	return nil
}

// handleTransfer answers one SelectionTransfer: writes queued bytes
// for the requested MIME type if present, otherwise reports failure.
func (b *Bridge) handleTransfer(ev portal.SelectionTransferEvent) {
	b.mu.Lock()
	b.evictExpiredLocked()
	entry, ok := b.pending[ev.Mime]
	if ok {
		delete(b.pending, ev.Mime)
	}
	b.mu.Unlock()

	if !ok {
		b.log.Warn().Str("mime", ev.Mime).Uint32("serial", ev.Serial).Msg("selection transfer with no pending data")
		if err := b.session.SelectionWriteDone(ev.Serial, false); err != nil {
			b.log.Warn().Err(err).Msg("selection_write_done failed")
		}
		return
	}

	if err := b.session.SelectionWrite(ev.Serial, entry.data); err != nil {
		b.log.Error().Err(err).Str("mime", ev.Mime).Msg("selection write failed")
		_ = b.session.SelectionWriteDone(ev.Serial, false)
		return
	}
	if err := b.session.SelectionWriteDone(ev.Serial, true); err != nil {
		b.log.Warn().Err(err).Msg("selection_write_done failed")
	}
}

// WriteClipboard queues data to be handed over the next time the
// portal raises SelectionTransfer for mime. Requires
// StartTransferListener to have been called first.
func (b *Bridge) WriteClipboard(mime string, data []byte) error {
	if !b.listenerStarted {
		return wlerr.New(wlerr.KindClipboardInvalidState, "write_clipboard", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictExpiredLocked()
	b.pending[mime] = pendingEntry{data: data, queuedAt: time.Now()}
	return nil
}

// evictExpiredLocked drops pending entries older than pendingTTL.
// Caller must hold b.mu.
func (b *Bridge) evictExpiredLocked() {
	cutoff := time.Now().Add(-pendingTTL)
	for mime, entry := range b.pending {
		if entry.queuedAt.Before(cutoff) {
			delete(b.pending, mime)
		}
	}
}

// ReadClipboard performs a synchronous read of the current remote
// selection for mime.
func (b *Bridge) ReadClipboard(mime string) ([]byte, error) {
	return b.session.SelectionRead(mime)
}

// Stop cancels the transfer listener goroutine, if running.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopListener != nil {
		b.stopListener()
		b.stopListener = nil
	}
	b.listenerStarted = false
}
