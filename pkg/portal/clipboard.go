package portal

import (
	"fmt"
	"io"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// SelectionTransferEvent mirrors the portal's SelectionTransfer signal:
// a local paste consumer is requesting bytes for mime, tagged with
// serial so the response can be matched to the request.
type SelectionTransferEvent struct {
	Mime   string
	Serial uint32
}

func (s *Session) clipboardCall(method string, args ...interface{}) *dbus.Call {
	obj := s.conn.Object(busName, busPath)
	call := append([]interface{}{s.sessionPath}, args...)
	return obj.Call(ifaceCB+"."+method, 0, call...)
}

// SetSelection announces the given MIME types as available on this
// session's clipboard selection. No data is transferred at this
// point — delayed rendering defers that until a SelectionTransfer
// signal arrives for one of them.
func (s *Session) SetSelection(mimeTypes []string) error {
	options := map[string]dbus.Variant{"mime-types": dbus.MakeVariant(mimeTypes)}
	if err := s.clipboardCall("SetSelection", options).Err; err != nil {
		return wlerr.New(wlerr.KindClipboardBackend, "set_selection", err)
	}
	return nil
}

// SelectionRead performs a synchronous read of the current selection
// for the given MIME type, returning its full contents.
func (s *Session) SelectionRead(mime string) ([]byte, error) {
	call := s.clipboardCall("SelectionRead", mime)
	if call.Err != nil {
		return nil, wlerr.New(wlerr.KindClipboardBackend, "selection_read", call.Err)
	}
	if len(call.Body) == 0 {
		return nil, wlerr.New(wlerr.KindClipboardBackend, "selection_read", fmt.Errorf("no fd returned"))
	}
	fd, ok := call.Body[0].(dbus.UnixFD)
	if !ok {
		return nil, wlerr.New(wlerr.KindClipboardBackend, "selection_read", fmt.Errorf("unexpected reply type"))
	}

	f := os.NewFile(uintptr(fd), "clipboard-read")
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, wlerr.New(wlerr.KindIoError, "selection_read", err)
	}
	return data, nil
}

// SelectionWrite responds to a SelectionTransfer for serial by
// opening the write end the portal hands back and writing data into
// it. The wire method itself is fd-based (SelectionWrite(session,
// serial) -> fd); this wrapper hides that and takes the bytes
// directly.
func (s *Session) SelectionWrite(serial uint32, data []byte) error {
	call := s.clipboardCall("SelectionWrite", serial)
	if call.Err != nil {
		return wlerr.New(wlerr.KindClipboardBackend, "selection_write", call.Err)
	}
	if len(call.Body) == 0 {
		return wlerr.New(wlerr.KindClipboardBackend, "selection_write", fmt.Errorf("no fd returned"))
	}
	fd, ok := call.Body[0].(dbus.UnixFD)
	if !ok {
		return wlerr.New(wlerr.KindClipboardBackend, "selection_write", fmt.Errorf("unexpected reply type"))
	}

	f := os.NewFile(uintptr(fd), "clipboard-write")
	_, werr := f.Write(data)
	f.Close()
	if werr != nil {
		return wlerr.New(wlerr.KindIoError, "selection_write", werr)
	}
	return nil
}

// SelectionWriteDone signals completion of a SelectionWrite for
// serial, success indicating whether the write succeeded.
func (s *Session) SelectionWriteDone(serial uint32, success bool) error {
	if err := s.clipboardCall("SelectionWriteDone", serial, success).Err; err != nil {
		return wlerr.New(wlerr.KindClipboardBackend, "selection_write_done", err)
	}
	return nil
}

// SubscribeSelectionTransfer subscribes to the portal's
// SelectionTransfer signal and returns a channel of parsed events. Per
// the session/bridge design, the session only ever writes to this
// channel — it never calls into a clipboard bridge synchronously. The
// channel closes when the Session is Closed.
func (s *Session) SubscribeSelectionTransfer() (<-chan SelectionTransferEvent, error) {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(s.sessionPath),
		dbus.WithMatchInterface(ifaceCB),
		dbus.WithMatchMember("SelectionTransfer"),
	); err != nil {
		return nil, wlerr.New(wlerr.KindIPCConnectionFailed, "subscribe_selection_transfer", err)
	}

	raw := make(chan *dbus.Signal, 16)
	s.conn.Signal(raw)

	out := make(chan SelectionTransferEvent, 16)
	go func() {
		defer close(out)
		for sig := range raw {
			if sig == nil || sig.Name != ifaceCB+".SelectionTransfer" || len(sig.Body) < 2 {
				continue
			}
			mime, ok1 := sig.Body[0].(string)
			serial, ok2 := sig.Body[1].(uint32)
			if !ok1 || !ok2 {
				continue
			}
			out <- SelectionTransferEvent{Mime: mime, Serial: serial}
		}
	}()
	return out, nil
}
