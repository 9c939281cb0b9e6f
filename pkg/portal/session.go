package portal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/lamco-desktop/wlcast/pkg/capture"
	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

const (
	busName  = "org.freedesktop.portal.Desktop"
	busPath  = "/org/freedesktop/portal/desktop"
	ifaceRD  = "org.freedesktop.portal.RemoteDesktop"
	ifaceSC  = "org.freedesktop.portal.ScreenCast"
	ifaceCB  = "org.freedesktop.portal.Clipboard"
	ifaceReq = "org.freedesktop.portal.Request"
)

// Session is a retained, running portal session: the transport FD,
// the granted stream descriptors, and the RemoteDesktop session
// object used for input injection and (optionally) clipboard. It is
// created by Open and released by Close, which owns both the FD and
// the portal-side session handle for its entire lifetime.
type Session struct {
	log zerolog.Logger

	conn        *dbus.Conn
	sessionPath dbus.ObjectPath

	pipewireFD int
	streams    []capture.StreamInfo

	clipboardActive bool

	closeOnce sync.Once
}

// Open runs the full negotiation sequence (spec §4.8): connect to the
// session bus, create a RemoteDesktop session, select devices and
// screen sources, optionally request clipboard access, start the
// session (triggering the host's consent UI), and open the PipeWire
// remote to obtain the transport FD. It fails with a typed *wlerr.Error
// at the first unmet step.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Session, error) {
	log = log.With().Str("component", "portal").Logger()

	conn, err := connectBus(ctx, log)
	if err != nil {
		return nil, err
	}

	s := &Session{log: log, conn: conn, pipewireFD: -1}

	if err := s.createSession(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.selectDevices(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.selectSources(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.WantClipboard {
		if err := s.requestClipboard(ctx, cfg); err != nil {
			// Clipboard access is an enrichment, not core capture;
			// the session can still proceed video-only.
			s.log.Warn().Err(err).Msg("clipboard access request failed, continuing without it")
		} else {
			s.clipboardActive = true
		}
	}
	streams, err := s.start(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.streams = streams

	if err := s.openPipewireRemote(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Int("streams", len(s.streams)).Int("fd", s.pipewireFD).Msg("portal session established")
	return s, nil
}

// connectBus dials the session bus and verifies the portal service
// responds to introspection, retrying with backoff since the portal
// may not be up yet this early in the desktop session.
func connectBus(ctx context.Context, log zerolog.Logger) (*dbus.Conn, error) {
	var conn *dbus.Conn
	err := retry.Do(
		func() error {
			c, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
			if err != nil {
				return err
			}
			obj := c.Object(busName, busPath)
			if call := obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0); call.Err != nil {
				c.Close()
				return call.Err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(60),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return nil, wlerr.New(wlerr.KindPortalNotAvailable, "connect_bus", err)
	}
	log.Info().Msg("connected to portal on session bus")
	return conn, nil
}

// requestPath builds the per-call Request object path the portal will
// emit its Response signal on, and returns a token to pass as
// handle_token.
func (s *Session) requestPath() (string, dbus.ObjectPath) {
	token := "wlcast_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	sender := strings.TrimPrefix(s.conn.Names()[0], ":")
	sender = strings.ReplaceAll(sender, ".", "_")
	return token, dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s/%s", sender, token))
}

// awaitResponse subscribes to the Response signal on path, invokes
// call (which must trigger that response), and returns the result
// dict on success (code 0). Non-zero response codes surface as
// PermissionDenied (1, cancelled-by-user) or InvalidState (others).
func (s *Session) awaitResponse(ctx context.Context, op string, path dbus.ObjectPath, call func() error) (map[string]dbus.Variant, error) {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(ifaceReq),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, wlerr.New(wlerr.KindIPCConnectionFailed, op, err)
	}

	sig := make(chan *dbus.Signal, 4)
	s.conn.Signal(sig)
	defer func() {
		s.conn.RemoveSignal(sig)
		close(sig)
	}()

	if err := call(); err != nil {
		return nil, wlerr.New(wlerr.KindIPCConnectionFailed, op, err)
	}

	timeout := time.NewTimer(30 * time.Second)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, wlerr.New(wlerr.KindTimeout, op, ctx.Err())
		case <-timeout.C:
			return nil, wlerr.New(wlerr.KindTimeout, op, fmt.Errorf("no response within 30s"))
		case v := <-sig:
			if v == nil || v.Path != path || v.Name != ifaceReq+".Response" || len(v.Body) < 2 {
				continue
			}
			code, ok := v.Body[0].(uint32)
			if !ok {
				continue
			}
			if code != 0 {
				if code == 1 {
					return nil, wlerr.New(wlerr.KindPermissionDenied, op, fmt.Errorf("portal response code %d", code))
				}
				return nil, wlerr.New(wlerr.KindInvalidState, op, fmt.Errorf("portal response code %d", code))
			}
			results, _ := v.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

func (s *Session) createSession(ctx context.Context, cfg Config) error {
	token, path := s.requestPath()
	sessionToken := "wlcast_session_" + strings.ReplaceAll(uuid.NewString(), "-", "_")

	results, err := s.awaitResponse(ctx, "create_session", path, func() error {
		obj := s.conn.Object(busName, busPath)
		options := map[string]dbus.Variant{
			"handle_token":         dbus.MakeVariant(token),
			"session_handle_token": dbus.MakeVariant(sessionToken),
		}
		return obj.Call(ifaceRD+".CreateSession", 0, options).Store(new(dbus.ObjectPath))
	})
	if err != nil {
		return err
	}

	handle, ok := results["session_handle"].Value().(string)
	if !ok || handle == "" {
		return wlerr.New(wlerr.KindInvalidState, "create_session", fmt.Errorf("missing session_handle in response"))
	}
	s.sessionPath = dbus.ObjectPath(handle)
	return nil
}

func (s *Session) selectDevices(ctx context.Context, cfg Config) error {
	token, path := s.requestPath()
	_, err := s.awaitResponse(ctx, "select_devices", path, func() error {
		obj := s.conn.Object(busName, busPath)
		options := map[string]dbus.Variant{
			"handle_token": dbus.MakeVariant(token),
			"types":        dbus.MakeVariant(uint32(cfg.Devices)),
			"persist_mode": dbus.MakeVariant(uint32(cfg.PersistMode)),
		}
		if cfg.RestoreToken != "" {
			options["restore_token"] = dbus.MakeVariant(cfg.RestoreToken)
		}
		return obj.Call(ifaceRD+".SelectDevices", 0, s.sessionPath, options).Store(new(dbus.ObjectPath))
	})
	return err
}

func (s *Session) selectSources(ctx context.Context, cfg Config) error {
	token, path := s.requestPath()
	_, err := s.awaitResponse(ctx, "select_sources", path, func() error {
		obj := s.conn.Object(busName, busPath)
		options := map[string]dbus.Variant{
			"handle_token":   dbus.MakeVariant(token),
			"types":          dbus.MakeVariant(uint32(cfg.Sources)),
			"cursor_mode":    dbus.MakeVariant(uint32(cfg.CursorMode)),
			"persist_mode":   dbus.MakeVariant(uint32(cfg.PersistMode)),
			"multiple":       dbus.MakeVariant(cfg.AllowMultiple),
		}
		if cfg.RestoreToken != "" {
			options["restore_token"] = dbus.MakeVariant(cfg.RestoreToken)
		}
		return obj.Call(ifaceSC+".SelectSources", 0, s.sessionPath, options).Store(new(dbus.ObjectPath))
	})
	return err
}

// requestClipboard must run before Start — the portal refuses
// Clipboard.RequestClipboard once the session is already active.
func (s *Session) requestClipboard(ctx context.Context, cfg Config) error {
	obj := s.conn.Object(busName, busPath)
	options := map[string]dbus.Variant{}
	call := obj.Call(ifaceCB+".RequestClipboard", 0, s.sessionPath, options)
	if call.Err != nil {
		return wlerr.New(wlerr.KindIPCConnectionFailed, "request_clipboard", call.Err)
	}
	return nil
}

func (s *Session) start(ctx context.Context, cfg Config) ([]capture.StreamInfo, error) {
	token, path := s.requestPath()
	results, err := s.awaitResponse(ctx, "start", path, func() error {
		obj := s.conn.Object(busName, busPath)
		options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}
		return obj.Call(ifaceRD+".Start", 0, s.sessionPath, "", options).Store(new(dbus.ObjectPath))
	})
	if err != nil {
		return nil, err
	}

	raw, ok := results["streams"]
	if !ok {
		return nil, wlerr.New(wlerr.KindNoStreamsAvailable, "start", fmt.Errorf("no streams key in response"))
	}

	streams := parseStreams(raw)
	if len(streams) == 0 {
		return nil, wlerr.New(wlerr.KindNoStreamsAvailable, "start", fmt.Errorf("empty stream list"))
	}
	writeNodeIDFile(streams[0].NodeID)
	return streams, nil
}

// parseStreams decodes the a(ua{sv}) streams array the portal
// returns: each entry is (node_id, properties-dict) with position and
// size each packed as an (ii) pair of int32 inside the properties under
// "position"/"size".
func parseStreams(v dbus.Variant) []capture.StreamInfo {
	entries, ok := v.Value().([][]interface{})
	if !ok {
		return nil
	}

	out := make([]capture.StreamInfo, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		nodeID, ok := entry[0].(uint32)
		if !ok {
			continue
		}
		props, _ := entry[1].(map[string]dbus.Variant)

		info := capture.StreamInfo{NodeID: nodeID, SourceType: capture.Monitor}
		if pos, ok := props["position"]; ok {
			if xy, ok := pos.Value().([]int32); ok && len(xy) == 2 {
				info.Position = [2]int32{xy[0], xy[1]}
			}
		}
		if size, ok := props["size"]; ok {
			if wh, ok := size.Value().([]int32); ok && len(wh) == 2 {
				info.Size = [2]uint32{uint32(wh[0]), uint32(wh[1])}
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *Session) openPipewireRemote(ctx context.Context) error {
	obj := s.conn.Object(busName, busPath)
	options := map[string]dbus.Variant{}

	var fd dbus.UnixFD
	call := obj.Call(ifaceSC+".OpenPipeWireRemote", 0, s.sessionPath, options)
	if call.Err != nil {
		return wlerr.New(wlerr.KindPipeWireFailed, "open_pipewire_remote", call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return wlerr.New(wlerr.KindPipeWireFailed, "open_pipewire_remote", err)
	}

	// D-Bus may close its copy of the fd once the message is
	// processed; dup it so the capture thread owns a fd that outlives
	// that.
	dup, err := unix.Dup(int(fd))
	if err != nil {
		return wlerr.New(wlerr.KindPipeWireFailed, "open_pipewire_remote", err)
	}
	s.pipewireFD = dup
	return nil
}

// PipewireFD returns the transport file descriptor. Ownership remains
// with the Session; callers must not close it — Close does that.
func (s *Session) PipewireFD() int { return s.pipewireFD }

// Streams returns the stream descriptors granted at Start.
func (s *Session) Streams() []capture.StreamInfo { return s.streams }

// ClipboardActive reports whether a clipboard access grant was
// obtained alongside this session.
func (s *Session) ClipboardActive() bool { return s.clipboardActive }

// Close releases the transport FD and the portal-side session handle.
// Safe to call more than once; only the first call has effect.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.pipewireFD >= 0 {
			if err := unix.Close(s.pipewireFD); err != nil {
				closeErr = err
			}
			s.pipewireFD = -1
		}
		if s.sessionPath != "" {
			obj := s.conn.Object(busName, s.sessionPath)
			_ = obj.Call("org.freedesktop.portal.Session.Close", 0).Err
		}
		if s.conn != nil {
			s.conn.Close()
		}
		s.log.Info().Msg("portal session closed")
	})
	return closeErr
}

// writeNodeIDFile mirrors the teacher's compatibility file for external
// tooling that polls for the active capture node.
func writeNodeIDFile(nodeID uint32) {
	_ = os.WriteFile("/tmp/wlcast-node-id", []byte(fmt.Sprintf("%d", nodeID)), 0o644)
}
