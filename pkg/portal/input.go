package portal

import (
	"github.com/godbus/dbus/v5"

	"github.com/lamco-desktop/wlcast/pkg/wlerr"
)

// PointerButton mirrors the Linux evdev button codes NotifyPointerButton
// expects (BTN_LEFT=0x110, BTN_RIGHT=0x111, BTN_MIDDLE=0x112).
type PointerButton uint32

const (
	ButtonLeft   PointerButton = 0x110
	ButtonRight  PointerButton = 0x111
	ButtonMiddle PointerButton = 0x112
)

func (s *Session) remoteDesktopCall(method string, args ...interface{}) error {
	obj := s.conn.Object(busName, busPath)
	call := append([]interface{}{s.sessionPath}, args...)
	if err := obj.Call(ifaceRD+"."+method, 0, call...).Err; err != nil {
		return wlerr.New(wlerr.KindIPCConnectionFailed, method, err)
	}
	return nil
}

// PointerMotion injects a relative pointer move of (dx, dy).
func (s *Session) PointerMotion(dx, dy float64) error {
	return s.remoteDesktopCall("NotifyPointerMotion", map[string]dbus.Variant{}, dx, dy)
}

// PointerMotionAbsolute injects an absolute pointer move to (x, y)
// within the given stream's coordinate space.
func (s *Session) PointerMotionAbsolute(streamNodeID uint32, x, y float64) error {
	return s.remoteDesktopCall("NotifyPointerMotionAbsolute", map[string]dbus.Variant{}, streamNodeID, x, y)
}

// PointerButtonEvent injects a pointer button press (pressed=true) or
// release.
func (s *Session) PointerButtonEvent(button PointerButton, pressed bool) error {
	state := uint32(0)
	if pressed {
		state = 1
	}
	return s.remoteDesktopCall("NotifyPointerButton", map[string]dbus.Variant{}, int32(button), state)
}

// PointerAxis injects a scroll delta. finish marks the end of a
// logical scroll gesture (e.g. the final event of a touchpad swipe).
func (s *Session) PointerAxis(dx, dy float64, finish bool) error {
	options := map[string]dbus.Variant{}
	if finish {
		options["finish"] = dbus.MakeVariant(true)
	}
	return s.remoteDesktopCall("NotifyPointerAxis", options, dx, dy)
}

// KeyboardKeycode injects a keyboard event by evdev keycode.
func (s *Session) KeyboardKeycode(keycode int32, pressed bool) error {
	state := uint32(0)
	if pressed {
		state = 1
	}
	return s.remoteDesktopCall("NotifyKeyboardKeycode", map[string]dbus.Variant{}, keycode, state)
}
