// Package wlrinput injects pointer and keyboard events directly
// through the wlroots-native zwlr_virtual_pointer_v1 /
// zwp_virtual_keyboard_v1 Wayland protocols, as a fallback input path
// for compositors where the portal's RemoteDesktop interface is
// unavailable or declined.
package wlrinput

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/wayland-virtual-input-go/virtual_keyboard"
	"github.com/bnema/wayland-virtual-input-go/virtual_pointer"
	"github.com/rs/zerolog"
)

// Injector owns one virtual pointer and one virtual keyboard device
// on the compositor, tracking enough state locally to turn absolute
// pointer moves into the relative moves the protocol actually
// supports.
type Injector struct {
	log zerolog.Logger

	pointerManager  *virtual_pointer.VirtualPointerManager
	pointer         *virtual_pointer.VirtualPointer
	keyboardManager *virtual_keyboard.VirtualKeyboardManager
	keyboard        *virtual_keyboard.VirtualKeyboard

	mu     sync.Mutex
	closed bool

	streamWidth, streamHeight int
	curX, curY                float64
	positioned                bool
}

// New connects to the Wayland compositor and acquires a virtual
// pointer and virtual keyboard device. streamWidth/streamHeight give
// the coordinate space absolute moves are expressed in (the captured
// stream's size). Acquisition is rolled back step by step on any
// failure so no device is left dangling.
func New(ctx context.Context, streamWidth, streamHeight int, log zerolog.Logger) (*Injector, error) {
	log = log.With().Str("component", "wlrinput").Logger()

	pointerManager, err := virtual_pointer.NewVirtualPointerManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("create virtual pointer manager: %w", err)
	}

	pointer, err := pointerManager.CreatePointer()
	if err != nil {
		pointerManager.Close()
		return nil, fmt.Errorf("create virtual pointer: %w", err)
	}

	keyboardManager, err := virtual_keyboard.NewVirtualKeyboardManager(ctx)
	if err != nil {
		pointer.Close()
		pointerManager.Close()
		return nil, fmt.Errorf("create virtual keyboard manager: %w", err)
	}

	keyboard, err := keyboardManager.CreateKeyboard()
	if err != nil {
		keyboardManager.Close()
		pointer.Close()
		pointerManager.Close()
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}

	log.Info().Int("stream_width", streamWidth).Int("stream_height", streamHeight).Msg("wlroots virtual input acquired")

	return &Injector{
		log:             log,
		pointerManager:  pointerManager,
		pointer:         pointer,
		keyboardManager: keyboardManager,
		keyboard:        keyboard,
		streamWidth:     streamWidth,
		streamHeight:    streamHeight,
		curX:            float64(streamWidth) / 2,
		curY:            float64(streamHeight) / 2,
	}, nil
}

// Close releases the keyboard and pointer devices in reverse
// acquisition order. Safe to call more than once.
func (in *Injector) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(in.keyboard.Close())
	record(in.keyboardManager.Close())
	record(in.pointer.Close())
	record(in.pointerManager.Close())

	in.log.Info().Msg("wlroots virtual input released")
	return firstErr
}

// PointerMotion moves the pointer by a relative (dx, dy), the native
// operation the virtual-pointer protocol supports.
func (in *Injector) PointerMotion(dx, dy float64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}

	in.curX = clamp(in.curX+dx, 0, float64(in.streamWidth-1))
	in.curY = clamp(in.curY+dy, 0, float64(in.streamHeight-1))
	in.positioned = true
	in.pointer.MoveRelative(dx, dy)
	return nil
}

// PointerMotionAbsolute moves the pointer to (x, y) in stream
// coordinates by computing and issuing the equivalent relative delta
// from the last tracked position — zwlr_virtual_pointer_v1 has no
// absolute-move request.
func (in *Injector) PointerMotionAbsolute(x, y float64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}

	fromX, fromY := in.curX, in.curY
	if !in.positioned {
		fromX, fromY = float64(in.streamWidth)/2, float64(in.streamHeight)/2
		in.positioned = true
	}

	dx, dy := x-fromX, y-fromY
	in.curX, in.curY = x, y
	if dx != 0 || dy != 0 {
		in.pointer.MoveRelative(dx, dy)
	}
	return nil
}

// PointerButtonEvent presses or releases an evdev button code
// (BTN_LEFT=0x110, BTN_RIGHT=0x111, BTN_MIDDLE=0x112).
func (in *Injector) PointerButtonEvent(evdevButton uint32, pressed bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}

	state := virtual_pointer.BUTTON_STATE_RELEASED
	if pressed {
		state = virtual_pointer.BUTTON_STATE_PRESSED
	}
	in.pointer.Button(time.Now(), evdevButton, state)
	in.pointer.Frame()
	return nil
}

// PointerAxis sends a scroll delta. finish marks the end of a
// logical scroll gesture and is forwarded as a frame boundary.
func (in *Injector) PointerAxis(dx, dy float64, finish bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}

	if dy != 0 {
		in.pointer.ScrollVertical(dy)
	}
	if dx != 0 {
		in.pointer.ScrollHorizontal(dx)
	}
	if finish || dx != 0 || dy != 0 {
		in.pointer.Frame()
	}
	return nil
}

// KeyboardKeycode presses or releases an evdev keycode.
func (in *Injector) KeyboardKeycode(evdevCode uint32, pressed bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}

	state := virtual_keyboard.KeyStateReleased
	if pressed {
		state = virtual_keyboard.KeyStatePressed
	}
	return in.keyboard.Key(time.Now(), evdevCode, state)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
