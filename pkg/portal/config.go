// Package portal negotiates screen-capture, remote-desktop, and
// clipboard permission through the freedesktop Portal over the
// user-session D-Bus bus, yielding a pixel-transport file descriptor
// and stream descriptors, and routes input injection back through the
// same retained session.
package portal

import "time"

// CursorMode selects how the compositor renders the pointer into
// captured frames.
type CursorMode uint32

const (
	CursorHidden   CursorMode = 1
	CursorEmbedded CursorMode = 2
	CursorMetadata CursorMode = 4
)

// PersistMode controls whether the portal remembers this grant across
// sessions.
type PersistMode uint32

const (
	PersistDoNot            PersistMode = 0
	PersistApplication      PersistMode = 1
	PersistExplicitlyRevoked PersistMode = 2
)

// SourceMask is a bitmask of screen-source types, OR'd together.
type SourceMask uint32

const (
	SourceMonitor SourceMask = 1
	SourceWindow  SourceMask = 2
	SourceVirtual SourceMask = 4
)

// DeviceMask is a bitmask of remote-desktop input device types.
type DeviceMask uint32

const (
	DeviceKeyboard DeviceMask = 1 << 0
	DevicePointer  DeviceMask = 1 << 1
	DeviceTouch    DeviceMask = 1 << 2
)

// Config holds the negotiation parameters for one portal session.
type Config struct {
	Devices       DeviceMask
	Sources       SourceMask
	CursorMode    CursorMode
	PersistMode   PersistMode
	AllowMultiple bool
	RestoreToken  string
	WantClipboard bool
	RequestTimeout time.Duration
}

// DefaultConfig selects keyboard+pointer input, a single monitor
// source, a hidden cursor (neither drawn into frames nor reported as
// metadata), and no persistence.
func DefaultConfig() Config {
	return Config{
		Devices:        DeviceKeyboard | DevicePointer,
		Sources:        SourceMonitor,
		CursorMode:     CursorHidden,
		PersistMode:    PersistDoNot,
		AllowMultiple:  false,
		WantClipboard:  false,
		RequestTimeout: 30 * time.Second,
	}
}
