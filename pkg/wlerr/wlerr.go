// Package wlerr defines the flat error taxonomy shared across the
// capture-and-transport engine: transport, authorization, lifecycle,
// resource, runtime and clipboard failures all carry one of these kinds.
package wlerr

import "fmt"

// Kind identifies the category of a failure so callers can branch on it
// with errors.Is without parsing strings.
type Kind int

const (
	KindUnknown Kind = iota

	// Transport
	KindIPCConnectionFailed
	KindTimeout
	KindPortalNotAvailable
	KindPipeWireFailed

	// Authorization
	KindPermissionDenied
	KindNoStreamsAvailable

	// Lifecycle
	KindInvalidState
	KindAlreadyConnected
	KindNotConnected

	// Resource
	KindTooManyStreams
	KindStreamNotFound
	KindStreamCreationFailed
	KindInvalidParameter
	KindBufferTooSmall

	// Runtime
	KindThreadCommunicationFailed
	KindIoError
	KindInvalidUtf8
	KindUnsupportedFormat

	// Clipboard
	KindClipboardBackend
	KindClipboardInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindIPCConnectionFailed:
		return "ipc_connection_failed"
	case KindTimeout:
		return "timeout"
	case KindPortalNotAvailable:
		return "portal_not_available"
	case KindPipeWireFailed:
		return "pipewire_failed"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNoStreamsAvailable:
		return "no_streams_available"
	case KindInvalidState:
		return "invalid_state"
	case KindAlreadyConnected:
		return "already_connected"
	case KindNotConnected:
		return "not_connected"
	case KindTooManyStreams:
		return "too_many_streams"
	case KindStreamNotFound:
		return "stream_not_found"
	case KindStreamCreationFailed:
		return "stream_creation_failed"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindBufferTooSmall:
		return "buffer_too_small"
	case KindThreadCommunicationFailed:
		return "thread_communication_failed"
	case KindIoError:
		return "io_error"
	case KindInvalidUtf8:
		return "invalid_utf8"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindClipboardBackend:
		return "clipboard_backend"
	case KindClipboardInvalidState:
		return "clipboard_invalid_state"
	default:
		return "unknown"
	}
}

// Error is the typed error every public operation in this module
// returns on failure. Op names the failing operation ("connect",
// "create_stream", "write_file", ...); Err, when present, is the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, wlerr.New(KindTimeout, "", nil)) match on Kind
// alone, without requiring equal Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel returns a bare *Error of the given kind, suitable for
// errors.Is comparisons: errors.Is(err, wlerr.Sentinel(wlerr.KindTimeout)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// TooManyStreams builds the resource-exhaustion error, carrying the
// configured limit that was hit.
func TooManyStreams(limit int) *Error {
	return &Error{Kind: KindTooManyStreams, Op: "create_stream", Err: fmt.Errorf("limit=%d", limit)}
}

// StreamNotFound builds the lookup-miss error, carrying the stream id.
func StreamNotFound(id uint32) *Error {
	return &Error{Kind: KindStreamNotFound, Op: "remove_stream", Err: fmt.Errorf("id=%d", id)}
}
