package capture

import (
	"fmt"

	"github.com/lamco-desktop/wlcast/pkg/format"
)

// Config holds the capture manager's tunables. Construct with New and
// functional options, or zero-value plus Validate if you build one by
// hand.
type Config struct {
	BufferCount          uint32
	PreferredFormat      format.PixelFormat
	UseDMABuf            bool
	MaxStreams           int
	FrameBufferSize      int
	EnableCursor         bool
	EnableDamageTracking bool
	StreamNamePrefix     string
	ConnectionTimeoutMs  uint64
	AutoReconnect        bool
	MaxReconnectAttempts uint32
}

// Option configures a Config at construction.
type Option func(*Config)

func WithBufferCount(n uint32) Option        { return func(c *Config) { c.BufferCount = n } }
func WithPreferredFormat(f format.PixelFormat) Option {
	return func(c *Config) { c.PreferredFormat = f }
}
func WithUseDMABuf(enable bool) Option        { return func(c *Config) { c.UseDMABuf = enable } }
func WithMaxStreams(n int) Option             { return func(c *Config) { c.MaxStreams = n } }
func WithFrameBufferSize(n int) Option        { return func(c *Config) { c.FrameBufferSize = n } }
func WithEnableCursor(enable bool) Option     { return func(c *Config) { c.EnableCursor = enable } }
func WithEnableDamageTracking(enable bool) Option {
	return func(c *Config) { c.EnableDamageTracking = enable }
}
func WithStreamNamePrefix(prefix string) Option {
	return func(c *Config) { c.StreamNamePrefix = prefix }
}
func WithConnectionTimeoutMs(ms uint64) Option { return func(c *Config) { c.ConnectionTimeoutMs = ms } }
func WithAutoReconnect(enable bool) Option     { return func(c *Config) { c.AutoReconnect = enable } }
func WithMaxReconnectAttempts(n uint32) Option {
	return func(c *Config) { c.MaxReconnectAttempts = n }
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{
		BufferCount:          3,
		PreferredFormat:      format.BGRA,
		UseDMABuf:            true,
		MaxStreams:           8,
		FrameBufferSize:      30,
		EnableCursor:         false,
		EnableDamageTracking: false,
		StreamNamePrefix:     "lamco-pw",
		ConnectionTimeoutMs:  5000,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
	}
}

// New builds a Config from the spec defaults plus opts.
func New(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate reports every problem with the configuration; nil means
// the config is usable.
func (c Config) Validate() []string {
	var issues []string

	if c.BufferCount == 0 {
		issues = append(issues, "buffer_count must be at least 1")
	}
	if c.BufferCount > 16 {
		issues = append(issues, "buffer_count should not exceed 16")
	}
	if c.MaxStreams == 0 {
		issues = append(issues, "max_streams must be at least 1")
	}
	if c.FrameBufferSize == 0 {
		issues = append(issues, "frame_buffer_size must be at least 1")
	}
	if c.FrameBufferSize < 15 || c.FrameBufferSize > 144 {
		issues = append(issues, fmt.Sprintf("frame_buffer_size %d outside recommended 15..144 range", c.FrameBufferSize))
	}
	if c.ConnectionTimeoutMs < 100 {
		issues = append(issues, "connection_timeout_ms should be at least 100ms")
	}
	if c.StreamNamePrefix == "" {
		issues = append(issues, "stream_name_prefix cannot be empty")
	}

	return issues
}
