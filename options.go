package blockalloc

import (
	"fmt"
	"math/bits"
)

const (
	// HeaderSize is the number of bytes at the start of every run that
	// hold its status and block count.
	HeaderSize = 8

	// DefaultBlockSize holds one header plus two 32-bit link fields.
	DefaultBlockSize = 16

	MinBlockSize = 16
	MaxBlockSize = 4096
)

// BytesToBlocks returns how many blocks a run needs to carry n payload
// bytes behind its header. The result is at least 1.
func BytesToBlocks(n, blockSize int) int {
	return (n + HeaderSize + blockSize - 1) / blockSize
}

// Options holds allocator construction settings.
type Options struct {
	BlockSize int
	Logger    *Logger
	Metrics   MetricsCollector
	Mmap      bool
}

// Option configures an allocator at construction time.
type Option func(*Options)

// WithBlockSize sets the block size in bytes.
// It must be a power of two between MinBlockSize and MaxBlockSize.
func WithBlockSize(size int) Option {
	return func(o *Options) {
		o.BlockSize = size
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *Logger) Option {
	return func(o *Options) {
		if l == nil {
			l = NoopLogger()
		}
		o.Logger = l
	}
}

// WithMetrics sets the metrics collector. A nil collector disables metrics.
func WithMetrics(m MetricsCollector) Option {
	return func(o *Options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.Metrics = m
	}
}

// WithMmap backs the arena with an anonymous private mapping instead of
// the Go heap. It is ignored on platforms without mmap.
func WithMmap(enabled bool) Option {
	return func(o *Options) {
		o.Mmap = enabled
	}
}

// NewOptions applies opts over the defaults and validates the result.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		BlockSize: DefaultBlockSize,
		Logger:    NoopLogger(),
		Metrics:   NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o, o.Validate()
}

// Validate reports whether the options describe a usable arena.
func (o Options) Validate() error {
	size := o.BlockSize
	if size < MinBlockSize || size > MaxBlockSize || bits.OnesCount(uint(size)) != 1 {
		return fmt.Errorf("%d is %w", size, ErrInvalidBlockSize)
	}
	return nil
}
