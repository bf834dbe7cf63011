package pipe

import (
	"errors"
	"fmt"
	"time"

	"github.com/mickeygo/edgepipe/logger"
)

const (
	DefaultReceiveTimeout = 5 * time.Second
	DefaultChunkSize      = 2048
	DefaultMaxFrameSize   = 64 << 10
)

const (
	MinChunkSize = 16
	MaxChunkSize = 1 << 20

	MaxSettleDelay = 10 * time.Second

	MinMaxFrameSize = 16
	MaxMaxFrameSize = 1 << 30
)

// PushHandler receives active-push frames that are not responses. Frames passed to
// it are owned by the handler.
type PushHandler func(frame []byte)

// Config holds the behaviour of a Pipe.
type Config struct {
	name string

	// receiveTimeout bounds one exchange. Negative means no response is expected,
	// zero waits forever.
	receiveTimeout time.Duration
	settleDelay    time.Duration
	persistent     bool
	strictMatch    bool
	flushBeforeTx  bool
	chunkSize      int
	maxFrameSize   int

	pushHandler PushHandler
	socketPool  *EndpointPool

	logger logger.Logger
}

func newConfig(name string, opts ...Option) (*Config, error) {
	cfg := &Config{
		name:           name,
		receiveTimeout: DefaultReceiveTimeout,
		persistent:     true,
		chunkSize:      DefaultChunkSize,
		maxFrameSize:   DefaultMaxFrameSize,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Name returns the pipe name used in logs and metrics.
func (cfg *Config) Name() string { return cfg.name }

// ReceiveTimeout returns the per-exchange receive timeout.
func (cfg *Config) ReceiveTimeout() time.Duration { return cfg.receiveTimeout }

// SettleDelay returns the delay between send and the first receive.
func (cfg *Config) SettleDelay() time.Duration { return cfg.settleDelay }

// Persistent reports whether the channel stays open between exchanges.
func (cfg *Config) Persistent() bool { return cfg.persistent }

// StrictMatch reports whether keep-waiting matches are treated as fatal.
func (cfg *Config) StrictMatch() bool { return cfg.strictMatch }

// FlushBeforeSend reports whether stale input is discarded before each exchange.
func (cfg *Config) FlushBeforeSend() bool { return cfg.flushBeforeTx }

// ChunkSize returns the size of a single transport read.
func (cfg *Config) ChunkSize() int { return cfg.chunkSize }

// MaxFrameSize returns the largest frame the engine assembles.
func (cfg *Config) MaxFrameSize() int { return cfg.maxFrameSize }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures a Pipe.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithName sets the name used in logs and metrics. Defaults to the transport's
// String().
func WithName(name string) Option {
	return optFunc(func(cfg *Config) error {
		if name == "" {
			return errors.New("pipe: name must not be empty")
		}
		cfg.name = name

		return nil
	})
}

// WithReceiveTimeout sets the receive timeout of one exchange.
// A negative timeout means the device never answers; zero waits forever.
func WithReceiveTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.receiveTimeout = d
		return nil
	})
}

// WithSettleDelay sets a pause between send and the first receive, for devices that
// need time before their answer is readable.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("pipe: settle delay %v out of range [0, %v]", d, MaxSettleDelay)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithPersistent selects a long-lived channel (true, the default) or one opened
// and closed around every exchange (false).
func WithPersistent(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.persistent = enabled
		return nil
	})
}

// WithStrictMatch makes a keep-waiting match result fatal. Useful on
// connection-oriented transports where a stray frame indicates a protocol error.
// Disabled by default.
func WithStrictMatch(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.strictMatch = enabled
		return nil
	})
}

// WithFlushBeforeSend discards stale input before every exchange on transports
// that implement Flusher.
func WithFlushBeforeSend(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.flushBeforeTx = enabled
		return nil
	})
}

// WithChunkSize sets the maximum size of a single transport read.
func WithChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("pipe: chunk size %d out of range [%d, %d]", n, MinChunkSize, MaxChunkSize)
		}
		cfg.chunkSize = n

		return nil
	})
}

// WithMaxFrameSize bounds the size of one frame. A fixed header announcing more
// content, or a sentinel or custom frame growing past it, fails with ErrFraming
// before the bytes are buffered.
func WithMaxFrameSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinMaxFrameSize || n > MaxMaxFrameSize {
			return fmt.Errorf("pipe: max frame size %d out of range [%d, %d]", n, MinMaxFrameSize, MaxMaxFrameSize)
		}
		cfg.maxFrameSize = n

		return nil
	})
}

// WithPushHandler sets the receiver of active-push frames rejected by the response
// filter. Without a handler such frames are dropped.
func WithPushHandler(h PushHandler) Option {
	return optFunc(func(cfg *Config) error {
		cfg.pushHandler = h
		return nil
	})
}

// WithSocketPool makes every exchange hold a slot of pool, keyed by the transport
// endpoint.
func WithSocketPool(pool *EndpointPool) Option {
	return optFunc(func(cfg *Config) error {
		if pool == nil {
			return errors.New("pipe: socket pool must not be nil")
		}
		cfg.socketPool = pool

		return nil
	})
}

// WithLogger sets the logger of the pipe.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("pipe: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
