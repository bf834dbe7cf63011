package serialpipe

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goburrow/serial"

	"github.com/mickeygo/edgepipe/logger"
)

const (
	DefaultBaudRate     = 9600
	DefaultDataBits     = 8
	DefaultStopBits     = 1
	DefaultParity       = "N"
	DefaultPollInterval = 20 * time.Millisecond
	DefaultMinLength    = 1
	DefaultEmptyReads   = 1
)

const (
	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MaxByteInterval = 100 * time.Millisecond
	MaxEmptyReads   = 1000
)

// PortOpener opens the serial device described by cfg.
type PortOpener func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openPort(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// Config holds the serial transport settings.
type Config struct {
	address  string
	baudRate int
	dataBits int
	stopBits int
	parity   string

	// pollInterval is the wait of one poll for available bytes.
	pollInterval time.Duration
	// minLength is the number of bytes below which silence never ends a frame.
	minLength int
	// emptyReads is the number of empty polls past minLength that end a frame.
	emptyReads int

	flushBeforeSend bool
	rts             bool
	byteInterval    time.Duration

	opener PortOpener
	logger logger.Logger
}

// NewConfig creates a serial transport configuration for the device at address,
// e.g. "/dev/ttyUSB0" or "COM3".
func NewConfig(address string, opts ...Option) (*Config, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("serialpipe: address must not be empty")
	}

	cfg := &Config{
		address:      address,
		baudRate:     DefaultBaudRate,
		dataBits:     DefaultDataBits,
		stopBits:     DefaultStopBits,
		parity:       DefaultParity,
		pollInterval: DefaultPollInterval,
		minLength:    DefaultMinLength,
		emptyReads:   DefaultEmptyReads,
		opener:       openPort,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Address returns the device address.
func (cfg *Config) Address() string { return cfg.address }

// PollInterval returns the wait of one poll.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// MinLength returns the byte threshold of the silence rule.
func (cfg *Config) MinLength() int { return cfg.minLength }

// EmptyReads returns the number of empty polls that end a frame.
func (cfg *Config) EmptyReads() int { return cfg.emptyReads }

// SerialConfig returns the port settings passed to the opener.
func (cfg *Config) SerialConfig() *serial.Config {
	return &serial.Config{
		Address:  cfg.address,
		BaudRate: cfg.baudRate,
		DataBits: cfg.dataBits,
		StopBits: cfg.stopBits,
		Parity:   cfg.parity,
		Timeout:  cfg.pollInterval,
		RS485: serial.RS485Config{
			Enabled:           cfg.rts,
			RtsHighDuringSend: cfg.rts,
		},
	}
}

// Option configures a serial transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("serialpipe: invalid baud rate %d", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithDataBits sets the number of data bits, 5 to 8.
func WithDataBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("serialpipe: data bits %d out of range [5, 8]", bits)
		}
		cfg.dataBits = bits

		return nil
	})
}

// WithStopBits sets the number of stop bits, 1 or 2.
func WithStopBits(bits int) Option {
	return optFunc(func(cfg *Config) error {
		if bits != 1 && bits != 2 {
			return fmt.Errorf("serialpipe: stop bits must be 1 or 2, got %d", bits)
		}
		cfg.stopBits = bits

		return nil
	})
}

// WithParity sets the parity: "N" (none), "E" (even) or "O" (odd).
func WithParity(parity string) Option {
	return optFunc(func(cfg *Config) error {
		p := strings.ToUpper(strings.TrimSpace(parity))
		switch p {
		case "N", "E", "O":
		case "NONE":
			p = "N"
		case "EVEN":
			p = "E"
		case "ODD":
			p = "O"
		default:
			return fmt.Errorf("serialpipe: invalid parity %q", parity)
		}
		cfg.parity = p

		return nil
	})
}

// WithPollInterval sets the wait of one poll for available bytes. It throttles the
// receive loop and is the unit of the silence rule.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("serialpipe: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithMinLength sets the number of bytes a frame must have before silence can end
// it.
func WithMinLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return errors.New("serialpipe: minimum length must not be negative")
		}
		cfg.minLength = n

		return nil
	})
}

// WithEmptyReads sets how many empty polls past the minimum length end a frame.
func WithEmptyReads(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxEmptyReads {
			return fmt.Errorf("serialpipe: empty reads %d out of range [1, %d]", n, MaxEmptyReads)
		}
		cfg.emptyReads = n

		return nil
	})
}

// WithFlushBeforeSend discards stale input before every send.
func WithFlushBeforeSend(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.flushBeforeSend = enabled
		return nil
	})
}

// WithRTS drives RTS high while sending, for RS485 adapters without automatic
// direction control.
func WithRTS(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.rts = enabled
		return nil
	})
}

// WithByteInterval inserts a delay between the bytes of a send, for devices that
// cannot keep up with back-to-back characters.
func WithByteInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxByteInterval {
			return fmt.Errorf("serialpipe: byte interval %v out of range [0, %v]", d, MaxByteInterval)
		}
		cfg.byteInterval = d

		return nil
	})
}

// WithPortOpener replaces the function that opens the device.
func WithPortOpener(opener PortOpener) Option {
	return optFunc(func(cfg *Config) error {
		if opener == nil {
			return errors.New("serialpipe: port opener must not be nil")
		}
		cfg.opener = opener

		return nil
	})
}

// WithLogger sets the logger of the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("serialpipe: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
