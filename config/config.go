// Package config loads pipe profiles from TOML files.
//
// A file declares named profiles under [pipes.<name>]; each profile selects a
// transport kind, carries the transport and pipe settings, and describes its
// framing in [pipes.<name>.framing]:
//
//	socket_pool = 2
//
//	[pipes.press]
//	kind = "tcp"
//	host = "10.0.0.5"
//	ports = [102, 1102]
//	receive_timeout = "2s"
//
//	[pipes.press.framing]
//	mode = "fixed"
//	header_length = 4
//	length_offset = 2
//	length_width = 2
//	adjust = -4
//	sync = "03 00"
//
// Keys that are absent keep the package defaults of pipe and the transport.
package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mickeygo/edgepipe/internal/util"
	"github.com/mickeygo/edgepipe/pipe"
)

const (
	KindTCP    = "tcp"
	KindUDP    = "udp"
	KindSerial = "serial"
	KindTLS    = "tls"
)

var (
	ErrNoProfiles     = errors.New("config: no pipe profiles defined")
	ErrUnknownProfile = errors.New("config: unknown profile")
	ErrInvalidKind    = errors.New("config: invalid transport kind")
)

// Duration is a time.Duration written as a string such as "1.5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)

	return nil
}

func (d Duration) std() time.Duration { return time.Duration(d) }

// Hex is a byte string written as hex, e.g. "03 00" or "0d0a".
type Hex []byte

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hex) UnmarshalText(text []byte) error {
	b, err := util.ParseHex(string(text))
	if err != nil {
		return err
	}
	*h = b

	return nil
}

// File is a decoded profile file.
type File struct {
	// SocketPool is the per-endpoint capacity of the process-wide socket pool
	// shared by every pipe built from this file. Zero disables the pool.
	SocketPool int                 `toml:"socket_pool"`
	Pipes      map[string]*Profile `toml:"pipes"`

	pool *pipe.EndpointPool
}

// Load reads the profile file at path.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	return f.init(meta)
}

// Decode reads a profile file from r.
func Decode(r io.Reader) (*File, error) {
	var f File
	meta, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return f.init(meta)
}

func (f *File) init(meta toml.MetaData) (*File, error) {
	if len(f.Pipes) == 0 {
		return nil, ErrNoProfiles
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}

	if f.SocketPool < 0 {
		return nil, fmt.Errorf("config: socket_pool must not be negative, got %d", f.SocketPool)
	}
	if f.SocketPool > 0 {
		pool, err := pipe.NewEndpointPool(f.SocketPool)
		if err != nil {
			return nil, err
		}
		f.pool = pool
	}

	for name, p := range f.Pipes {
		p.name = name
		p.meta = meta
		p.pool = f.pool

		if err := p.validate(); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Names returns the profile names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Pipes))
	for name := range f.Pipes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Profile returns the named profile.
func (f *File) Profile(name string) (*Profile, error) {
	p, ok := f.Pipes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}

	return p, nil
}

// SocketPoolOf returns the shared socket pool, or nil when disabled.
func (f *File) SocketPoolOf() *pipe.EndpointPool { return f.pool }
