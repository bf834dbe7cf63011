package config

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mickeygo/edgepipe/message"
)

const (
	FramingRaw      = "raw"
	FramingFixed    = "fixed"
	FramingSentinel = "sentinel"
	FramingCustom   = "custom"
)

// Framing is the [pipes.<name>.framing] table.
//
// Responses are correlated with their request when match_length is set: bytes
// [match_offset, match_offset+match_length) of the response must equal the same
// bytes of the request, otherwise the frame is skipped as stray.
type Framing struct {
	Mode string `toml:"mode"`

	// fixed
	HeaderLength int    `toml:"header_length"`
	LengthOffset int    `toml:"length_offset"`
	LengthWidth  int    `toml:"length_width"`
	ByteOrder    string `toml:"byte_order"`
	Adjust       int    `toml:"adjust"`
	Sync         Hex    `toml:"sync"`

	// sentinel
	Sentinels Hex `toml:"sentinels"`
	Suffix    int `toml:"suffix"`

	// custom: frame ends once it holds Length bytes
	Length int `toml:"length"`

	MatchOffset int `toml:"match_offset"`
	MatchLength int `toml:"match_length"`

	factory message.Factory
}

func (f *Framing) validate() error {
	f.Mode = strings.ToLower(strings.TrimSpace(f.Mode))
	if f.Mode == "" {
		f.Mode = FramingRaw
	}

	if f.MatchOffset < 0 || f.MatchLength < 0 {
		return fmt.Errorf("framing: match_offset and match_length must not be negative")
	}
	match := f.matchFunc()

	switch f.Mode {
	case FramingRaw:
		f.factory = func() message.Descriptor { return nil }

	case FramingFixed:
		var order binary.ByteOrder = binary.BigEndian
		switch strings.ToLower(strings.TrimSpace(f.ByteOrder)) {
		case "", "big":
		case "little":
			order = binary.LittleEndian
		default:
			return fmt.Errorf("framing: invalid byte_order %q", f.ByteOrder)
		}

		layout := &message.FixedLayout{
			HeaderLength: f.HeaderLength,
			LengthOffset: f.LengthOffset,
			LengthWidth:  f.LengthWidth,
			Order:        order,
			Adjust:       f.Adjust,
			Sync:         f.Sync,
			Match:        match,
		}
		factory, err := layout.Factory()
		if err != nil {
			return fmt.Errorf("framing: %w", err)
		}
		f.factory = factory

	case FramingSentinel:
		layout := &message.SentinelLayout{Sentinels: f.Sentinels, Suffix: f.Suffix, Match: match}
		factory, err := layout.Factory()
		if err != nil {
			return fmt.Errorf("framing: %w", err)
		}
		f.factory = factory

	case FramingCustom:
		if f.Length < 0 {
			return fmt.Errorf("framing: length must not be negative, got %d", f.Length)
		}

		layout := &message.CustomLayout{Match: match}
		if n := f.Length; n > 0 {
			layout.Complete = func(_, acc []byte) bool { return len(acc) >= n }
		}
		f.factory = layout.Factory()

	default:
		return fmt.Errorf("framing: invalid mode %q", f.Mode)
	}

	return nil
}

func (f *Framing) matchFunc() message.MatchFunc {
	if f.MatchLength == 0 {
		return nil
	}

	lo, hi := f.MatchOffset, f.MatchOffset+f.MatchLength

	return func(sent, received []byte) message.MatchResult {
		if len(sent) < hi || len(received) < hi {
			return message.MatchKeepWaiting
		}
		if bytes.Equal(sent[lo:hi], received[lo:hi]) {
			return message.Matched
		}

		return message.MatchKeepWaiting
	}
}

// Descriptor returns the descriptor factory of the profile. A raw profile yields
// nil descriptors, which pipe.Transact treats as one read per response.
func (p *Profile) Descriptor() message.Factory { return p.Framing.factory }
