package pipe

import (
	"fmt"
	"time"

	"github.com/mickeygo/edgepipe/internal/util"
	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/message"
)

// MaxNoiseSkips is the number of header re-reads the engine performs while a
// descriptor reports leading noise. After that it proceeds with the last header.
const MaxNoiseSkips = 10

// framer assembles frames from a stream according to a descriptor.
//
// framer is NOT goroutine-safe. At any time only one goroutine owns the receive
// path: Transact under the exchange lock, or the active-push listener.
type framer struct {
	s      *stream
	fr     FrameReader // nil unless the transport discovers frame ends itself
	logger logger.Logger

	maxFrame int
}

func newFramer(tr Transport, chunkSize int, l logger.Logger) *framer {
	f := &framer{s: newStream(tr, chunkSize), logger: l, maxFrame: DefaultMaxFrameSize}
	if fr, ok := tr.(FrameReader); ok {
		f.fr = fr
	}

	return f
}

// readFrame produces one complete frame for desc before deadline. A zero deadline
// waits forever. On timeout the returned bytes are the partial frame collected so
// far; on success they are owned by the caller.
func (f *framer) readFrame(desc message.Descriptor, deadline time.Time) ([]byte, error) {
	switch message.StrategyOf(desc) {
	case message.StrategyFixedHeader:
		return f.readFixed(desc, deadline)
	case message.StrategySentinel1, message.StrategySentinel2:
		return f.readSentinel(desc, deadline)
	case message.StrategyCustom:
		return f.readCustom(desc, deadline)
	default:
		return f.readRaw(deadline)
	}
}

// readFixed implements fixed header plus content length framing:
//  1. read exactly HeaderLength bytes;
//  2. while the descriptor reports leading noise, drop it and refill the header,
//     at most MaxNoiseSkips times;
//  3. push back bytes beyond the canonical header length, if the descriptor says so;
//  4. read exactly ContentLength more bytes.
func (f *framer) readFixed(desc message.Descriptor, deadline time.Time) ([]byte, error) {
	headerLen := desc.HeaderLength()

	header, err := f.s.readFull(headerLen, deadline, make([]byte, 0, headerLen))
	if err != nil {
		return header, err
	}

	for skips := 0; ; skips++ {
		noise := desc.PrependedUselessByteLength(header)
		if noise <= 0 {
			break
		}

		if skips >= MaxNoiseSkips {
			f.logger.Warn("header noise not resolved, using last header",
				"skips", skips,
				"noise", noise,
				"header", util.HexString(header, 0),
			)
			break
		}

		noise = min(noise, len(header))
		f.logger.Debug("dropping header noise", "noise", util.HexString(header[:noise], 0))

		kept := make([]byte, 0, headerLen)
		kept = append(kept, header[noise:]...)

		header, err = f.s.readFull(noise, deadline, kept)
		if err != nil {
			return header, err
		}
	}

	if trimmer, ok := desc.(message.HeaderTrimmer); ok {
		if n := trimmer.CanonicalHeaderLength(header); n > 0 && n < len(header) {
			f.s.unread(header[n:])
			header = header[:n:n]
		}
	}

	desc.SetHeadBytes(header)

	contentLen := desc.ContentLength()
	if contentLen <= 0 {
		return util.CloneBytes(header), nil
	}
	if contentLen > f.maxFrame-len(header) {
		return util.CloneBytes(header), fmt.Errorf("%w: content length %d exceeds max frame size %d", ErrFraming, contentLen, f.maxFrame)
	}

	frame := make([]byte, len(header), len(header)+contentLen)
	copy(frame, header)

	return f.s.readFull(contentLen, deadline, frame)
}

// readSentinel reads until the first occurrence of the sentinel, then the suffix.
// Bytes read past the sentinel stay in the stream.
func (f *framer) readSentinel(desc message.Descriptor, deadline time.Time) ([]byte, error) {
	spec, err := message.UnpackSentinel(desc.HeaderLength())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFraming, err)
	}

	acc := make([]byte, 0, 64)

scan:
	for {
		chunk, err := f.s.readSome(0, deadline)
		if err != nil {
			acc = append(acc, chunk...)
			return acc, err
		}

		for i, b := range chunk {
			acc = append(acc, b)
			if spec.Matches(acc) {
				f.s.unread(chunk[i+1:])
				break scan
			}
		}

		if len(acc) > f.maxFrame {
			return acc, f.oversize()
		}
	}

	if spec.Suffix > 0 {
		return f.s.readFull(spec.Suffix, deadline, acc)
	}

	return acc, nil
}

// readCustom appends chunks to the accumulator until the descriptor's predicate
// reports completion.
func (f *framer) readCustom(desc message.Descriptor, deadline time.Time) ([]byte, error) {
	checker, _ := desc.(message.CompletionChecker)
	sent := desc.SendBytes()
	complete := func(acc []byte) bool { return checker.CheckReceiveComplete(sent, acc) }

	if f.fr != nil {
		return f.fr.ReadFrame(complete, f.s.takePending(), deadline)
	}

	var acc []byte
	for {
		chunk, err := f.s.readSome(0, deadline)
		acc = append(acc, chunk...)
		if err != nil {
			return acc, err
		}

		if len(chunk) > 0 && complete(acc) {
			return acc, nil
		}
		if len(acc) > f.maxFrame {
			return acc, f.oversize()
		}
	}
}

func (f *framer) oversize() error {
	return fmt.Errorf("%w: frame exceeds max frame size %d", ErrFraming, f.maxFrame)
}

// readRaw returns the bytes of one transport read.
func (f *framer) readRaw(deadline time.Time) ([]byte, error) {
	if f.fr != nil {
		return f.fr.ReadFrame(nil, f.s.takePending(), deadline)
	}

	for {
		chunk, err := f.s.readSome(0, deadline)
		if err != nil || len(chunk) > 0 {
			return util.CloneBytes(chunk), err
		}
	}
}
