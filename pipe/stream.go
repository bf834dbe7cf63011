package pipe

import (
	"os"
	"time"
)

// stream sits in front of a Transport and owns the bytes that were read ahead but
// not yet consumed by a frame.
type stream struct {
	tr      Transport
	pending []byte
	scratch []byte
}

func newStream(tr Transport, chunkSize int) *stream {
	return &stream{tr: tr, scratch: make([]byte, chunkSize)}
}

// unread puts b in front of the pending bytes.
func (s *stream) unread(b []byte) {
	if len(b) == 0 {
		return
	}

	pending := make([]byte, 0, len(b)+len(s.pending))
	pending = append(pending, b...)
	s.pending = append(pending, s.pending...)
}

// takePending returns and clears the read-ahead bytes.
func (s *stream) takePending() []byte {
	p := s.pending
	s.pending = nil

	return p
}

func (s *stream) reset() {
	s.pending = nil
}

// readSome returns pending bytes if any, otherwise the result of one transport read
// of at most limit bytes (limit <= 0 means the chunk size). The returned slice is only
// valid until the next call.
func (s *stream) readSome(limit int, deadline time.Time) ([]byte, error) {
	if len(s.pending) > 0 {
		n := len(s.pending)
		if limit > 0 && limit < n {
			n = limit
		}
		out := s.pending[:n]
		s.pending = s.pending[n:]
		if len(s.pending) == 0 {
			s.pending = nil
		}

		return out, nil
	}

	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return nil, os.ErrDeadlineExceeded
	}

	buf := s.scratch
	if limit > 0 && limit < len(buf) {
		buf = buf[:limit]
	}

	n, err := s.tr.Receive(buf, deadline)
	if n > 0 {
		// bytes that arrived with an error still belong to the caller
		if err != nil && !IsTimeout(err) {
			return buf[:n], err
		}

		return buf[:n], nil
	}

	return nil, err
}

// readFull appends exactly n bytes to acc. On failure it returns acc with whatever
// arrived before the error.
func (s *stream) readFull(n int, deadline time.Time, acc []byte) ([]byte, error) {
	for n > 0 {
		chunk, err := s.readSome(n, deadline)
		acc = append(acc, chunk...)
		n -= len(chunk)
		if err != nil {
			return acc, err
		}
	}

	return acc, nil
}
