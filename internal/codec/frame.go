package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// HeaderSize is the length of the little-endian uint64 frame header.
const HeaderSize = 8

// DefaultMaxFrameBytes bounds the payload size accepted by decoders.
const DefaultMaxFrameBytes = 64 << 20

// maxPooledBytes keeps oversized buffers out of the pool.
const maxPooledBytes = 1 << 20

// bufferPool hands out payload buffers for ReadFrame.
type bufferPool interface {
	get(n int) *[]byte
	put(b *[]byte)
}

type syncPool struct {
	p sync.Pool
}

func (s *syncPool) get(n int) *[]byte {
	if b, ok := s.p.Get().(*[]byte); ok && cap(*b) >= n {
		*b = (*b)[:n]
		return b
	}
	b := make([]byte, n)
	return &b
}

func (s *syncPool) put(b *[]byte) {
	if cap(*b) > maxPooledBytes {
		return
	}
	*b = (*b)[:0]
	s.p.Put(b)
}

var buffers bufferPool = &syncPool{}

// Frame owns the payload buffer of one frame read from a stream. The payload
// is valid until Release is called; Release may be called any number of
// times and returns the buffer to the pool exactly once.
type Frame struct {
	buf      *[]byte
	released atomic.Bool
}

// Payload returns the frame payload, or nil after Release.
func (f *Frame) Payload() []byte {
	if f.released.Load() {
		return nil
	}
	return *f.buf
}

// Release returns the payload buffer to the pool.
func (f *Frame) Release() {
	if f.released.CompareAndSwap(false, true) {
		buffers.put(f.buf)
	}
}

// AppendFrame appends the header and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// SplitFrame validates a complete in-memory frame and returns its payload,
// which aliases b. The declared length must equal the bytes that follow the
// header and must not exceed maxBytes.
func SplitFrame(b []byte, maxBytes uint64) ([]byte, error) {
	if len(b) < HeaderSize {
		return nil, fail("split frame", ErrShortHeader, fmt.Errorf("got %d bytes", len(b)))
	}

	declared := binary.LittleEndian.Uint64(b[:HeaderSize])
	if declared > maxBytes {
		return nil, fail("split frame", ErrFrameTooLarge, fmt.Errorf("declared %d bytes, limit %d", declared, maxBytes))
	}

	available := uint64(len(b) - HeaderSize)
	switch {
	case declared > available:
		return nil, fail("split frame", ErrTruncated, fmt.Errorf("declared %d bytes, have %d", declared, available))
	case declared < available:
		return nil, fail("split frame", ErrTrailingBytes, fmt.Errorf("declared %d bytes, have %d", declared, available))
	}

	return b[HeaderSize:], nil
}

// ReadFrame reads one frame from r. A clean end of stream before the first
// header byte returns io.EOF. The caller must Release the returned frame.
func ReadFrame(r io.Reader, maxBytes uint64) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fail("read frame", ErrShortHeader, err)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	declared := binary.LittleEndian.Uint64(hdr[:])
	if declared > maxBytes {
		return nil, fail("read frame", ErrFrameTooLarge, fmt.Errorf("declared %d bytes, limit %d", declared, maxBytes))
	}

	f := &Frame{buf: buffers.get(int(declared))}
	if _, err := io.ReadFull(r, *f.buf); err != nil {
		f.Release()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fail("read frame", ErrTruncated, fmt.Errorf("declared %d bytes: %w", declared, err))
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return f, nil
}

// WriteFrame writes the header and payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
