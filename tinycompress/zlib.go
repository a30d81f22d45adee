// Package tinycompress writes zlib streams made of stored DEFLATE blocks.
// It never allocates after construction, which keeps it usable on
// microcontrollers where the dictionary is compressed once at boot.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// MaxBlock is the largest stored block DEFLATE allows.
const MaxBlock = 65535

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers input and emits it as a zlib stream on Close. Input
// larger than one block is split across several stored blocks.
type Writer struct {
	out    io.Writer
	buf    []byte
	hdr    [5]byte
	closed bool
}

// NewWriter returns a Writer with room for size bytes before it starts
// growing its buffer.
func NewWriter(w io.Writer, size int) *Writer {
	return &Writer{out: w, buf: make([]byte, 0, size)}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the buffered data and the trailer. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// 32K window, no preset dictionary, default level
	if _, err := w.out.Write([]byte{0x78, 0x9C}); err != nil {
		return err
	}

	data := w.buf
	for {
		n := min(len(data), MaxBlock)
		final := n == len(data)
		w.hdr[0] = 0
		if final {
			w.hdr[0] = 1
		}
		w.hdr[1], w.hdr[2] = byte(n), byte(n>>8)
		w.hdr[3], w.hdr[4] = ^byte(n), ^byte(n>>8)
		if _, err := w.out.Write(w.hdr[:]); err != nil {
			return err
		}
		if _, err := w.out.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final {
			break
		}
	}

	sum := adler32.Checksum(w.buf)
	_, err := w.out.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}

// Reset discards buffered input and directs output to out.
func (w *Writer) Reset(out io.Writer) {
	w.out = out
	w.buf = w.buf[:0]
	w.closed = false
}

// Compress returns data wrapped as a zlib stream.
func Compress(data []byte) []byte {
	var out sliceWriter
	out.b = make([]byte, 0, len(data)+11+5*(len(data)/MaxBlock))
	w := Writer{out: &out, buf: data}
	w.Close()
	return out.b
}

type sliceWriter struct{ b []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}
