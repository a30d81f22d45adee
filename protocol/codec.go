package protocol

// AppendVLQ appends the variable length encoding of v. Values in
// [-32, 96) take one byte, each further byte adds seven bits.
func AppendVLQ(dst []byte, v int32) []byte {
	if v < -(1<<26) || v >= 3<<26 {
		dst = append(dst, byte(v>>28)&0x7F|0x80)
	}
	if v < -(1<<19) || v >= 3<<19 {
		dst = append(dst, byte(v>>21)&0x7F|0x80)
	}
	if v < -(1<<12) || v >= 3<<12 {
		dst = append(dst, byte(v>>14)&0x7F|0x80)
	}
	if v < -(1<<5) || v >= 3<<5 {
		dst = append(dst, byte(v>>7)&0x7F|0x80)
	}
	return append(dst, byte(v)&0x7F)
}

// DecodeVLQ decodes one value from the front of data and returns it with
// the number of bytes used.
func DecodeVLQ(data []byte) (int32, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrShortPayload
	}
	c := uint32(data[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	n := 1
	for c&0x80 != 0 {
		if n == 5 {
			return 0, 0, ErrInvalidVLQ
		}
		if n >= len(data) {
			return 0, 0, ErrShortPayload
		}
		c = uint32(data[n])
		n++
		v = v<<7 | c&0x7F
	}
	return int32(v), n, nil
}

// Writer builds a command payload.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer starting with the command id.
func NewWriter(id uint32) *Writer {
	w := &Writer{buf: make([]byte, 0, PayloadMax)}
	w.Uint(id)
	return w
}

func (w *Writer) Int(v int32) {
	w.buf = AppendVLQ(w.buf, v)
}

func (w *Writer) Uint(v uint32) {
	w.buf = AppendVLQ(w.buf, int32(v))
}

// Bytes appends p with a length prefix.
func (w *Writer) Bytes(p []byte) {
	w.Uint(uint32(len(p)))
	w.buf = append(w.buf, p...)
}

func (w *Writer) Text(s string) {
	w.Uint(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Payload returns the encoded payload.
func (w *Writer) Payload() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Reader decodes the arguments of a payload. The first decoding error
// sticks: later reads return zero values and Err reports it.
type Reader struct {
	data []byte
	err  error
}

func NewReader(p []byte) *Reader {
	return &Reader{data: p}
}

func (r *Reader) Int() int32 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVLQ(r.data)
	if err != nil {
		r.err = err
		return 0
	}
	r.data = r.data[n:]
	return v
}

func (r *Reader) Uint() uint32 {
	return uint32(r.Int())
}

// Bytes returns a length prefixed byte string. The result aliases the
// payload.
func (r *Reader) Bytes() []byte {
	n := r.Uint()
	if r.err != nil {
		return nil
	}
	if uint32(len(r.data)) < n {
		r.err = ErrShortPayload
		return nil
	}
	p := r.data[:n:n]
	r.data = r.data[n:]
	return p
}

func (r *Reader) Text() string {
	return string(r.Bytes())
}

// Len returns the number of undecoded bytes.
func (r *Reader) Len() int {
	return len(r.data)
}

func (r *Reader) Err() error {
	return r.err
}
