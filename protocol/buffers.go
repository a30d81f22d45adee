package protocol

// Fifo is a fixed capacity byte queue for serial input.
type Fifo struct {
	buf         []byte
	read, write int
	flat        []byte
}

// NewFifo returns a queue holding up to capacity-1 bytes.
func NewFifo(capacity int) *Fifo {
	return &Fifo{buf: make([]byte, capacity), flat: make([]byte, 0, capacity)}
}

// Write queues as much of p as fits and returns the count.
func (f *Fifo) Write(p []byte) int {
	n := 0
	for _, b := range p {
		next := (f.write + 1) % len(f.buf)
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		n++
	}
	return n
}

// Available returns the number of queued bytes.
func (f *Fifo) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return len(f.buf) - f.read + f.write
}

// Free returns the room left.
func (f *Fifo) Free() int {
	return len(f.buf) - f.Available() - 1
}

// Data returns the queued bytes as one slice, valid until the next call
// that modifies the queue. A wrapped queue is copied into a buffer owned
// by the Fifo.
func (f *Fifo) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	f.flat = append(f.flat[:0], f.buf[f.read:]...)
	f.flat = append(f.flat, f.buf[:f.write]...)
	return f.flat
}

// Pop drops n bytes from the front.
func (f *Fifo) Pop(n int) {
	n = min(n, f.Available())
	f.read = (f.read + n) % len(f.buf)
}

func (f *Fifo) Reset() {
	f.read, f.write = 0, 0
}
