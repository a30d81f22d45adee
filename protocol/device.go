package protocol

// Handler runs one decoded command. args holds the rest of the frame and
// must be advanced past the command arguments.
type Handler func(id uint32, args *Reader) error

// Device is the firmware side of the link. It is driven from a single
// loop and is not safe for concurrent use.
type Device struct {
	in      *Fifo
	scan    Scanner
	next    byte
	handler Handler
	output  func(frame []byte)
	frame   []byte

	// OnReset is called when the host restarts its sequence.
	OnReset func()
	// OnError is called with handler errors and recovered panics.
	OnError func(id uint32, err error)
}

// NewDevice returns a Device passing commands to handler and frames to
// output. output must consume the frame before returning.
func NewDevice(output func(frame []byte), handler Handler) *Device {
	d := &Device{
		in:      NewFifo(4 * FrameMax),
		next:    SeqDest,
		handler: handler,
		output:  output,
		frame:   make([]byte, 0, FrameMax),
	}
	d.scan.Resync = d.ack
	return d
}

// Feed queues received bytes and runs every complete frame.
func (d *Device) Feed(p []byte) {
	for len(p) > 0 {
		n := d.in.Write(p)
		p = p[n:]
		d.in.Pop(d.scan.Scan(d.in.Data(), d.receive))
		if n == 0 && d.in.Free() == 0 {
			// a full queue without a frame is garbage
			d.in.Reset()
			d.scan.Desync()
		}
	}
}

func (d *Device) receive(seq byte, payload []byte) {
	if seq == SeqDest && d.next != SeqDest {
		d.next = SeqDest
		if d.OnReset != nil {
			d.OnReset()
		}
	}
	// the acknowledgement goes out before any response
	if seq == d.next {
		d.next = NextSeq(seq)
		d.ack()
		d.dispatch(payload)
		return
	}
	d.ack()
}

func (d *Device) dispatch(payload []byte) {
	var id uint32
	defer func() {
		if r := recover(); r != nil {
			d.scan.Desync()
			d.report(id, ErrHandlerPanic)
		}
	}()

	r := NewReader(payload)
	for r.Len() > 0 {
		id = r.Uint()
		if err := r.Err(); err != nil {
			d.scan.Desync()
			d.report(id, err)
			return
		}
		if err := d.handler(id, r); err != nil {
			d.report(id, err)
			return
		}
	}
}

func (d *Device) report(id uint32, err error) {
	if d.OnError != nil {
		d.OnError(id, err)
	}
}

func (d *Device) ack() {
	d.frame, _ = AppendFrame(d.frame[:0], d.next, nil)
	d.output(d.frame)
}

// Send emits a response frame built by w.
func (d *Device) Send(w *Writer) error {
	frame, err := AppendFrame(d.frame[:0], d.next, w.Payload())
	if err != nil {
		return err
	}
	d.frame = frame
	d.output(frame)
	return nil
}

// Reset returns to the power-on state.
func (d *Device) Reset() {
	d.in.Reset()
	d.scan = Scanner{Resync: d.ack}
	d.next = SeqDest
	if d.OnReset != nil {
		d.OnReset()
	}
}
