package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"sdspi/protocol"
	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
)

// link feeds frames to a bridge and decodes what it sends back.
type link struct {
	t   *testing.T
	b   *Bridge
	out bytes.Buffer
	seq byte
}

type reply struct {
	id   uint32
	args *protocol.Reader
}

func newLink(t *testing.T, bus sdcard.Transport) *link {
	l := &link{t: t, seq: protocol.SeqDest}
	l.b = NewBridge(bus, &l.out, &BridgeConfig{Constants: map[string]any{"MCU": "test"}})
	return l
}

func (l *link) id(name string) uint32 {
	id, ok := l.b.Registry().Lookup(name)
	if !ok {
		l.t.Fatalf("Unknown message %s", name)
	}
	return id
}

// call sends one command and returns the responses it produced.
func (l *link) call(name string, args ...any) []reply {
	l.t.Helper()
	w := protocol.NewWriter(l.id(name))
	for _, a := range args {
		switch v := a.(type) {
		case uint32:
			w.Uint(v)
		case []byte:
			w.Bytes(v)
		}
	}
	frame, err := protocol.AppendFrame(nil, l.seq, w.Payload())
	if err != nil {
		l.t.Fatal(err)
	}
	l.b.Feed(frame)

	var (
		scan    protocol.Scanner
		acked   bool
		replies []reply
	)
	scan.Scan(l.out.Bytes(), func(seq byte, payload []byte) {
		if len(payload) == 0 {
			acked = seq == protocol.NextSeq(l.seq)
			return
		}
		r := protocol.NewReader(append([]byte(nil), payload...))
		replies = append(replies, reply{id: r.Uint(), args: r})
	})
	l.out.Reset()
	if !acked {
		l.t.Fatalf("%s was not acknowledged", name)
	}
	l.seq = protocol.NextSeq(l.seq)
	return replies
}

func (l *link) status(name string, args ...any) uint32 {
	l.t.Helper()
	replies := l.call(name, args...)
	if len(replies) != 1 || replies[0].id != l.id("sd_status") {
		l.t.Fatalf("Expected one sd_status for %s, got %d replies", name, len(replies))
	}
	return replies[0].args.Uint()
}

func (l *link) recv(n uint32) []byte {
	l.t.Helper()
	replies := l.call("sd_recv", n)
	if len(replies) != 1 || replies[0].id != l.id("sd_recv_response") {
		l.t.Fatalf("Expected one sd_recv_response, got %d replies", len(replies))
	}
	return replies[0].args.Bytes()
}

func newSim(t *testing.T) *sdsim.Card {
	t.Helper()
	sim, err := sdsim.New(sdsim.Options{Profile: sdsim.SDHC, Sectors: 4096})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestBridgeIdentify(t *testing.T) {
	l := newLink(t, newSim(t).Transport())

	var dict []byte
	for {
		replies := l.call("identify", uint32(len(dict)), uint32(40))
		if len(replies) != 1 || replies[0].id != 0 {
			t.Fatalf("Expected identify_response, got %+v", replies)
		}
		offset := replies[0].args.Uint()
		data := replies[0].args.Bytes()
		if offset != uint32(len(dict)) {
			t.Fatalf("Expected offset %d, got %d", len(dict), offset)
		}
		if len(data) == 0 {
			break
		}
		dict = append(dict, data...)
	}

	var doc dictDoc
	if err := json.Unmarshal(inflate(t, dict), &doc); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	for _, spec := range []string{"sd_config clock=%u", "sd_select", "sd_release", "sd_send data=%*s", "sd_recv count=%c", "sd_flush"} {
		if _, ok := doc.Commands[spec]; !ok {
			t.Errorf("Expected %q in the dictionary", spec)
		}
	}
	if doc.Responses["sd_status code=%c"] != l.id("sd_status") {
		t.Errorf("Expected sd_status id %d, got %v", l.id("sd_status"), doc.Responses)
	}
	if doc.Config["MCU"] != "test" || doc.Config["SD_CHUNK_MAX"] != "48" {
		t.Errorf("Unexpected constants %v", doc.Config)
	}
}

func TestBridgeBusOperations(t *testing.T) {
	sim := newSim(t)
	l := newLink(t, sim.Transport())

	if code := l.status("sd_config", uint32(400000)); code != StatusOK {
		t.Errorf("Expected status ok, got %d", code)
	}
	if sim.Stats().ClockHz != 400000 {
		t.Errorf("Expected the bus at 400000 Hz, got %d", sim.Stats().ClockHz)
	}
	if code := l.status("sd_select"); code != StatusOK {
		t.Errorf("Expected select ok, got %d", code)
	}

	// CMD0 through the bridge
	if replies := l.call("sd_send", []byte{0x40, 0, 0, 0, 0, 0x95}); len(replies) != 0 {
		t.Errorf("Expected no reply to sd_send, got %d", len(replies))
	}
	resp := l.recv(8)
	if len(resp) != 8 || bytes.IndexByte(resp, 0x01) < 0 {
		t.Errorf("Expected an idle R1 in %x", resp)
	}
	if got := l.recv(200); len(got) != ChunkMax {
		t.Errorf("Expected receives clamped to %d bytes, got %d", ChunkMax, len(got))
	}

	l.call("sd_flush")
	l.call("sd_release")
	if len(sim.Stats().Commands) != 1 {
		t.Errorf("Expected one command at the card, got %d", len(sim.Stats().Commands))
	}
}

// busyBus never finishes the ready probe.
type busyBus struct {
	*sdsim.Transport
}

func (b busyBus) Select() error {
	return fmt.Errorf("probe: %w", sdcard.ErrBusNotReady)
}

func TestBridgeSelectNotReady(t *testing.T) {
	l := newLink(t, busyBus{newSim(t).Transport()})

	if code := l.status("sd_select"); code != StatusNotReady {
		t.Errorf("Expected status not ready, got %d", code)
	}
}

// failingBus fails every data transfer.
type failingBus struct {
	*sdsim.Transport
	released int
}

var errWire = errors.New("wire fault")

func (f *failingBus) Send([]byte) error { return errWire }
func (f *failingBus) Recv([]byte) error { return errWire }
func (f *failingBus) Release()          { f.released++ }

func TestBridgeReportsBusErrors(t *testing.T) {
	bus := &failingBus{Transport: newSim(t).Transport()}
	l := newLink(t, bus)

	l.call("sd_send", []byte{1, 2, 3})
	if code := l.status("sd_select"); code != StatusBusError {
		t.Errorf("Expected the latched send error, got %d", code)
	}
	if code := l.status("sd_select"); code != StatusOK {
		t.Errorf("Expected the error to be reported once, got %d", code)
	}
	if data := l.recv(4); len(data) != 0 {
		t.Errorf("Expected an empty receive on a bus error, got %x", data)
	}
}

func TestBridgeHostRestartReleasesBus(t *testing.T) {
	bus := &failingBus{Transport: newSim(t).Transport()}
	l := newLink(t, bus)

	l.call("sd_flush")
	l.call("sd_flush")
	before := bus.released
	l.seq = protocol.SeqDest
	l.call("sd_flush")
	if bus.released != before+1 {
		t.Errorf("Expected a release on restart, got %d releases", bus.released-before)
	}
}

func TestBridgeServe(t *testing.T) {
	hostConn, devConn := net.Pipe()
	b := NewBridge(newSim(t).Transport(), devConn, nil)

	done := make(chan error, 1)
	go func() { done <- b.Serve(context.Background(), devConn) }()

	h := protocol.NewHost(hostConn, &protocol.HostConfig{AckTimeout: time.Second})
	id, _ := b.Registry().Lookup("sd_config")
	w := protocol.NewWriter(id)
	w.Uint(200000)
	statusID, _ := b.Registry().Lookup("sd_status")
	m, err := h.Call(w, statusID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if code := m.Args().Uint(); code != StatusOK {
		t.Errorf("Expected status ok, got %d", code)
	}

	h.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected Serve to end cleanly, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}
