package mcu

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"sdspi/core"
	"sdspi/protocol"
	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
)

// connect runs a bridge over bus on one end of a pipe and returns a
// client on the other end.
func connect(t *testing.T, bus sdcard.Transport) *MCU {
	t.Helper()
	hostConn, devConn := net.Pipe()
	bridge := core.NewBridge(bus, devConn, &core.BridgeConfig{
		Version:   "test-fw",
		Constants: map[string]any{"MCU": "sim"},
	})
	go bridge.Serve(context.Background(), devConn)

	m := New(hostConn, &Config{Timeout: 2 * time.Second})
	t.Cleanup(func() {
		m.Close()
		devConn.Close()
	})
	return m
}

func newSim(t *testing.T, profile sdsim.Profile) *sdsim.Card {
	t.Helper()
	sim, err := sdsim.New(sdsim.Options{Profile: profile, Sectors: 4096})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestRetrieveDictionary(t *testing.T) {
	m := connect(t, newSim(t, sdsim.SDHC).Transport())

	if _, err := m.ID("sd_select"); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("Expected ErrNoDictionary before retrieval, got %v", err)
	}
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatalf("RetrieveDictionary failed: %v", err)
	}

	dict := m.Dictionary()
	if dict.Version != "test-fw" || dict.Config["MCU"] != "sim" {
		t.Errorf("Unexpected dictionary header %q %v", dict.Version, dict.Config)
	}
	if len(m.Raw()) == 0 || m.Raw()[0] != 0x78 {
		t.Error("Expected a zlib compressed dictionary")
	}
	if id, err := m.ID("identify"); err != nil || id != 1 {
		t.Errorf("Expected identify at 1, got %d, %v", id, err)
	}
	if _, err := m.ID("no_such_command"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}

	var out bytes.Buffer
	dict.Summary(&out)
	if !strings.Contains(out.String(), "sd_recv count=%c") || !strings.Contains(out.String(), "MCU = sim") {
		t.Errorf("Unexpected summary:\n%s", out.String())
	}
}

func TestTransportNeedsDictionary(t *testing.T) {
	m := connect(t, newSim(t, sdsim.SDHC).Transport())
	if _, err := m.Transport(); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("Expected ErrNoDictionary, got %v", err)
	}
}

func remoteCard(t *testing.T, sim *sdsim.Card) (*sdcard.Card, *MCU) {
	t.Helper()
	m := connect(t, sim.Transport())
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	remote, err := m.Transport()
	if err != nil {
		t.Fatal(err)
	}
	return sdcard.New(remote, nil), m
}

// barrier waits until the bridge ran every command sent so far. Commands
// without a response are acknowledged before they run.
func barrier(t *testing.T, m *MCU) {
	t.Helper()
	if _, err := m.identify(0); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteCardRoundTrip(t *testing.T) {
	for _, profile := range []sdsim.Profile{sdsim.SDHC, sdsim.SDv1} {
		t.Run(profile.String(), func(t *testing.T) {
			sim := newSim(t, profile)
			card, m := remoteCard(t, sim)

			if err := card.Initialize(); err != nil {
				t.Fatalf("Initialize over the bridge failed: %v", err)
			}
			barrier(t, m)
			if card.SectorCount() != sim.Sectors() {
				t.Errorf("Expected %d sectors, got %d", sim.Sectors(), card.SectorCount())
			}
			if sim.Stats().ClockHz != sdcard.DefaultConfig().ClockHz {
				t.Errorf("Expected the bridge bus at %d Hz, got %d", sdcard.DefaultConfig().ClockHz, sim.Stats().ClockHz)
			}

			data := make([]byte, 700)
			for i := range data {
				data[i] = byte(i * 3)
			}
			if err := card.WriteInitiate(10); err != nil {
				t.Fatal(err)
			}
			if err := card.Write(data); err != nil {
				t.Fatal(err)
			}
			if err := card.WriteFinalize(); err != nil {
				t.Fatal(err)
			}
			barrier(t, m)

			stored, err := sim.ReadSector(11)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(stored[:188], data[512:]) {
				t.Error("Expected the second sector on the card")
			}

			got := make([]byte, 600)
			if err := card.Read(got, 10, 50); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got[:650-50], data[50:650]) {
				t.Error("Expected the written bytes back through the bridge")
			}
		})
	}
}

func TestRemoteSelectNotReady(t *testing.T) {
	sim := newSim(t, sdsim.SDHC)
	tr := sim.Transport()
	m := connect(t, busyBus{tr})
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	remote, _ := m.Transport()

	if err := remote.Select(); !errors.Is(err, sdcard.ErrBusNotReady) {
		t.Errorf("Expected ErrBusNotReady, got %v", err)
	}
}

type busyBus struct{ *sdsim.Transport }

func (busyBus) Select() error { return sdcard.ErrBusNotReady }

func TestRemoteBusError(t *testing.T) {
	m := connect(t, brokenBus{newSim(t, sdsim.SDHC).Transport()})
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	remote, _ := m.Transport()

	if err := remote.Send([]byte{0x40, 0, 0, 0, 0, 0x95}); err != nil {
		t.Fatalf("Expected sends to be acknowledged, got %v", err)
	}
	if err := remote.Recv(make([]byte, 4)); !errors.Is(err, ErrBusError) {
		t.Errorf("Expected ErrBusError, got %v", err)
	}
	if err := remote.Initialize(400000); !errors.Is(err, ErrBusError) {
		t.Errorf("Expected ErrBusError, got %v", err)
	}
}

func TestRemoteRecvReportsLatchedSendFault(t *testing.T) {
	m := connect(t, sendFailBus{newSim(t, sdsim.SDHC).Transport()})
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	remote, _ := m.Transport()

	if err := remote.Send([]byte{0xFF}); err != nil {
		t.Fatalf("Expected the send to be acknowledged, got %v", err)
	}
	if err := remote.Recv(make([]byte, 2)); !errors.Is(err, ErrBusError) {
		t.Errorf("Expected ErrBusError for the latched send fault, got %v", err)
	}
	// the fault is reported once
	if err := remote.Recv(make([]byte, 2)); err != nil {
		t.Errorf("Expected a clean receive afterwards, got %v", err)
	}
}

var errWire = errors.New("wire fault")

type sendFailBus struct{ *sdsim.Transport }

func (sendFailBus) Send([]byte) error { return errWire }

type brokenBus struct{ *sdsim.Transport }

func (brokenBus) Recv([]byte) error       { return errWire }
func (brokenBus) Initialize(uint32) error { return errWire }

func TestRemoteChunking(t *testing.T) {
	sim := newSim(t, sdsim.SDHC)
	tr := sim.Transport()
	m := connect(t, tr)
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	remote, _ := m.Transport()
	if remote.chunk != core.ChunkMax {
		t.Errorf("Expected the published chunk size %d, got %d", core.ChunkMax, remote.chunk)
	}

	barrier(t, m)
	before := tr.Calls
	if err := remote.Recv(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if calls := tr.Calls - before; calls != 3 {
		t.Errorf("Expected 100 bytes in 3 receives, got %d", calls)
	}
}

func TestCallUnknownMessage(t *testing.T) {
	m := connect(t, newSim(t, sdsim.SDHC).Transport())
	if err := m.RetrieveDictionary(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Call("sd_select", "nope", nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
	if err := m.Send("nope", func(w *protocol.Writer) {}); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
}
