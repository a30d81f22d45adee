package sdcard_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
)

func writeChunks(t *testing.T, card *sdcard.Card, data []byte, chunk int) {
	t.Helper()
	for len(data) > 0 {
		n := min(chunk, len(data))
		if err := card.Write(data[:n]); err != nil {
			t.Fatalf("Write of %d bytes failed: %v", n, err)
		}
		data = data[n:]
	}
}

func payload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*31 + 5)
	}
	return buf
}

func TestWriteChunkingIsInvisible(t *testing.T) {
	data := payload(3*sdcard.SectorSize + 100)

	for _, p := range []sdsim.Profile{sdsim.SDHC, sdsim.SDv1} {
		for _, chunk := range []int{len(data), 512, 100, 1, 700, 37} {
			t.Run(fmt.Sprintf("%v/%d", p, chunk), func(t *testing.T) {
				card, sim, _ := newCard(t, p)
				fillPattern(t, sim, 10)
				mustInit(t, card)
				sim.ResetStats()

				if err := card.WriteInitiate(4); err != nil {
					t.Fatalf("WriteInitiate failed: %v", err)
				}
				writeChunks(t, card, data, chunk)
				if err := card.WriteFinalize(); err != nil {
					t.Fatalf("WriteFinalize failed: %v", err)
				}

				want := make([]byte, 4*sdcard.SectorSize)
				copy(want, data)
				var got []byte
				for s := uint32(4); s < 8; s++ {
					sec, err := sim.ReadSector(s)
					if err != nil {
						t.Fatalf("ReadSector failed: %v", err)
					}
					got = append(got, sec...)
				}
				if !bytes.Equal(got, want) {
					t.Error("Card content does not match the written data with zero padding")
				}

				untouched, _ := sim.ReadSector(8)
				if !bytes.Equal(untouched, expectedRange(8, 0, sdcard.SectorSize)) {
					t.Error("Expected sector 8 to be untouched")
				}

				st := sim.Stats()
				if st.BlocksWritten != 4 {
					t.Errorf("Expected 4 blocks written, got %d", st.BlocksWritten)
				}
				if st.BusyPeriods != 5 {
					t.Errorf("Expected 5 busy periods, got %d", st.BusyPeriods)
				}
				if st.StopTokens != 1 {
					t.Errorf("Expected 1 stop token, got %d", st.StopTokens)
				}
				if card.InSession() {
					t.Error("Expected the session to be closed")
				}
			})
		}
	}
}

func TestWriteAlignedIsNotPadded(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	fillPattern(t, sim, 4)
	mustInit(t, card)
	sim.ResetStats()

	data := payload(2 * sdcard.SectorSize)
	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}
	if err := card.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := card.WriteFinalize(); err != nil {
		t.Fatalf("WriteFinalize failed: %v", err)
	}

	if st := sim.Stats(); st.BlocksWritten != 2 || st.BusyPeriods != 3 {
		t.Errorf("Expected 2 blocks and 3 busy periods, got %d and %d", st.BlocksWritten, st.BusyPeriods)
	}
	third, _ := sim.ReadSector(2)
	if !bytes.Equal(third, expectedRange(2, 0, sdcard.SectorSize)) {
		t.Error("Expected sector 2 to keep its content")
	}
}

func TestWriteEmptySession(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	sim.ResetStats()

	if err := card.WriteInitiate(1); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}
	if err := card.Write([]byte{}); err != nil {
		t.Errorf("Expected nil for an empty write, got %v", err)
	}
	if err := card.WriteFinalize(); err != nil {
		t.Fatalf("WriteFinalize failed: %v", err)
	}
	if st := sim.Stats(); st.BlocksWritten != 0 || st.StopTokens != 1 {
		t.Errorf("Expected only a stop token, got %d blocks and %d stop tokens", st.BlocksWritten, st.StopTokens)
	}
}

func TestWriteSessionMisuse(t *testing.T) {
	card, _, tr := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	calls := tr.Calls

	if err := card.Write([]byte{1}); !errors.Is(err, sdcard.ErrSessionMisuse) {
		t.Errorf("Expected ErrSessionMisuse from Write, got %v", err)
	}
	if err := card.WriteFinalize(); !errors.Is(err, sdcard.ErrSessionMisuse) {
		t.Errorf("Expected ErrSessionMisuse from WriteFinalize, got %v", err)
	}
	if tr.Calls != calls {
		t.Errorf("Expected no transport calls, got %d", tr.Calls-calls)
	}

	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}
	calls = tr.Calls
	if err := card.WriteInitiate(0); !errors.Is(err, sdcard.ErrSessionMisuse) {
		t.Errorf("Expected ErrSessionMisuse from a second WriteInitiate, got %v", err)
	}
	if tr.Calls != calls {
		t.Errorf("Expected no transport calls, got %d", tr.Calls-calls)
	}
	if !card.State() {
		t.Error("Expected misuse to leave the card healthy")
	}
}

func TestWriteNilData(t *testing.T) {
	card, _, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}

	if err := card.Write(nil); !errors.Is(err, sdcard.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if !card.InSession() {
		t.Error("Expected the session to stay open")
	}
}

func TestWriteRejectedBlock(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}

	sim.Faults.RejectWrites = true
	err := card.Write(payload(sdcard.SectorSize))
	if !errors.Is(err, sdcard.ErrWriteRejected) {
		t.Fatalf("Expected ErrWriteRejected, got %v", err)
	}
	var terr *sdcard.TokenError
	if !errors.As(err, &terr) || terr.Token != 0x0B {
		t.Errorf("Expected data response 0x0B, got %v", err)
	}
	if card.State() {
		t.Error("Expected an unhealthy card after a rejected block")
	}

	if err := card.WriteFinalize(); !errors.Is(err, sdcard.ErrNotReady) {
		t.Errorf("Expected ErrNotReady from WriteFinalize, got %v", err)
	}
	if card.InSession() {
		t.Error("Expected WriteFinalize to close the session")
	}

	sim.Faults.RejectWrites = false
	mustInit(t, card)
	if err := card.WriteInitiate(0); err != nil {
		t.Errorf("WriteInitiate after recovery failed: %v", err)
	}
}

func TestWriteBusyTimeout(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}

	sim.Faults.StuckBusy = true
	if err := card.Write(payload(sdcard.SectorSize)); !errors.Is(err, sdcard.ErrBusyTimeout) {
		t.Errorf("Expected ErrBusyTimeout, got %v", err)
	}
}

func TestWriteInitiateRejected(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	sim.Faults.Reject = map[uint8]byte{25: 0x04}

	err := card.WriteInitiate(3)
	if !errors.Is(err, sdcard.ErrCommandRejected) {
		t.Errorf("Expected ErrCommandRejected, got %v", err)
	}
	if card.InSession() {
		t.Error("Expected no session after a rejected CMD25")
	}
	if card.State() {
		t.Error("Expected an unhealthy card")
	}
}

func TestWriteInitiateBeyondCapacity(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDHC)
	mustInit(t, card)

	if err := card.WriteInitiate(sim.Sectors()); !errors.Is(err, sdcard.ErrCommandRejected) {
		t.Errorf("Expected ErrCommandRejected, got %v", err)
	}
}

func TestWriteByteAddressed(t *testing.T) {
	card, sim, _ := newCard(t, sdsim.SDv1)
	mustInit(t, card)
	sim.ResetStats()

	data := payload(2 * sdcard.SectorSize)
	if err := card.WriteInitiate(10); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}
	writeChunks(t, card, data, 300)
	if err := card.WriteFinalize(); err != nil {
		t.Fatalf("WriteFinalize failed: %v", err)
	}

	if cmds := sim.Stats().Commands; len(cmds) != 1 || cmds[0].Index != 25 || cmds[0].Arg != 10*sdcard.SectorSize {
		t.Errorf("Expected a single CMD25(0x1400), got %+v", cmds)
	}
	for i := uint32(0); i < 2; i++ {
		sec, _ := sim.ReadSector(10 + i)
		if !bytes.Equal(sec, data[i*sdcard.SectorSize:(i+1)*sdcard.SectorSize]) {
			t.Errorf("Sector %d does not match", 10+i)
		}
	}
}

func TestWritePartialSectorIsDeferred(t *testing.T) {
	card, sim, tr := newCard(t, sdsim.SDHC)
	mustInit(t, card)
	if err := card.WriteInitiate(0); err != nil {
		t.Fatalf("WriteInitiate failed: %v", err)
	}

	calls := tr.Calls
	if err := card.Write(payload(100)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := card.Write(payload(300)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if tr.Calls != calls {
		t.Errorf("Expected no transport calls for a partial sector, got %d", tr.Calls-calls)
	}

	if err := card.Write(payload(200)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if tr.Calls == calls {
		t.Error("Expected the completed sector to be sent")
	}
	if got := sim.Stats().BlocksWritten; got != 1 {
		t.Errorf("Expected 1 block written, got %d", got)
	}
}

func TestWriteThenRead(t *testing.T) {
	for _, p := range []sdsim.Profile{sdsim.SDHC, sdsim.SDv2, sdsim.SDv1, sdsim.MMC} {
		t.Run(p.String(), func(t *testing.T) {
			card, _, _ := newCard(t, p)
			mustInit(t, card)

			data := payload(3*sdcard.SectorSize + 10)
			if err := card.WriteInitiate(20); err != nil {
				t.Fatalf("WriteInitiate failed: %v", err)
			}
			writeChunks(t, card, data, 129)
			if err := card.WriteFinalize(); err != nil {
				t.Fatalf("WriteFinalize failed: %v", err)
			}

			got := make([]byte, 4*sdcard.SectorSize)
			if err := card.Read(got, 20, 0); err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			want := make([]byte, len(got))
			copy(want, data)
			if !bytes.Equal(got, want) {
				t.Error("Read back data does not match")
			}
		})
	}
}
