package sdcard_test

import (
	"testing"
	"time"

	"sdspi/sdcard"
	"sdspi/sdcard/sdsim"
)

// stepClock advances by step on every reading so timeouts expire after a
// bounded number of polls.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
}

func testConfig() *sdcard.Config {
	return &sdcard.Config{Clock: &stepClock{now: time.Unix(0, 0), step: time.Millisecond}}
}

func newSim(t *testing.T, profile sdsim.Profile) *sdsim.Card {
	t.Helper()
	sim, err := sdsim.New(sdsim.Options{Profile: profile, Sectors: 4096})
	if err != nil {
		t.Fatalf("Failed to create simulated card: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

// newCard returns an engine attached to a fresh simulated card, not yet
// initialized.
func newCard(t *testing.T, profile sdsim.Profile) (*sdcard.Card, *sdsim.Card, *sdsim.Transport) {
	t.Helper()
	sim := newSim(t, profile)
	tr := sim.Transport()
	return sdcard.New(tr, testConfig()), sim, tr
}

func mustInit(t *testing.T, card *sdcard.Card) {
	t.Helper()
	if err := card.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

func patternByte(sector uint32, i int) byte {
	return byte(int(sector)*7 + i*13 + i>>8)
}

// fillPattern stores a recognizable pattern in sectors [0, n).
func fillPattern(t *testing.T, sim *sdsim.Card, n uint32) {
	t.Helper()
	buf := make([]byte, sdcard.SectorSize)
	for s := uint32(0); s < n; s++ {
		for i := range buf {
			buf[i] = patternByte(s, i)
		}
		if err := sim.WriteSector(s, buf); err != nil {
			t.Fatalf("WriteSector(%d) failed: %v", s, err)
		}
	}
}

// expectedRange returns the pattern bytes of the given card range.
func expectedRange(sector, offset uint32, n int) []byte {
	out := make([]byte, n)
	pos := int(sector)*sdcard.SectorSize + int(offset)
	for i := range out {
		s := uint32(pos / sdcard.SectorSize)
		out[i] = patternByte(s, pos%sdcard.SectorSize)
		pos++
	}
	return out
}
