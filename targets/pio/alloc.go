//go:build rp2040 || rp2350

package pio

import (
	"errors"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// ErrNoStateMachine is returned when every state machine is taken.
var ErrNoStateMachine = errors.New("pio: no free state machine")

// RP2040/RP2350 have 2 PIO blocks with 4 state machines each.
var allocations = [2][4]bool{}

// claim returns the first free state machine, scanning PIO0 before PIO1.
func claim() (*rp2pio.PIO, rp2pio.StateMachine, error) {
	blocks := [2]*rp2pio.PIO{rp2pio.PIO0, rp2pio.PIO1}
	for p := range allocations {
		for s := range allocations[p] {
			if allocations[p][s] {
				continue
			}
			sm := blocks[p].StateMachine(uint8(s))
			if !sm.TryClaim() {
				continue
			}
			allocations[p][s] = true
			return blocks[p], sm, nil
		}
	}
	return nil, rp2pio.StateMachine{}, ErrNoStateMachine
}

// Allocations reports which state machines are claimed.
func Allocations() [2][4]bool {
	return allocations
}
