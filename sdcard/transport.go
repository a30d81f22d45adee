package sdcard

// Transport is the SPI link to a card.
//
// Implementations own chip select and the bus clock. Recv must clock 0xFF
// while receiving. Select asserts chip select and waits for the card to
// release the data line; it returns an error wrapping ErrBusNotReady when
// the wait times out. Release must be safe to call when not selected.
type Transport interface {
	Initialize(clockHz uint32) error
	Select() error
	Release()
	Send(p []byte) error
	Recv(p []byte) error
	Flush() error
}
