package sdcard

import (
	"errors"
	"fmt"
)

var (
	ErrNoCard           = errors.New("sdcard: no card")
	ErrCommandRejected  = errors.New("sdcard: command rejected")
	ErrDataTokenTimeout = errors.New("sdcard: data token timeout")
	ErrBusyTimeout      = errors.New("sdcard: busy timeout")
	ErrInvalidArgument  = errors.New("sdcard: invalid argument")
	ErrSessionMisuse    = errors.New("sdcard: write session misuse")

	// ErrNotReady is returned by I/O on a card that is not initialized or
	// failed a previous operation. Initialize recovers it.
	ErrNotReady = errors.New("sdcard: card not ready")

	// ErrWriteRejected is returned when the data response token of a
	// written block does not report acceptance.
	ErrWriteRejected = errors.New("sdcard: block write rejected")

	// ErrDataError is returned when a read answers with a data error token.
	ErrDataError = errors.New("sdcard: data error token")

	// ErrBusNotReady is returned by Transport.Select when the card does not
	// release the data line in time.
	ErrBusNotReady = errors.New("sdcard: bus not ready")
)

// CommandError reports an R1 response other than the expected one.
type CommandError struct {
	Cmd uint8 // command index, without the application marker
	App bool  // sent as an application command
	Arg uint32
	R1  byte
}

func (e *CommandError) Error() string {
	prefix := "CMD"
	if e.App {
		prefix = "ACMD"
	}
	return fmt.Sprintf("sdcard: %s%d(0x%08x) rejected: r1=0x%02x", prefix, e.Cmd, e.Arg, e.R1)
}

// Is matches ErrCommandRejected.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandRejected
}

// TokenError reports an unexpected data token or data response token.
type TokenError struct {
	Token byte
	Err   error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%v: token=0x%02x", e.Err, e.Token)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}
