// Package protocol implements the framed serial link between a host and
// the SD bridge firmware.
//
// A frame is
//
//	len | seq | payload | crc16_hi | crc16_lo | 0x7E
//
// where len counts the whole frame and the CRC covers len, seq and the
// payload. Sequence numbers carry 0x10 in the high nibble. The device
// acknowledges every frame with an empty frame holding the next sequence
// it expects. Payloads are a VLQ command id followed by VLQ arguments.
package protocol

import "errors"

// Version is the bridge protocol version reported in the dictionary.
const Version = "sdspi-bridge-1"

const (
	HeaderSize  = 2
	TrailerSize = 3
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64
	// PayloadMax is the largest payload a single frame carries.
	PayloadMax = FrameMax - FrameMin

	posLen = 0
	posSeq = 1

	SyncByte = 0x7E
	SeqDest  = 0x10
	SeqMask  = 0x0F
)

var (
	ErrInvalidVLQ     = errors.New("protocol: invalid VLQ encoding")
	ErrShortPayload   = errors.New("protocol: payload too short")
	ErrFrameTooLong   = errors.New("protocol: frame too long")
	ErrTimeout        = errors.New("protocol: timeout")
	ErrClosed         = errors.New("protocol: transport closed")
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrHandlerPanic   = errors.New("protocol: command handler panicked")
)

// NextSeq returns the sequence number following seq.
func NextSeq(seq byte) byte {
	return (seq+1)&SeqMask | SeqDest
}
