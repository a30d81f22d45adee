// Package sdcard drives SD and MMC cards in SPI mode.
//
// A Card turns a byte oriented Transport into addressable 512 byte sector
// access. Initialize negotiates the card generation and addressing mode and
// reads the CSD register for the capacity. Read streams any byte range of
// the card through single block reads. Writes run in a session opened with
// WriteInitiate, fed by any number of Write calls and closed by WriteFinalize,
// which maps onto one multiple block write on the card.
//
// A Card is not safe for concurrent use. Callers sharing a card between
// goroutines hold a lock around every call, see package diskio.
package sdcard
