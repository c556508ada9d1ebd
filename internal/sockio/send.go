// Package sockio writes buffers to raw connections the way the fault scenarios need.
package sockio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ByteByByteLimit is the buffer size above which byte-by-byte sending falls back to a bulk write.
const ByteByByteLimit = 16 * 1024

// ErrConnectionBroken is returned when a write makes no progress.
var ErrConnectionBroken = errors.New("socket connection broken")

// SendResult reports how far a send got.
type SendResult struct {
	Sent    int
	Partial bool
	Err     error
}

// Send writes the whole buffer.
func Send(w io.Writer, msg []byte) error {
	total := 0
	for total < len(msg) {
		n, err := w.Write(msg[total:])
		if err != nil {
			return fmt.Errorf("send failed after %d of %d bytes: %w", total, len(msg), err)
		}
		if n == 0 {
			return ErrConnectionBroken
		}
		total += n
	}
	return nil
}

// SendByteByByte writes one byte per call so the peer sees maximally fragmented input.
// Buffers over ByteByByteLimit are written in bulk. A peer that drops the connection
// midway is reported through a partial result rather than an error return.
func SendByteByByte(w io.Writer, msg []byte) SendResult {
	if len(msg) > ByteByByteLimit {
		if err := Send(w, msg); err != nil {
			return SendResult{Partial: true, Err: err}
		}
		return SendResult{Sent: len(msg)}
	}

	for i := range msg {
		n, err := w.Write(msg[i : i+1])
		if err == nil && n == 0 {
			err = ErrConnectionBroken
		}
		if err != nil {
			return SendResult{Sent: i, Partial: true, Err: err}
		}
	}
	return SendResult{Sent: len(msg)}
}

// SendAndShutdown writes msg and half-closes the write side.
// Errors are returned even though fault scenarios usually expect them.
func SendAndShutdown(conn net.Conn, msg []byte) error {
	if err := Send(conn, msg); err != nil {
		return err
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// SendAndWait writes msg and then holds the connection open for d.
func SendAndWait(conn net.Conn, msg []byte, d time.Duration) error {
	if err := Send(conn, msg); err != nil {
		return err
	}
	time.Sleep(d)
	return nil
}
