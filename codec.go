package rosnode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	rstream "github.com/cactus/rosnode/stream"
)

// maxFrame guards against a corrupt or malicious length prefix causing an
// unbounded allocation. TCPROS messages are not expected to exceed this
// in practice; a legitimate publisher producing bigger messages would
// need a larger bound, but nothing in spec.md calls for one.
const maxFrame = 64 * 1024 * 1024

// encodeFrame produces the wire bytes for one message frame: a
// little-endian uint32 length prefix followed by the encoded payload
// (spec §4.B, §6). Framing is explicit little-endian per the REDESIGN
// FLAGS endianness note — never host byte order.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// writeFrame writes one framed message to conn.
func writeFrame(conn net.Conn, payload []byte, timeout time.Duration) error {
	return writeFull(conn, encodeFrame(payload), timeout)
}

// readFrame reads one length-prefixed frame from conn: 4 bytes of
// little-endian length, then that many payload bytes. io.EOF on the
// length read (a clean disconnect between frames) is returned verbatim
// so callers can distinguish "stream ended cleanly" from "stream broke
// mid-frame".
func readFrame(conn net.Conn, timeout time.Duration) (payload []byte, err error) {
	var lenBuf [4]byte
	if err := readFull(conn, lenBuf[:], timeout); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("rosnode: frame length %d exceeds max %d", n, maxFrame)
	}
	payload = make([]byte, n)
	if err := readFull(conn, payload, timeout); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("rosnode: connection closed mid-frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}

// decodeStream lazily reads frames off conn, decoding each into a fresh
// Message via newMsg, and exposes them as a Stream (spec §4.B
// decode_stream). End-of-stream on the socket (io.EOF on a frame
// boundary) ends the Stream cleanly; a parse error or mid-frame EOF ends
// it with that error recorded in Err() — "fatal to that reader task"
// (spec §4.B, §7) is the caller's job: the reader task that owns conn
// exits when this Stream ends.
func decodeStream(conn net.Conn, newMsg NewMessageFunc, ioTimeout time.Duration, onPayload func(n int)) rstream.Stream[Message] {
	return rstream.FromFunc(func(_ context.Context) (Message, bool, error) {
		payload, err := readFrame(conn, ioTimeout)
		if err != nil {
			if err == io.EOF {
				return nil, false, nil
			}
			return nil, false, err
		}
		if onPayload != nil {
			onPayload(len(payload))
		}
		msg := newMsg()
		if err := msg.Decode(payload); err != nil {
			return nil, false, fmt.Errorf("rosnode: decode error: %w", err)
		}
		return msg, true, nil
	})
}
