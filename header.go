package rosnode

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// Header is the connection-header block exchanged once at connection
// setup (spec §4.C, §6): a set of field=value records. Order is not
// significant on read; encodeHeader writes fields in insertion order so
// tests can assert on exact bytes if they want to.
type Header struct {
	fields map[string]string
	order  []string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{fields: make(map[string]string)}
}

// Set stores field=value, recording insertion order for encodeHeader.
func (h *Header) Set(field, value string) {
	if _, exists := h.fields[field]; !exists {
		h.order = append(h.order, field)
	}
	h.fields[field] = value
}

// Get returns the value for field and whether it was present.
func (h *Header) Get(field string) (string, bool) {
	v, ok := h.fields[field]
	return v, ok
}

const (
	fieldCallerID = "callerid"
	fieldTopic    = "topic"
	fieldType     = "type"
	fieldMD5Sum   = "md5sum"
)

// encodeHeader frames h as the connection-header wire block (spec §4.C,
// §6): uint32-LE total length, then a concatenation of records, each its
// own uint32-LE length followed by ASCII "field=value".
func encodeHeader(h *Header) []byte {
	var body []byte
	for _, field := range h.order {
		rec := fmt.Sprintf("%s=%s", field, h.fields[field])
		recLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(recLen, uint32(len(rec)))
		body = append(body, recLen...)
		body = append(body, rec...)
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// sendHeader writes h to conn as the single connection-header frame.
func sendHeader(conn net.Conn, h *Header, timeout time.Duration) error {
	return writeFull(conn, encodeHeader(h), timeout)
}

// receiveHeader reads and parses the peer's connection-header frame.
func receiveHeader(conn net.Conn, timeout time.Duration) (*Header, error) {
	var lenBuf [4]byte
	if err := readFull(conn, lenBuf[:], timeout); err != nil {
		return nil, fmt.Errorf("rosnode: reading header length: %w", err)
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen > maxFrame {
		return nil, fmt.Errorf("rosnode: header length %d exceeds max %d", bodyLen, maxFrame)
	}
	body := make([]byte, bodyLen)
	if err := readFull(conn, body, timeout); err != nil {
		return nil, fmt.Errorf("rosnode: reading header body: %w", err)
	}
	return parseHeaderBody(body)
}

func parseHeaderBody(body []byte) (*Header, error) {
	h := NewHeader()
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("rosnode: truncated header record length")
		}
		recLen := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < recLen {
			return nil, fmt.Errorf("rosnode: truncated header record body")
		}
		rec := string(body[:recLen])
		body = body[recLen:]
		kv := strings.SplitN(rec, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("rosnode: malformed header record %q", rec)
		}
		h.Set(kv[0], kv[1])
	}
	return h, nil
}

// subscriberHeader builds the header a subscriber sends when connecting
// to a publisher (spec §4.C, §4.D): callerid, topic, type, md5sum.
func subscriberHeader(callerID, topic string, msgProto Message) *Header {
	h := NewHeader()
	h.Set(fieldCallerID, callerID)
	h.Set(fieldTopic, topic)
	h.Set(fieldType, msgProto.TypeName())
	h.Set(fieldMD5Sum, msgProto.MD5Sum())
	return h
}

// publisherHeader builds the header a publisher sends back after
// accepting a client: callerid, type, md5sum (no topic — the publisher
// already knows which topic its own listener serves).
func publisherHeader(callerID string, msgProto Message) *Header {
	h := NewHeader()
	h.Set(fieldCallerID, callerID)
	h.Set(fieldType, msgProto.TypeName())
	h.Set(fieldMD5Sum, msgProto.MD5Sum())
	return h
}

// validatePeerHeader checks the peer's header's type and md5sum against
// the locally expected message type (spec §4.C): both fields must be
// present and match byte-for-byte. Mismatch or missing field is fatal to
// the connection, never to the node (spec §7).
func validatePeerHeader(peer *Header, want Message) error {
	typ, ok := peer.Get(fieldType)
	if !ok {
		return fmt.Errorf("%w: missing 'type' field", ErrNegotiationFailed)
	}
	if typ != want.TypeName() {
		return fmt.Errorf("%w: type mismatch: got %q want %q", ErrNegotiationFailed, typ, want.TypeName())
	}
	md5, ok := peer.Get(fieldMD5Sum)
	if !ok {
		return fmt.Errorf("%w: missing 'md5sum' field", ErrNegotiationFailed)
	}
	if md5 != want.MD5Sum() {
		return fmt.Errorf("%w: md5sum mismatch: got %q want %q", ErrNegotiationFailed, md5, want.MD5Sum())
	}
	return nil
}
