package rosnode

import "errors"

// Message is the contract the out-of-scope message code generator
// supplies for every message type T (spec §3): a typename, an MD5
// signature of the schema, and an encoder/decoder pair. The wire codec
// and connection-header negotiation in this package depend only on this
// interface, never on a concrete message type.
type Message interface {
	// Encode returns the payload bytes for this message (no framing).
	Encode() ([]byte, error)

	// Decode populates the receiver from payload bytes.
	Decode(payload []byte) error

	// TypeName is the message's human-readable type name, e.g. "std_msgs/String".
	TypeName() string

	// MD5Sum is the message schema's MD5 signature, as a lowercase hex string.
	MD5Sum() string
}

// NewMessageFunc constructs a zero-value Message of a concrete type, so
// that decode loops can allocate fresh instances without reflection.
type NewMessageFunc func() Message

var (
	// ErrTopicAlreadySubscribed is returned by Node.Subscribe when the
	// topic already has a subscription (spec §7, configuration error).
	ErrTopicAlreadySubscribed = errors.New("rosnode: topic already subscribed")

	// ErrTopicAlreadyAdvertised is returned by Node.Advertise when the
	// topic already has a publication.
	ErrTopicAlreadyAdvertised = errors.New("rosnode: topic already advertised")

	// ErrNegotiationFailed is returned by a connection's header exchange
	// when the peer's type or md5sum does not match (spec §4.C, §7).
	ErrNegotiationFailed = errors.New("rosnode: connection header negotiation failed")

	// ErrNodeShutdown is returned by operations attempted after Shutdown.
	ErrNodeShutdown = errors.New("rosnode: node is shut down")
)
