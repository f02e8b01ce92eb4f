package rosnode

import (
	"net"
	"strconv"
	"time"
)

// bufferCapacity is the fixed bound on every input/output buffer in the
// system — subscriber input buffers and per-client publisher output
// buffers alike. Spec §3/§5/§9: this is the single backpressure
// mechanism and must never be substituted with an unbounded queue.
const bufferCapacity = 10

// NodeConfig is construction-time configuration for a Node. Shaped after
// this teacher's own Config/NewConfig (config.go, used from cli.go as
// `cfg := rpc25519.NewConfig()`), and after NodeConf in the viam
// ros-module reference (other_examples/brokenrobotz-viam-ros-module__node.go),
// which names the same master-address/host/port fields a ROS node needs.
type NodeConfig struct {
	// Name is this node's identifier, sent as callerid during header
	// negotiation.
	Name string

	// MasterURI is the address of the out-of-scope XML-RPC master. The
	// core only stores and reports it via MasterURI(); it does not dial
	// it itself.
	MasterURI string

	// ListenHost is the interface publisher servers bind on. Empty means
	// all interfaces.
	ListenHost string

	// DialTimeout bounds a subscriber's initial TCP connect.
	DialTimeout time.Duration

	// IOTimeout bounds each individual socket read/write once connected.
	// Zero means no deadline.
	IOTimeout time.Duration
}

// NewNodeConfig returns a NodeConfig for name with this package's default
// settings. A NodeConfig built by hand is used as given: fields left at
// zero are not replaced by these defaults.
func NewNodeConfig(name string) *NodeConfig {
	return &NodeConfig{
		Name:        name,
		ListenHost:  "0.0.0.0",
		DialTimeout: 10 * time.Second,
		IOTimeout:   0,
	}
}

// LoopbackURI formats port as a host:port address on the loopback
// interface — the shape Node.TopicPort's result needs to become a
// publisher URI a master (or masterstub) hands to subscribers.
func LoopbackURI(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
