// Package rosnode implements the client-side runtime of a TCPROS
// publish/subscribe node: the node state machine and topic registry, the
// TCPROS wire transport (connection-header negotiation, the publisher's
// accept/fan-out server, subscriber connection threads, and binary
// message framing), and the glue that drives user-supplied message
// streams across goroutine boundaries.
//
// The master/slave XML-RPC layer, message code generation, and stream
// combinators are out of scope here and are expected to live in separate
// packages built on top of this one (see masterstub for a minimal stand-in
// used by this repo's own tests and demo).
package rosnode
