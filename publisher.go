package rosnode

import (
	"context"
	"fmt"
	"net"

	"github.com/glycerine/idem"

	rstream "github.com/cactus/rosnode/stream"
)

// bindPublication implements the binding half of spec §4.E run_server:
// bind a TCP listener on an OS-assigned port and build the resulting
// Publication, fully populated (roster, msgProto, listener, port) and
// ready to publish into the registry. It does not start any task —
// callers must call startPublication once the Publication is visible to
// other goroutines, so a Node.Advertise racing with a snapshot never
// exposes a half-built record.
func bindPublication(cfg *NodeConfig, topic string, msgProto Message) (*Publication, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.ListenHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("rosnode: listen for topic %s: %w", topic, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	return newPublication(topic, msgProto, listener, port), nil
}

// startPublication spawns the accept task and the pump task for a
// Publication already installed in the registry. Negotiation happens on
// the freshly accepted client socket, never on the listening socket —
// the REDESIGN FLAG bug this spec calls out is not reproduced here.
func startPublication(cfg *NodeConfig, pub *Publication, out rstream.Stream[Message]) {
	go runAccept(cfg, pub)
	go runPump(cfg, pub, out)
}

// runAccept is the publisher's accept task (spec §4.E step 3): for each
// new socket, negotiate the header on that socket, allocate the client's
// bounded output buffer, spawn its writer task, and append it to the
// roster.
func runAccept(cfg *NodeConfig, pub *Publication) {
	defer pub.acceptHalt.Done.Close()

	for {
		conn, err := pub.listener.Accept()
		if err != nil {
			select {
			case <-pub.acceptHalt.ReqStop.Chan:
				return
			default:
				vv("accept on topic %s: %v", pub.Topic, err)
				return
			}
		}
		go negotiateAndServeClient(cfg, pub, conn)
	}
}

// negotiateAndServeClient runs the publisher-side half of header
// negotiation (spec §4.C, §4.E state machine: NEW -> HEADER_READ ->
// HEADER_VALIDATED -> HEADER_SENT -> STREAMING, or -> HEADER_REJECTED on
// mismatch) on the accepted client socket, then starts its writer task.
// A negotiation failure is fatal only to this connection (spec §7).
func negotiateAndServeClient(cfg *NodeConfig, pub *Publication, conn net.Conn) {
	peerHdr, err := receiveHeader(conn, cfg.IOTimeout)
	if err != nil {
		vv("publisher %s: reading client header: %v", pub.Topic, err)
		conn.Close()
		return
	}
	if err := validatePeerHeader(peerHdr, pub.msgProto); err != nil {
		vv("publisher %s: %v", pub.Topic, err)
		conn.Close()
		return
	}

	ownHdr := publisherHeader(cfg.Name, pub.msgProto)
	if err := sendHeader(conn, ownHdr, cfg.IOTimeout); err != nil {
		vv("publisher %s: sending header: %v", pub.Topic, err)
		conn.Close()
		return
	}

	c := &client{
		id:    conn.RemoteAddr().String(),
		conn:  conn,
		outCh: make(chan []byte, bufferCapacity),
		halt:  idem.NewHalter(),
		stat:  &PeerStat{},
	}
	pub.roster.Set(c.id, c)

	go runWriter(cfg, pub, c)
}

// runWriter is one client's writer task (spec §4.E step 3): it drains
// the client's output buffer into its socket in order, until halted or
// until a write fails, at which point it removes itself from the roster
// (so the pump stops targeting it) and closes the socket.
func runWriter(cfg *NodeConfig, pub *Publication, c *client) {
	defer func() {
		pub.roster.Delete(c.id)
		c.conn.Close()
		c.halt.Done.Close()
	}()

	for {
		select {
		case payload, ok := <-c.outCh:
			if !ok {
				return
			}
			if err := writeFrame(c.conn, payload, cfg.IOTimeout); err != nil {
				vv("publisher %s: writing to client %s: %v", pub.Topic, c.id, err)
				return
			}
			c.stat.recordMessage(len(payload))
		case <-c.halt.ReqStop.Chan:
			return
		}
	}
}

// runPump is the publisher's pump task (spec §4.E step 4): pull each
// message from out, encode it once, then enqueue the encoded bytes into
// every currently-live client buffer. With zero clients it must not
// block waiting for subscribers (spec §8 boundary). The chosen slow-
// client policy (see DESIGN.md Open Question decisions) is per-client
// drop-on-full isolation: a full client buffer never stalls the pump or
// any other client.
func runPump(cfg *NodeConfig, pub *Publication, out rstream.Stream[Message]) {
	defer pub.pumpHalt.Done.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-pub.pumpHalt.ReqStop.Chan
		cancel()
	}()

	for {
		msg, ok := out.Next(ctx)
		if !ok {
			return
		}
		payload, err := msg.Encode()
		if err != nil {
			vv("publisher %s: encode error: %v", pub.Topic, err)
			continue
		}

		select {
		case <-pub.pumpHalt.ReqStop.Chan:
			return
		default:
		}

		for _, id := range pub.roster.Keys() {
			c, ok := pub.roster.Get(id)
			if !ok {
				continue
			}
			select {
			case c.outCh <- payload:
			default:
				c.stat.recordDrop()
			}
		}
	}
}
