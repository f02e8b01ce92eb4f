package rosnode

import (
	"net"
	"sync"
	"time"

	"github.com/glycerine/idem"

	"github.com/cactus/rosnode/internal/syncomap"
)

// PeerStat is the per-peer send/receive statistics named in spec §3/§8:
// bytes, messages, and last-seen time, guarded by its own mutex so
// readers (snapshot_*) and the transport tasks that bump it never race.
type PeerStat struct {
	mu       sync.Mutex
	Messages uint64
	Bytes    uint64
	Dropped  uint64 // publisher side only: messages dropped for a full client buffer
	LastSeen time.Time
}

func (p *PeerStat) recordMessage(n int) {
	p.mu.Lock()
	p.Messages++
	p.Bytes += uint64(n)
	p.LastSeen = time.Now()
	p.mu.Unlock()
}

func (p *PeerStat) recordDrop() {
	p.mu.Lock()
	p.Dropped++
	p.mu.Unlock()
}

// Snapshot returns a copy of the current counters, safe to read after the
// peer has disconnected.
func (p *PeerStat) Snapshot() PeerStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerStat{Messages: p.Messages, Bytes: p.Bytes, Dropped: p.Dropped, LastSeen: p.LastSeen}
}

// peerReader is one subscriber-side reader task: the URI it reads from
// and the halter that cancels it. Its entry in the Subscription's
// readers map (the known-URI set) is kept after the task exits, on a
// dial, negotiation or read error or a clean EOF, so a later
// PublisherUpdate naming the same URI does not start a second reader.
type peerReader struct {
	uri  string
	halt *idem.Halter
	stat *PeerStat
}

// Subscription is the subscriber-side per-topic record (spec §3): the
// message type, the bounded input buffer (exposed to the user as a
// Stream), the known-publisher-URI set, and one reader task per known URI.
type Subscription struct {
	Topic    string
	msgProto Message
	newMsg   NewMessageFunc

	inputCh chan Message // capacity == bufferCapacity

	readers *syncomap.Map[string, *peerReader] // URI -> reader task
}

func newSubscription(topic string, msgProto Message, newMsg NewMessageFunc) *Subscription {
	return &Subscription{
		Topic:    topic,
		msgProto: msgProto,
		newMsg:   newMsg,
		inputCh:  make(chan Message, bufferCapacity),
		readers:  syncomap.New[string, *peerReader](),
	}
}

// KnownURIs returns the subscription's current known-publisher-URI set.
func (s *Subscription) KnownURIs() []string {
	return s.readers.Keys()
}

// PeerStats returns a snapshot of per-URI receive statistics.
func (s *Subscription) PeerStats() map[string]PeerStat {
	out := make(map[string]PeerStat)
	s.readers.Range(func(uri string, r *peerReader) {
		out[uri] = r.stat.Snapshot()
	})
	return out
}

// client is one accepted subscriber connection on the publisher side
// (spec §3): its bounded output buffer of encoded payloads, and the
// cleanup handle for its socket and writer task.
type client struct {
	id    string // remote address; roster key
	conn  net.Conn
	outCh chan []byte // capacity == bufferCapacity
	halt  *idem.Halter
	stat  *PeerStat
}

// Publication is the publisher-side per-topic record (spec §3): the
// message type, the listening port, the live client roster, and the
// cleanup handle for the accept task, pump task, and listening socket.
type Publication struct {
	Topic    string
	msgProto Message

	listener net.Listener
	port     int

	roster *syncomap.Map[string, *client]

	acceptHalt *idem.Halter
	pumpHalt   *idem.Halter
}

func newPublication(topic string, msgProto Message, listener net.Listener, port int) *Publication {
	return &Publication{
		Topic:      topic,
		msgProto:   msgProto,
		listener:   listener,
		port:       port,
		roster:     syncomap.New[string, *client](),
		acceptHalt: idem.NewHalter(),
		pumpHalt:   idem.NewHalter(),
	}
}

// Port returns the TCP port the publication's server listens on.
func (p *Publication) Port() int { return p.port }

// PeerStats returns a snapshot of per-client send statistics.
func (p *Publication) PeerStats() map[string]PeerStat {
	out := make(map[string]PeerStat)
	p.roster.Range(func(id string, c *client) {
		out[id] = c.stat.Snapshot()
	})
	return out
}

// cleanup tears down every client, the pump, the accept task, and the
// listening socket (spec §4.E step 5, §5 cancellation, §9 — this
// implementation also cancels the pump, which the original source it was
// distilled from neglected to do).
func (p *Publication) cleanup() {
	p.pumpHalt.ReqStop.Close()
	<-p.pumpHalt.Done.Chan

	p.acceptHalt.ReqStop.Close()
	p.listener.Close()
	<-p.acceptHalt.Done.Chan

	// Collect the clients first and wait on them outside Range: each
	// writer removes itself from the roster before closing Done, which
	// needs the lock Range holds.
	var clients []*client
	p.roster.Range(func(_ string, c *client) {
		clients = append(clients, c)
	})
	for _, c := range clients {
		c.halt.ReqStop.Close()
		c.conn.Close()
	}
	for _, c := range clients {
		<-c.halt.Done.Chan
	}
}
