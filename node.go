package rosnode

import (
	"sync"

	"github.com/cactus/rosnode/internal/syncomap"
	rstream "github.com/cactus/rosnode/stream"
)

// Node is the per-process state named in spec §3: node name, master URI,
// and the topic→Subscription / topic→Publication mappings. It is created
// by RunNode (or directly by NewNode) and lives for the node's run.
//
// The topic maps are exclusively owned by Node; transports only ever
// hold the Subscription/Publication record they were given at spawn
// time, never a second handle into the map (spec §3 Ownership).
type Node struct {
	cfg *NodeConfig

	mu       sync.Mutex // guards shutdown only; map mutation is single-writer per spec §5
	shutdown bool

	subscriptions *syncomap.Map[string, *Subscription]
	publications  *syncomap.Map[string, *Publication]
}

// newNode builds the initial node state (spec §4.G step 1): name,
// master URI, empty subscription/publication maps.
func newNode(cfg *NodeConfig) *Node {
	return &Node{
		cfg:           cfg,
		subscriptions: syncomap.New[string, *Subscription](),
		publications:  syncomap.New[string, *Publication](),
	}
}

// NewNode builds a Node directly, for callers that want to drive
// Subscribe/Advertise/PublisherUpdate themselves instead of going
// through RunNode's program/facade split — the shape cmd/rosnode-demo
// and the test suite use.
func NewNode(cfg *NodeConfig) *Node { return newNode(cfg) }

// Subscribe implements spec §4.F subscribe(topic, T) → stream<T>: fails
// if topic is already subscribed; otherwise creates the bounded input
// buffer, wraps it in a Stream, creates the Subscription record with an
// empty known-URI set, and returns the Stream.
//
// proto is a zero-value instance of the message type, used only to read
// its TypeName/MD5Sum during negotiation; newMsg allocates fresh
// instances for each decoded frame.
func (n *Node) Subscribe(topic string, proto Message, newMsg NewMessageFunc) (rstream.Stream[Message], error) {
	if n.isShutdown() {
		return nil, ErrNodeShutdown
	}
	sub := newSubscription(topic, proto, newMsg)
	if _, inserted := n.subscriptions.GetOrInsert(topic, func() *Subscription { return sub }); !inserted {
		return nil, ErrTopicAlreadySubscribed
	}

	return rstream.FromChannel[Message](sub.inputCh, new(error)), nil
}

// Advertise implements spec §4.F advertise(topic, stream<T>): fails if
// topic is already advertised; otherwise binds the publisher's listener,
// installs the fully-built Publication, and starts its accept and pump
// tasks.
//
// The Publication inserted into the registry is always complete —
// roster, msgProto, listener, and port are all set before it becomes
// visible to any other goroutine — so a concurrent SnapshotPublications
// call (spec §4.F, run from the RPC facade while Advertise is still
// binding) can never observe a half-built record. Binding the listener
// before the duplicate check means two concurrent Advertise calls on the
// same topic can both bind a port before one of them loses the race; the
// loser closes its listener and returns ErrTopicAlreadyAdvertised.
func (n *Node) Advertise(topic string, proto Message, out rstream.Stream[Message]) error {
	if n.isShutdown() {
		return ErrNodeShutdown
	}

	pub, err := bindPublication(n.cfg, topic, proto)
	if err != nil {
		return err
	}

	if _, inserted := n.publications.GetOrInsert(topic, func() *Publication { return pub }); !inserted {
		pub.listener.Close()
		return ErrTopicAlreadyAdvertised
	}

	startPublication(n.cfg, pub, out)
	return nil
}

// AdvertiseDeferred implements spec §4.F advertise_deferred: lifts a
// Stream of deferred values (§4.A helper) into a Stream<T>, then calls
// Advertise.
func (n *Node) AdvertiseDeferred(topic string, proto Message, out rstream.Stream[rstream.Deferred[Message]]) error {
	return n.Advertise(topic, proto, rstream.Lift(out))
}

// SubscriptionSnapshot is one row of snapshot_subscriptions (spec §4.F).
type SubscriptionSnapshot struct {
	Topic     string
	TypeName  string
	PeerStats map[string]PeerStat
}

// PublicationSnapshot is one row of snapshot_publications (spec §4.F).
type PublicationSnapshot struct {
	Topic     string
	TypeName  string
	Port      int
	PeerStats map[string]PeerStat
}

// SnapshotSubscriptions implements spec §4.F snapshot_subscriptions.
func (n *Node) SnapshotSubscriptions() []SubscriptionSnapshot {
	var out []SubscriptionSnapshot
	n.subscriptions.Range(func(topic string, sub *Subscription) {
		out = append(out, SubscriptionSnapshot{
			Topic:     topic,
			TypeName:  sub.msgProto.TypeName(),
			PeerStats: sub.PeerStats(),
		})
	})
	return out
}

// SnapshotPublications implements spec §4.F snapshot_publications.
func (n *Node) SnapshotPublications() []PublicationSnapshot {
	var out []PublicationSnapshot
	n.publications.Range(func(topic string, pub *Publication) {
		out = append(out, PublicationSnapshot{
			Topic:     topic,
			TypeName:  pub.msgProto.TypeName(),
			Port:      pub.Port(),
			PeerStats: pub.PeerStats(),
		})
	})
	return out
}

// MasterURI implements spec §4.F master_uri.
func (n *Node) MasterURI() string { return n.cfg.MasterURI }

// TopicPort implements spec §4.F topic_port: returns the publisher port
// for topic, or ok=false if topic is not advertised by this node.
func (n *Node) TopicPort(topic string) (port int, ok bool) {
	pub, found := n.publications.Get(topic)
	if !found {
		return 0, false
	}
	return pub.Port(), true
}

// PublisherUpdate implements spec §4.F publisher_update, the peer
// reconciliation algorithm: look up the subscription, and for every URI
// in uris not already known, spawn a reader task and add it to the known
// set. Each URI is checked and added in one locked step of its own (see
// addSource), so at most one reader task is ever spawned per URI and a
// later call sees every URI an earlier call added. The call as a whole is
// not one atomic step: a concurrent call can observe some of this call's
// URIs added and others not yet.
//
// This is deliberately additive-only: a later call that omits a
// previously-known URI does not tear down that URI's reader (spec §4.F
// tie-break, §9 Open Question — left undecided by the source, and not
// invented here).
func (n *Node) PublisherUpdate(topic string, uris []string) {
	sub, found := n.subscriptions.Get(topic)
	if !found {
		return
	}
	for _, uri := range uris {
		addSource(n.cfg, sub, uri)
	}
}

// Shutdown implements spec §4.F shutdown: runs every publication's
// cleanup (tearing down writers, accept task, pump task, and the
// listening socket), then asks every subscriber reader task to stop,
// which closes its socket. It does not wait for the reader tasks to
// exit; messages still in bounded buffers are discarded.
func (n *Node) Shutdown() {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return
	}
	n.shutdown = true
	n.mu.Unlock()

	n.publications.Range(func(_ string, pub *Publication) {
		pub.cleanup()
	})

	n.subscriptions.Range(func(_ string, sub *Subscription) {
		sub.readers.Range(func(_ string, r *peerReader) {
			r.halt.ReqStop.Close()
		})
	})
}

func (n *Node) isShutdown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shutdown
}
