// Package masterstub is a minimal in-process stand-in for the
// out-of-scope ROS master's registration/publisherUpdate duties (spec
// §4.F, §6, and SPEC_FULL.md §4.H). It is not a ROS master: it has no
// XML-RPC, no parameter server, no multi-master federation. It exists
// so tests and cmd/rosnode-demo can exercise Node.PublisherUpdate
// end-to-end without standing up a real master.
//
// Registration is tracked over a loopback HTTP/JSON endpoint
// (net/http + encoding/json) the way a real slave API would be called,
// but the publisherUpdate callback itself is delivered in-process
// directly against the subscriber's *rosnode.Node — this repo does not
// implement the Node-side slave HTTP API that a real master would call
// back into, since that surface is out of scope (spec §1).
package masterstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/cactus/rosnode"
)

// Master tracks, per topic, the set of registered publisher URIs and
// the set of subscriber Nodes waiting to be told about them.
type Master struct {
	mu          sync.Mutex
	publishers  map[string][]string
	subscribers map[string][]*rosnode.Node
}

// New returns an empty Master.
func New() *Master {
	return &Master{
		publishers:  make(map[string][]string),
		subscribers: make(map[string][]*rosnode.Node),
	}
}

// RegisterPublisher records uri as a publisher of topic and immediately
// pushes the updated publisher list to every subscriber already
// registered for that topic — the publisherUpdate call a real master
// makes against each subscriber's slave API (spec §4.F), delivered here
// as a direct in-process call.
func (m *Master) RegisterPublisher(topic, uri string) {
	m.mu.Lock()
	m.publishers[topic] = appendUnique(m.publishers[topic], uri)
	uris := append([]string(nil), m.publishers[topic]...)
	subs := append([]*rosnode.Node(nil), m.subscribers[topic]...)
	m.mu.Unlock()

	for _, n := range subs {
		n.PublisherUpdate(topic, uris)
	}
}

// RegisterSubscriber records n as a subscriber of topic and immediately
// delivers the currently-known publisher set via one PublisherUpdate
// call, the way a real master answers registerSubscriber with the
// current publisher list (spec §4.F).
func (m *Master) RegisterSubscriber(topic string, n *rosnode.Node) {
	m.mu.Lock()
	m.subscribers[topic] = append(m.subscribers[topic], n)
	uris := append([]string(nil), m.publishers[topic]...)
	m.mu.Unlock()

	if len(uris) > 0 {
		n.PublisherUpdate(topic, uris)
	}
}

type registerPublisherRequest struct {
	Topic string `json:"topic"`
	URI   string `json:"uri"`
}

// Handler returns an http.Handler exposing registerPublisher over
// loopback HTTP/JSON, the transport shape SPEC_FULL.md §4.H calls for.
// registerSubscriber is deliberately not exposed over HTTP: it needs a
// live *rosnode.Node, which has no wire representation, so callers that
// want a subscriber registered must call RegisterSubscriber directly
// in-process (as cmd/rosnode-demo and the test suite do).
func (m *Master) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/registerPublisher", m.handleRegisterPublisher)
	return mux
}

func (m *Master) handleRegisterPublisher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req registerPublisherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Topic == "" || req.URI == "" {
		http.Error(w, "topic and uri are required", http.StatusBadRequest)
		return
	}
	m.RegisterPublisher(req.Topic, req.URI)
	w.WriteHeader(http.StatusNoContent)
}

func appendUnique(uris []string, uri string) []string {
	for _, existing := range uris {
		if existing == uri {
			return uris
		}
	}
	return append(uris, uri)
}
