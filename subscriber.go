package rosnode

import (
	"context"
	"fmt"
	"net"

	"github.com/glycerine/idem"

	rstream "github.com/cactus/rosnode/stream"
)

// subscribeStream implements spec §4.D subscribe_stream: connect to uri,
// negotiate the connection header, and return a Stream decoding the
// peer's frames. ctx bounds only the dial. The caller owns the returned
// net.Conn's lifetime: closing conn unblocks a pending read (runReader
// does so when its halt's ReqStop closes).
func subscribeStream(ctx context.Context, cfg *NodeConfig, uri, topic string, msgProto Message, newMsg NewMessageFunc, onPayload func(n int)) (net.Conn, rstream.Stream[Message], error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", uri)
	if err != nil {
		return nil, nil, fmt.Errorf("rosnode: dial %s: %w", uri, err)
	}

	hdr := subscriberHeader(cfg.Name, topic, msgProto)
	if err := sendHeader(conn, hdr, cfg.IOTimeout); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("rosnode: sending header to %s: %w", uri, err)
	}

	peerHdr, err := receiveHeader(conn, cfg.IOTimeout)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("rosnode: receiving header from %s: %w", uri, err)
	}
	if err := validatePeerHeader(peerHdr, msgProto); err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, decodeStream(conn, newMsg, cfg.IOTimeout, onPayload), nil
}

// addSource spawns the reader task for one newly-announced publisher URI
// on sub (spec §4.D add_source): it connects, negotiates, and feeds every
// decoded message into sub's bounded input buffer, blocking when that
// buffer is full — the backpressure surface named in spec §5.
//
// addSource does its own atomic reservation, so PublisherUpdate (spec
// §4.F) can call it unconditionally for every URI it's told about: a uri
// already known is a no-op. The reservation stores a fully-built
// *peerReader before it ever becomes visible to another goroutine, so a
// concurrent Subscription.PeerStats (spec §4.F snapshot_subscriptions)
// never observes a half-built record, and the task is only spawned once
// the reservation is confirmed to be this call's own.
func addSource(cfg *NodeConfig, sub *Subscription, uri string) {
	halt := idem.NewHalter()
	stat := &PeerStat{}
	r := &peerReader{uri: uri, halt: halt, stat: stat}

	if _, inserted := sub.readers.GetOrInsert(uri, func() *peerReader { return r }); !inserted {
		return
	}

	go func() {
		defer halt.Done.Close()
		runReader(cfg, sub, uri, halt, stat)
	}()
}

func runReader(cfg *NodeConfig, sub *Subscription, uri string, halt *idem.Halter, stat *PeerStat) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-halt.ReqStop.Chan:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, msgs, err := subscribeStream(ctx, cfg, uri, sub.Topic, sub.msgProto, sub.newMsg, func(n int) {
		stat.recordMessage(n)
	})
	if err != nil {
		vv("reader for %s/%s: %v", sub.Topic, uri, err)
		return
	}
	defer conn.Close()

	go func() {
		<-halt.ReqStop.Chan
		conn.Close()
	}()

	for {
		msg, ok := msgs.Next(ctx)
		if !ok {
			if err := msgs.Err(); err != nil {
				vv("reader for %s/%s: %v", sub.Topic, uri, err)
			}
			return
		}
		select {
		case sub.inputCh <- msg:
		case <-halt.ReqStop.Chan:
			return
		}
	}
}
