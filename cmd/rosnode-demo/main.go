// Command rosnode-demo wires a publisher Node and a subscriber Node
// together through masterstub, in a single process, and prints
// round-trip latency percentiles on exit. It plays the same
// demonstration role this teacher's own cmd/cli/client.go plays against
// cmd/srv/server.go: a small runnable example of the library wired
// end-to-end, not a production tool.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	tdigest "github.com/caio/go-tdigest"

	"github.com/cactus/rosnode"
	"github.com/cactus/rosnode/examples/chatmsg"
	"github.com/cactus/rosnode/masterstub"
	rstream "github.com/cactus/rosnode/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		topic    = flag.String("topic", "/chat", "topic name to publish and subscribe on")
		count    = flag.Int("count", 20, "number of messages to publish")
		interval = flag.Duration("interval", 20*time.Millisecond, "delay between published messages")
	)
	flag.Parse()

	master := masterstub.New()
	pubNode := rosnode.NewNode(rosnode.NewNodeConfig("talker"))
	subNode := rosnode.NewNode(rosnode.NewNodeConfig("listener"))

	run(pubNode, subNode, master, *topic, *count, *interval)
}

// run drives the demo: advertise on pubNode, subscribe on subNode,
// reconcile them through master, publish count messages at interval,
// and report latency percentiles computed from a tdigest fed by the
// subscriber as it receives each message — the same operational-
// reporting role this teacher's cmd/cli/client.go gives its own
// *tdigest.TDigest of RPC round-trip times.
func run(pubNode, subNode *rosnode.Node, master *masterstub.Master, topic string, count int, interval time.Duration) {
	msgCh := make(chan rosnode.Message, 1)
	out := rstream.FromChannel[rosnode.Message](msgCh, new(error))

	if err := pubNode.Advertise(topic, chatmsg.New(), out); err != nil {
		log.Fatalf("advertise: %v", err)
	}
	port, _ := pubNode.TopicPort(topic)

	msgs, err := subNode.Subscribe(topic, chatmsg.New(), func() rosnode.Message { return chatmsg.New() })
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	master.RegisterSubscriber(topic, subNode)
	master.RegisterPublisher(topic, rosnode.LoopbackURI(port))

	// The subscriber's reader connects asynchronously, and the pump drops
	// messages published while it has no clients: wait for the connection.
	for {
		snaps := pubNode.SnapshotPublications()
		if len(snaps) > 0 && len(snaps[0].PeerStats) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	digest, err := tdigest.New()
	if err != nil {
		log.Fatalf("tdigest.New: %v", err)
	}

	sent := make(chan time.Time, count)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := 0; i < count; i++ {
			start := <-sent
			msg, ok := msgs.Next(ctx)
			if !ok {
				log.Printf("subscriber stream ended early: %v", msgs.Err())
				return
			}
			chat := msg.(*chatmsg.Chat)
			log.Printf("received %q from %s", chat.Text, chat.From)
			if err := digest.Add(float64(time.Since(start).Microseconds())); err != nil {
				log.Printf("tdigest.Add: %v", err)
			}
		}
	}()

	for i := 0; i < count; i++ {
		sent <- time.Now()
		msgCh <- &chatmsg.Chat{From: "talker", Text: "hello"}
		time.Sleep(interval)
	}

	<-done

	p50 := digest.Quantile(0.5)
	p99 := digest.Quantile(0.99)
	log.Printf("round-trip latency (us): p50=%.0f p99=%.0f", p50, p99)

	pubNode.Shutdown()
	subNode.Shutdown()
}
