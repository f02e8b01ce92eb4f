package rosnode

import (
	"context"
	"net"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/cactus/rosnode/examples/chatmsg"
	rstream "github.com/cactus/rosnode/stream"
)

// otherMsg is a second, incompatible Message type used only to exercise
// the connection-header type-mismatch path (spec §8, §4.C).
type otherMsg struct{}

func (otherMsg) Encode() ([]byte, error) { return nil, nil }
func (otherMsg) Decode([]byte) error     { return nil }
func (otherMsg) TypeName() string        { return "std_msgs/Other" }
func (otherMsg) MD5Sum() string          { return "0000000000000000000000000000000b" }

func testConfig(name string) *NodeConfig {
	cfg := NewNodeConfig(name)
	cfg.ListenHost = "127.0.0.1"
	cfg.DialTimeout = 2 * time.Second
	cfg.IOTimeout = 2 * time.Second
	return cfg
}

// noopOut returns a Stream that ends immediately, for Advertise calls in
// tests that never actually publish anything.
func noopOut() rstream.Stream[Message] {
	ch := make(chan Message)
	close(ch)
	return rstream.FromChannel[Message](ch, new(error))
}

// waitForClient waits up to 3s until topic's publication on n has at
// least one negotiated client. The pump drops messages published while
// the roster is empty, so tests wait for this before publishing.
func waitForClient(n *Node, topic string) {
	pub, found := n.publications.Get(topic)
	if !found {
		return
	}
	for deadline := time.Now().Add(3 * time.Second); pub.roster.Len() == 0 && time.Now().Before(deadline); {
		time.Sleep(10 * time.Millisecond)
	}
}

func Test010_Subscribe_rejects_duplicate_topic(t *testing.T) {

	cv.Convey("Subscribe on an already-subscribed topic should fail with ErrTopicAlreadySubscribed", t, func() {
		n := NewNode(testConfig("n1"))
		defer n.Shutdown()

		_, err := n.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldBeNil)

		_, err = n.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldEqual, ErrTopicAlreadySubscribed)
	})
}

func Test020_Advertise_rejects_duplicate_topic(t *testing.T) {

	cv.Convey("Advertise on an already-advertised topic should fail with ErrTopicAlreadyAdvertised", t, func() {
		n := NewNode(testConfig("n1"))
		defer n.Shutdown()

		err := n.Advertise("/chat", chatmsg.New(), noopOut())
		cv.So(err, cv.ShouldBeNil)

		err = n.Advertise("/chat", chatmsg.New(), noopOut())
		cv.So(err, cv.ShouldEqual, ErrTopicAlreadyAdvertised)

		port, ok := n.TopicPort("/chat")
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(port, cv.ShouldBeGreaterThan, 0)
	})
}

func Test030_TopicPort_unknown_topic(t *testing.T) {

	cv.Convey("TopicPort on a topic this node doesn't publish should report not-found", t, func() {
		n := NewNode(testConfig("n1"))
		defer n.Shutdown()

		_, ok := n.TopicPort("/nope")
		cv.So(ok, cv.ShouldBeFalse)
	})
}

func Test040_endtoend_loopback_roundtrip(t *testing.T) {

	cv.Convey("a message advertised on one node and reconciled via PublisherUpdate should arrive on the subscriber", t, func() {
		pub := NewNode(testConfig("talker"))
		sub := NewNode(testConfig("listener"))
		defer pub.Shutdown()
		defer sub.Shutdown()

		msgCh := make(chan Message, 1)
		out := rstream.FromChannel[Message](msgCh, new(error))

		err := pub.Advertise("/chat", chatmsg.New(), out)
		cv.So(err, cv.ShouldBeNil)
		port, _ := pub.TopicPort("/chat")

		stream, err := sub.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldBeNil)

		sub.PublisherUpdate("/chat", []string{LoopbackURI(port)})
		waitForClient(pub, "/chat")

		msgCh <- &chatmsg.Chat{From: "talker", Text: "hi there"}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		got, ok := stream.Next(ctx)
		cv.So(ok, cv.ShouldBeTrue)
		chat := got.(*chatmsg.Chat)
		cv.So(chat.From, cv.ShouldEqual, "talker")
		cv.So(chat.Text, cv.ShouldEqual, "hi there")
	})
}

func Test050_endtoend_type_mismatch_is_fatal_only_to_connection(t *testing.T) {

	cv.Convey("a subscriber whose message type doesn't match the publisher's should not receive anything, but the publisher should keep running", t, func() {
		pub := NewNode(testConfig("talker"))
		sub := NewNode(testConfig("listener"))
		defer pub.Shutdown()
		defer sub.Shutdown()

		msgCh := make(chan Message, 1)
		out := rstream.FromChannel[Message](msgCh, new(error))

		err := pub.Advertise("/chat", chatmsg.New(), out)
		cv.So(err, cv.ShouldBeNil)
		port, _ := pub.TopicPort("/chat")

		_, err = sub.Subscribe("/chat", otherMsg{}, func() Message { return otherMsg{} })
		cv.So(err, cv.ShouldBeNil)

		sub.PublisherUpdate("/chat", []string{LoopbackURI(port)})

		// give the mismatched reader task a moment to fail and exit; the
		// publisher's accept task must still be alive for a second, correct
		// subscriber.
		time.Sleep(200 * time.Millisecond)

		sub2 := NewNode(testConfig("listener2"))
		defer sub2.Shutdown()
		stream2, err := sub2.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldBeNil)
		sub2.PublisherUpdate("/chat", []string{LoopbackURI(port)})
		waitForClient(pub, "/chat")

		msgCh <- &chatmsg.Chat{From: "talker", Text: "still alive"}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		got, ok := stream2.Next(ctx)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(got.(*chatmsg.Chat).Text, cv.ShouldEqual, "still alive")
	})
}

func Test060_PublisherUpdate_is_idempotent_for_a_known_uri(t *testing.T) {

	cv.Convey("PublisherUpdate called twice with the same URI should spawn exactly one reader", t, func() {
		pub := NewNode(testConfig("talker"))
		sub := NewNode(testConfig("listener"))
		defer pub.Shutdown()
		defer sub.Shutdown()

		err := pub.Advertise("/chat", chatmsg.New(), noopOut())
		cv.So(err, cv.ShouldBeNil)
		port, _ := pub.TopicPort("/chat")

		_, err = sub.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldBeNil)

		uri := LoopbackURI(port)
		sub.PublisherUpdate("/chat", []string{uri})
		sub.PublisherUpdate("/chat", []string{uri})

		subRec, found := sub.subscriptions.Get("/chat")
		cv.So(found, cv.ShouldBeTrue)
		cv.So(subRec.readers.Len(), cv.ShouldEqual, 1)
	})
}

func Test070_subscription_input_buffer_is_bounded(t *testing.T) {

	cv.Convey("a Subscription's input buffer should be capped at bufferCapacity", t, func() {
		n := NewNode(testConfig("n1"))
		defer n.Shutdown()

		_, err := n.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldBeNil)

		sub, found := n.subscriptions.Get("/chat")
		cv.So(found, cv.ShouldBeTrue)
		cv.So(cap(sub.inputCh), cv.ShouldEqual, bufferCapacity)
	})
}

func Test080_Shutdown_is_idempotent_and_closes_listeners(t *testing.T) {

	cv.Convey("Shutdown should be safe to call twice and release the publisher's port", t, func() {
		n := NewNode(testConfig("n1"))

		err := n.Advertise("/chat", chatmsg.New(), noopOut())
		cv.So(err, cv.ShouldBeNil)
		port, _ := n.TopicPort("/chat")

		n.Shutdown()
		n.Shutdown() // must not panic or block

		_, err = net.Dial("tcp", LoopbackURI(port))
		cv.So(err, cv.ShouldNotBeNil) // the listener is closed

		_, err = n.Subscribe("/chat", chatmsg.New(), func() Message { return chatmsg.New() })
		cv.So(err, cv.ShouldEqual, ErrNodeShutdown)
	})
}
