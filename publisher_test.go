package rosnode

import (
	"net"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/cactus/rosnode/examples/chatmsg"
	rstream "github.com/cactus/rosnode/stream"
)

// connectRawClient dials a publisher's listener and performs the
// subscriber-side half of header negotiation by hand, returning the raw
// net.Conn so the test can control exactly when (or whether) it reads
// frames off the socket. readBuf, if non-zero, shrinks the connection's
// kernel receive buffer so that a client which never calls Read fills
// its TCP receive window, and therefore the publisher's blocking socket
// write, after only a small amount of unread data — without it, the
// default OS receive buffer would absorb many thousands of small test
// messages before any backpressure reached the publisher's outCh.
func connectRawClient(t *testing.T, port int, proto Message, readBuf int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", LoopbackURI(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if readBuf > 0 {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetReadBuffer(readBuf)
		}
	}
	if err := sendHeader(conn, subscriberHeader("rawclient", "/chat", proto), time.Second); err != nil {
		t.Fatalf("send header: %v", err)
	}
	if _, err := receiveHeader(conn, time.Second); err != nil {
		t.Fatalf("receive header: %v", err)
	}
	return conn
}

func Test010_Publisher_SlowClientDoesNotStarveFastClient(t *testing.T) {

	cv.Convey("one client that never reads should get its messages dropped, without blocking delivery to a client that does read", t, func() {
		n := NewNode(testConfig("talker"))
		defer n.Shutdown()

		msgCh := make(chan Message, 1)
		out := rstream.FromChannel[Message](msgCh, new(error))
		err := n.Advertise("/chat", chatmsg.New(), out)
		cv.So(err, cv.ShouldBeNil)
		port, _ := n.TopicPort("/chat")

		slow := connectRawClient(t, port, chatmsg.New(), 1024)
		defer slow.Close()
		fast := connectRawClient(t, port, chatmsg.New(), 0)
		defer fast.Close()

		const total = 500
		bigText := make([]byte, 200)
		for i := range bigText {
			bigText[i] = 'x'
		}

		fastDone := make(chan int, 1)
		go func() {
			count := 0
			for count < total {
				if _, err := readFrame(fast, 2*time.Second); err != nil {
					break
				}
				count++
			}
			fastDone <- count
		}()

		// publish far more messages than either buffer can hold while slow
		// never reads a single byte off its socket.
		for i := 0; i < total; i++ {
			msgCh <- &chatmsg.Chat{From: "talker", Text: string(bigText)}
		}

		got := <-fastDone
		cv.So(got, cv.ShouldEqual, total)

		pub, found := n.publications.Get("/chat")
		cv.So(found, cv.ShouldBeTrue)

		var sawDrop bool
		pub.roster.Range(func(_ string, c *client) {
			if c.stat.Snapshot().Dropped > 0 {
				sawDrop = true
			}
		})
		cv.So(sawDrop, cv.ShouldBeTrue)
	})
}

func Test020_Publisher_cleanup_closes_all_client_connections(t *testing.T) {

	cv.Convey("Shutdown should close every accepted client connection", t, func() {
		n := NewNode(testConfig("talker"))

		out := rstream.FromChannel[Message](make(chan Message), new(error))
		err := n.Advertise("/chat", chatmsg.New(), out)
		cv.So(err, cv.ShouldBeNil)
		port, _ := n.TopicPort("/chat")

		conn := connectRawClient(t, port, chatmsg.New(), 0)
		defer conn.Close()

		n.Shutdown()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 1)
		_, err = conn.Read(buf)
		cv.So(err, cv.ShouldNotBeNil) // EOF: the server closed its side
	})
}
