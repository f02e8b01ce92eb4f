package rosnode

import (
	"fmt"
	"net"
	"os"
	"path"
	"runtime"
	"time"
)

// for debug tracing of the node/transport internals. Off by default;
// flip with SetVerbose(true) or ROSNODE_VERBOSE=1 in the environment.
var verbose = os.Getenv("ROSNODE_VERBOSE") != ""

// SetVerbose turns the package's vv() debug trace on or off.
func SetVerbose(on bool) { verbose = on }

// vv is a time-stamped debug printf, gated by verbose. This is the same
// low-ceremony trace idiom this teacher uses throughout its own transport
// code (see tube/vprint.go, and its use from cmd/selfy, cmd/cli) rather
// than routing through the standard log package for every hot-path trace.
func vv(format string, a ...interface{}) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s "+format+"\n", append([]interface{}{ts(), fileLine(2)}, a...)...)
}

func ts() string {
	return time.Now().Format("2006-01-02T15:04:05.000000Z07:00")
}

func fileLine(depth int) string {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", path.Base(file), line)
}

// panicOn panics if err is non-nil. Reserved, per this teacher's own
// convention, for invariant violations during setup that indicate a bug
// in this package, never for caller-triggered conditions like a duplicate
// topic registration (those return a plain error).
func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}

// readFull reads exactly len(buf) bytes from conn, applying an optional
// read deadline. Adapted from this teacher's common.go readFull, which
// does the identical full-read-with-deadline loop for its own (unrelated)
// big-endian uint64 framing.
func readFull(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}

// writeFull writes all of buf to conn, applying an optional write deadline.
func writeFull(conn net.Conn, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}
