// Package notify sends service-manager readiness notifications over the
// NOTIFY_SOCKET datagram socket (sd_notify(3)'s wire protocol), generalizing
// the original daemon's asdnotify.AsyncSystemdNotifier. It is an
// out-of-scope collaborator per spec.md §1 (only its interface is
// specified); this is the interface's implementation.
package notify

import (
	"net"
	"os"
	"strings"

	"github.com/sts-resolver/daemon/internal/log"
)

// Notifier sends READY=1/STOPPING=1 datagrams to the address named by
// NOTIFY_SOCKET, if set. A Notifier built with no NOTIFY_SOCKET in the
// environment is a harmless no-op, so callers never need to branch on
// whether a service manager is supervising the process.
type Notifier struct {
	conn net.Conn
}

// New reads NOTIFY_SOCKET from the environment and dials it. A leading "@"
// denotes a Linux abstract-namespace socket, translated to the conventional
// "\0"-prefixed address net.Dial expects for unixgram.
func New() *Notifier {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return &Notifier{}
	}
	if strings.HasPrefix(addr, "@") {
		addr = "\x00" + addr[1:]
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		log.Warnf("notify: could not dial NOTIFY_SOCKET: %v", err)
		return &Notifier{}
	}
	return &Notifier{conn: conn}
}

// Ready sends "READY=1", signaling that the listener is bound and the cache
// backend's Setup has returned.
func (n *Notifier) Ready() { n.send("READY=1") }

// Stopping sends "STOPPING=1", signaling the start of graceful shutdown.
func (n *Notifier) Stopping() { n.send("STOPPING=1") }

func (n *Notifier) send(status string) {
	if n.conn == nil {
		return
	}
	if _, err := n.conn.Write([]byte(status)); err != nil {
		log.Debugf("notify: send failed: %v", err)
	}
}

// Close releases the underlying datagram socket, if any.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
