package notify

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_NoSocket_IsNoop(t *testing.T) {
	os.Unsetenv("NOTIFY_SOCKET")
	n := New()
	n.Ready()
	n.Stopping()
	n.Close()
}

func TestNew_SendsReady(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")
	laddr, err := net.ResolveUnixAddr("unixgram", sockPath)
	assert.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", laddr)
	assert.NoError(t, err)
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sockPath)
	n := New()
	defer n.Close()

	n.Ready()

	buf := make([]byte, 32)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	nRead, _ := conn.Read(buf)
	assert.Equal(t, "READY=1", string(buf[:nRead]))
}
