package responder

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ListenConfig describes the listening surface: either TCP host:port, or a
// UNIX socket path with optional mode bits.
type ListenConfig struct {
	Host      string
	Port      int
	Path      string // UNIX socket path; mutually exclusive with Host/Port
	Mode      os.FileMode
	ReusePort bool
}

// Listen opens the configured listening surface. For TCP with ReusePort it
// sets the platform-appropriate socket option before bind via
// controlReusePort (listener_reuseport_*.go), so multiple daemon processes
// can share one port with kernel-level load balancing.
func Listen(cfg ListenConfig) (net.Listener, error) {
	if cfg.Path != "" {
		return listenUnix(cfg.Path, cfg.Mode)
	}
	return listenTCP(cfg.Host, cfg.Port, cfg.ReusePort)
}

func listenUnix(path string, mode os.FileMode) (net.Listener, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("responder: listen unix %s: %w", path, err)
	}
	if mode != 0 {
		if err := os.Chmod(path, mode); err != nil {
			l.Close()
			return nil, fmt.Errorf("responder: chmod %s: %w", path, err)
		}
	}
	return l, nil
}

func listenTCP(host string, port int, reusePort bool) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	if !reusePort {
		return net.Listen("tcp", addr)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = controlReusePort(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}

// syscallConn is the one method of syscall.RawConn (the raw-connection type
// net.ListenConfig.Control receives) that the reuse-port hook calls.
type syscallConn interface {
	Control(func(fd uintptr)) error
}
