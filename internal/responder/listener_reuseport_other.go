//go:build !linux && !freebsd && !darwin && !dragonfly && !netbsd && !openbsd

package responder

import "golang.org/x/sys/unix"

// controlReusePort falls back to SO_REUSEADDR only, for platforms with no
// SO_REUSEPORT equivalent.
func controlReusePort(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}
