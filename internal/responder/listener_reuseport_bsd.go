//go:build darwin || dragonfly || netbsd || openbsd

package responder

import "golang.org/x/sys/unix"

// controlReusePort sets SO_REUSEADDR and SO_REUSEPORT.
func controlReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
