//go:build linux

package responder

import "golang.org/x/sys/unix"

// controlReusePort sets SO_REUSEADDR and SO_REUSEPORT, so multiple
// processes can bind the same port and the kernel load-balances accepts
// across them.
func controlReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
