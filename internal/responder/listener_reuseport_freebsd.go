//go:build freebsd

package responder

import "golang.org/x/sys/unix"

// soReusePortLB is FreeBSD's load-balanced variant of SO_REUSEPORT.
const soReusePortLB = 0x10000

// controlReusePort sets SO_REUSEADDR and SO_REUSEPORT_LB.
func controlReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, soReusePortLB, 1)
}
