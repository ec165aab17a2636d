//go:build !windows

package reliable

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// dupFD performs the POSIX dup(2) GhostLink's reliable-stream upgrade
// depends on: it duplicates conn's underlying file descriptor, puts the
// duplicate in non-blocking mode, and wraps it as a second, independently
// owned net.PacketConn backed by the same kernel socket. The original
// conn is left completely untouched, which is what lets the control loop
// keep using it for STUN keep-alives after the reliable layer takes over
// (invariant P6).
func dupFD(conn *net.UDPConn) (net.PacketConn, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("%w: obtain raw conn: %v", ErrPlatformUnsupported, err)
	}

	var dupErr error
	var newFD int
	err = rawConn.Control(func(fd uintptr) {
		newFD, dupErr = unix.Dup(int(fd))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: control original fd: %v", ErrPlatformUnsupported, err)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("%w: dup: %v", ErrPlatformUnsupported, dupErr)
	}

	if err := unix.SetNonblock(newFD, true); err != nil {
		unix.Close(newFD)
		return nil, fmt.Errorf("%w: set nonblocking: %v", ErrPlatformUnsupported, err)
	}

	file := os.NewFile(uintptr(newFD), "ghostlink-reliable-dup")
	dupConn, err := net.FilePacketConn(file)
	file.Close() // FilePacketConn dup's again internally; this copy is no longer needed.
	if err != nil {
		return nil, fmt.Errorf("%w: wrap duplicated fd: %v", ErrPlatformUnsupported, err)
	}
	return dupConn, nil
}
