//go:build windows

package reliable

import "net"

// dupFD has no implementation on non-POSIX platforms: there is no
// dup(2)-equivalent this package relies on for Windows sockets, so the
// reliable-stream upgrade is unavailable there (spec.md: "Non-POSIX
// platforms return PlatformUnsupported").
func dupFD(conn *net.UDPConn) (net.PacketConn, error) {
	return nil, ErrPlatformUnsupported
}
