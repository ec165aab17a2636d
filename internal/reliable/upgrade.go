// Package reliable mounts a KCP-family reliable ordered stream on top of
// the raw UDP socket used for STUN and the handshake, without taking that
// socket away from its other consumers. It does this the POSIX way: by
// duplicating the socket's file descriptor and handing the duplicate,
// wrapped as a fresh net.PacketConn, to the xtaci/kcp-go ARQ layer.
package reliable

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/xtaci/kcp-go/v5"
)

// Tuning fixed by spec.md §4.4: nodelay on, 10ms internal update tick,
// fast-resend after 2 selective acks, congestion control disabled,
// symmetric 1024-packet send/receive windows, 1400-byte MTU.
const (
	nodelay        = 1
	updateInterval = 10
	fastResend     = 2
	noCongestion   = 1
	windowSize     = 1024
	mtu            = 1400
)

// ErrPlatformUnsupported is returned by Upgrade on platforms where
// duplicating a UDP socket's file descriptor is not available (spec.md:
// "Non-POSIX platforms return PlatformUnsupported").
var ErrPlatformUnsupported = fmt.Errorf("reliable: file-descriptor duplication unsupported on this platform")

// Stream is a reliable ordered byte stream mounted over a duplicated UDP
// socket. It satisfies io.ReadWriteCloser.
type Stream struct {
	sess *kcp.UDPSession
	dup  net.PacketConn
}

// Upgrade duplicates conn's underlying file descriptor (dupFD, platform
// specific — see upgrade_unix.go / upgrade_other.go) and mounts a
// KCP-family session on the duplicate, addressed at peerAddr. convID is a
// 32-bit conversation id both peers must agree on; the session package
// derives it deterministically from the pinned session fingerprint so
// both sides converge without either acting as "server" (spec.md §9:
// the symmetric design "removes the asymmetry that would otherwise make
// one side server and the other client").
//
// The original conn is untouched and remains valid for STUN keep-alives
// after Upgrade returns (invariant P6); the duplicate is owned by the
// returned Stream and is closed when Close is called.
func Upgrade(conn *net.UDPConn, peerAddr *net.UDPAddr, convID uint32) (*Stream, error) {
	dupConn, err := dupFD(conn)
	if err != nil {
		return nil, err
	}

	sess, err := kcp.NewConn3(convID, peerAddr, nil, 0, 0, dupConn)
	if err != nil {
		dupConn.Close()
		return nil, fmt.Errorf("reliable: mount KCP session: %w", err)
	}

	sess.SetNoDelay(nodelay, updateInterval, fastResend, noCongestion)
	sess.SetWindowSize(windowSize, windowSize)
	sess.SetMtu(mtu)
	sess.SetStreamMode(false)

	return &Stream{sess: sess, dup: dupConn}, nil
}

// ConvID derives the 32-bit KCP conversation id both peers will agree on,
// from the session fingerprint (itself symmetric over the sorted public
// key pair — see crypto.computeFingerprint), so the id is identical on
// both sides without either peer generating and transmitting it.
func ConvID(fingerprint string) uint32 {
	sum := sha256.Sum256([]byte("ghostlink_kcp_conv_id" + fingerprint))
	return binary.BigEndian.Uint32(sum[:4])
}

// Read implements io.Reader by reading one logical, already-reassembled
// message segment from the KCP stream.
func (s *Stream) Read(b []byte) (int, error) {
	return s.sess.Read(b)
}

// Write implements io.Writer.
func (s *Stream) Write(b []byte) (int, error) {
	return s.sess.Write(b)
}

// Flush is a no-op beyond documenting intent: the session is created with
// write-delay disabled, so every Write already flushes onto the wire
// immediately rather than batching for the next 10ms update tick. It
// exists so callers can follow the familiar write-then-flush idiom.
func (s *Stream) Flush() error {
	return nil
}

// Close tears down the KCP session and closes the duplicated socket. The
// original socket passed to Upgrade is never touched here.
func (s *Stream) Close() error {
	sessErr := s.sess.Close()
	dupErr := s.dup.Close()
	if sessErr != nil {
		return sessErr
	}
	return dupErr
}
