// Package netutil provides small local-network helpers that sit outside
// the STUN/handshake/session pipeline: determining the LAN address a node
// would use to reach the outside world, independent of NAT.
package netutil

import (
	"fmt"
	"net"

	"github.com/ghostlink/ghostlink/internal/types"
)

// publicDNS is used only to select a local interface via UDP "connect";
// no packet is actually sent to it.
const publicDNS = "8.8.8.8:80"

// LocalAddr returns the local IP the OS would route outbound traffic
// through, paired with the given port. It opens a UDP socket toward a
// public address and inspects the resulting local endpoint without ever
// sending data, a standard trick for discovering the default route's
// source address. Restored from the original prototype's get_local_ip,
// which spec.md's Address type references ("local (bound address)") but
// never wires an operation for.
func LocalAddr(port int) (types.Address, error) {
	conn, err := net.Dial("udp", publicDNS)
	if err != nil {
		return types.Address{}, fmt.Errorf("determine local address: %w", err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return types.Address{}, fmt.Errorf("determine local address: unexpected local addr type")
	}
	return types.Address{IP: local.IP, Port: port}, nil
}
