// Package stun resolves a node's server-reflexive (public) address via
// RFC 5389 STUN binding requests, and classifies NAT behavior by comparing
// the reflexive address seen by two independent STUN servers from the same
// local socket.
package stun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"

	"github.com/ghostlink/ghostlink/internal/types"
)

// Timeout is the maximum time to wait for a single STUN binding response.
const Timeout = 3 * time.Second

// ResolvePublicIP sends a single STUN binding request to stunServer over
// conn and returns the server-reflexive address found in the response's
// XOR-MAPPED-ADDRESS attribute. conn is typically the same socket the node
// will later use for the handshake, so that the NAT's mapping observed here
// remains valid for hole punching.
//
// The request is not retransmitted: a single request/response round trip is
// attempted and the call fails with a "timed out" error if no matching
// response arrives within Timeout.
func ResolvePublicIP(ctx context.Context, conn net.PacketConn, stunServer *net.UDPAddr) (types.Address, error) {
	request, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return types.Address{}, fmt.Errorf("build STUN request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	if _, err := conn.WriteTo(request.Raw, stunServer); err != nil {
		return types.Address{}, fmt.Errorf("send STUN request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return types.Address{}, fmt.Errorf("STUN request timed out")
			}
			return types.Address{}, fmt.Errorf("read STUN response: %w", err)
		}

		if !stun.IsMessage(buf[:n]) {
			continue
		}

		response := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := response.Decode(); err != nil {
			continue
		}

		if response.TransactionID != request.TransactionID {
			return types.Address{}, fmt.Errorf("STUN response transaction ID mismatch: Security Mismatch")
		}

		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(response); err != nil {
			return types.Address{}, fmt.Errorf("STUN response did not contain XOR-MAPPED-ADDRESS")
		}

		return types.Address{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NATType classifies the local NAT by comparing the reflexive address
// obtained from the primary server (prevAddr, typically already resolved by
// a prior ResolvePublicIP call) against a fresh resolution against the
// secondary (verifier) server over the same socket. Any failure to resolve
// against the secondary server yields NatUnknown rather than propagating the
// error: NAT classification is diagnostic, not fatal.
func NATType(ctx context.Context, conn net.PacketConn, secondaryServer *net.UDPAddr, prevAddr types.Address) types.NatType {
	addr, err := ResolvePublicIP(ctx, conn, secondaryServer)
	if err != nil {
		return types.NatUnknown
	}

	if addr.IP.Equal(prevAddr.IP) && addr.Port == prevAddr.Port {
		return types.NatCone
	}
	return types.NatSymmetric
}
