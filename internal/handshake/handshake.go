// Package handshake implements GhostLink's symmetric SYN/SYN-ACK/BYE
// hole-punching and key-exchange protocol. Both peers run the identical
// state machine concurrently over one shared UDP socket; there is no
// client/server asymmetry (see spec.md §4.3, §9 "Simultaneous open").
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ghostlink/ghostlink/internal/crypto"
	"github.com/ghostlink/ghostlink/internal/logging"
	"github.com/ghostlink/ghostlink/internal/nodestate"
	"github.com/ghostlink/ghostlink/internal/types"
	"github.com/ghostlink/ghostlink/internal/wire"
)

// tickInterval is the SYN retransmission / linger-retransmit cadence.
const tickInterval = 500 * time.Millisecond

// lingerDuration is how long a side keeps answering retransmitted SYNs
// after it has both sent and received a SYN-ACK, so a peer whose final
// SYN-ACK was lost still converges.
const lingerDuration = 1 * time.Second

// readBufSize is generous for the small fixed-size handshake frames.
const readBufSize = 512

// Sentinel errors, matching the error kinds named in spec.md §7.
var (
	ErrModeMismatch = errors.New("handshake: peer requested a different cipher mode")
	ErrRejected     = errors.New("handshake: peer sent Bye")
	ErrTimeout      = errors.New("handshake: timed out before completion")
)

// Run drives one handshake attempt against peerAddr over conn, using
// localMode as this side's proposed AEAD algorithm. On success it installs
// Status=Connected on state and returns the derived SessionData; on any
// failure it resets state to Disconnected with a human-readable message
// and returns an error, per spec.md's "Termination always resets state to
// Disconnected unless success."
func Run(ctx context.Context, conn net.PacketConn, peerAddr types.Address, state *nodestate.State, timeout time.Duration, localMode crypto.Mode, logger *slog.Logger) (*crypto.SessionData, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fail(state, fmt.Errorf("generate key pair: %w", err))
	}

	state.EnterPunching(peerAddr, int(timeout.Seconds()), "punching: searching for peer")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	udpPeer := peerAddr.UDPAddr()

	var (
		peerPublicKey  *[crypto.KeySize]byte
		receivedSynAck bool
		sentSynAck     bool
		lingerDeadline time.Time
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	sendSyn := func() {
		if _, err := conn.WriteTo(wire.Syn(keyPair.Public, localMode).Encode(), udpPeer); err != nil {
			logger.Debug("handshake: send Syn failed", logging.KeyError, err)
		}
	}
	sendSynAck := func() {
		if _, err := conn.WriteTo(wire.SynAck(keyPair.Public).Encode(), udpPeer); err != nil {
			logger.Debug("handshake: send SynAck failed", logging.KeyError, err)
		}
	}

	sendSyn()

	frames := make(chan wire.HandshakeFrame)
	readErrs := make(chan error, 1)
	go readLoop(ctx, conn, udpPeer, frames, readErrs, logger)

	for {
		select {
		case <-ctx.Done():
			return nil, fail(state, fmt.Errorf("%w after %s", ErrTimeout, timeout))

		case err := <-readErrs:
			return nil, fail(state, err)

		case <-ticker.C:
			if lingerDeadline.IsZero() {
				if !receivedSynAck {
					sendSyn()
				}
			} else {
				sendSynAck()
				if !time.Now().Before(lingerDeadline) {
					return deriveAndConnect(state, keyPair, *peerPublicKey, localMode)
				}
			}

		case frame := <-frames:
			switch frame.Tag {
			case wire.TagSyn:
				if peerPublicKey != nil && *peerPublicKey != frame.PublicKey {
					continue // key-pinning: ignore a claimed-different key
				}
				if frame.CipherMode != localMode {
					return nil, fail(state, ErrModeMismatch)
				}
				pk := frame.PublicKey
				peerPublicKey = &pk
				sendSynAck()
				sentSynAck = true

			case wire.TagSynAck:
				if peerPublicKey != nil && *peerPublicKey != frame.PublicKey {
					continue
				}
				pk := frame.PublicKey
				peerPublicKey = &pk
				receivedSynAck = true

			case wire.TagBye:
				return nil, fail(state, ErrRejected)
			}

			if receivedSynAck && sentSynAck && lingerDeadline.IsZero() {
				lingerDeadline = time.Now().Add(lingerDuration)
			}
		}
	}
}

// readLoop reads datagrams from conn, discarding anything not from
// peerAddr (spec.md step 6) and anything that fails to parse as a
// HandshakeFrame (logged at debug, discarded, session continues).
func readLoop(ctx context.Context, conn net.PacketConn, peerAddr net.Addr, frames chan<- wire.HandshakeFrame, errs chan<- error, logger *slog.Logger) {
	buf := make([]byte, readBufSize)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(tickInterval))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case errs <- fmt.Errorf("handshake: read socket: %w", err):
			default:
			}
			return
		}
		if addr.String() != peerAddr.String() {
			logger.Debug("handshake: discarding packet from unexpected sender", logging.KeyPeerAddr, addr.String())
			continue
		}
		frame, err := wire.DecodeHandshakeFrame(buf[:n])
		if err != nil {
			logger.Debug("handshake: discarding unparseable frame", logging.KeyError, err)
			continue
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func deriveAndConnect(state *nodestate.State, keyPair crypto.KeyPair, peerPublic [crypto.KeySize]byte, mode crypto.Mode) (*crypto.SessionData, error) {
	session, err := crypto.DeriveSession(keyPair.Private, peerPublic, mode, keyPair.Public)
	crypto.ZeroKey(&keyPair.Private)
	if err != nil {
		return nil, fail(state, fmt.Errorf("derive session: %w", err))
	}
	state.EnterConnected(fmt.Sprintf("connected: fingerprint %s (%s)", session.Fingerprint, mode))
	return session, nil
}

func fail(state *nodestate.State, err error) error {
	state.EnterDisconnected(err.Error())
	return err
}
