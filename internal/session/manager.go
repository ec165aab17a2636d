// Package session implements GhostLink's message manager: the lifecycle
// controller that binds the socket, state store, handshake engine, and
// reliable-stream upgrade together, AEAD-frames every chat message with
// the tx/rx nonce counters, and tears everything down on disconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ghostlink/ghostlink/internal/crypto"
	"github.com/ghostlink/ghostlink/internal/handshake"
	"github.com/ghostlink/ghostlink/internal/logging"
	"github.com/ghostlink/ghostlink/internal/nodestate"
	"github.com/ghostlink/ghostlink/internal/reliable"
	"github.com/ghostlink/ghostlink/internal/types"
	"github.com/ghostlink/ghostlink/internal/wire"
)

// Sentinel errors, matching the error kinds named in spec.md §7.
var (
	ErrNotHandshaken = errors.New("session: no peer address; handshake has not run")
	ErrNotConnected  = errors.New("session: no reliable stream is up")
	ErrNotInitialized = errors.New("session: no cipher installed")
)

// Manager owns the shared UDP socket, state handle, and the optional
// session material for one active peer at a time (GhostLink supports a
// single active peer; see spec.md Non-goals).
type Manager struct {
	conn   *net.UDPConn
	state  *nodestate.State
	logger *slog.Logger

	mu       sync.Mutex
	peerAddr *types.Address
	stream   *reliable.Stream
	cipher   *crypto.Cipher
	nonces   crypto.NonceCounters
	txBytes  uint64
	rxBytes  uint64
}

// New creates a Manager bound to conn and state.
func New(conn *net.UDPConn, state *nodestate.State, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{conn: conn, state: state, logger: logger}
}

// IsConnected reports whether a reliable stream is currently up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Handshake drives the SYN/SYN-ACK/BYE protocol against peer. On success
// it installs the derived cipher and resets both nonce counters to zero.
// On failure, handshake.Run has already reset state to Disconnected with
// the error message; Handshake simply returns the error to the caller.
func (m *Manager) Handshake(ctx context.Context, peer types.Address, timeout time.Duration, mode crypto.Mode) (*crypto.SessionData, error) {
	sessionData, err := handshake.Run(ctx, m.conn, peer, m.state, timeout, mode, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.peerAddr = &peer
	m.cipher = sessionData.Cipher
	m.nonces = crypto.NonceCounters{}
	m.mu.Unlock()

	return sessionData, nil
}

// UpgradeToKCP mounts the reliable stream on a duplicated copy of the
// shared socket, addressed at the peer pinned by the prior Handshake
// call. It fails with ErrNotHandshaken if no peer has been pinned yet.
func (m *Manager) UpgradeToKCP(fingerprint string) error {
	m.mu.Lock()
	peer := m.peerAddr
	m.mu.Unlock()

	if peer == nil {
		return ErrNotHandshaken
	}

	convID := reliable.ConvID(fingerprint)
	stream, err := reliable.Upgrade(m.conn, peer.UDPAddr(), convID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	return nil
}

// SendText serializes, encrypts, and writes one chat message over the
// reliable stream, advancing the tx nonce counter (invariant P4).
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	stream := m.stream
	cipher := m.cipher
	if cipher == nil {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if stream == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	counter, err := m.nonces.NextTx()
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	plaintext := wire.TextFrame(text).Encode()
	ciphertext, err := cipher.Encrypt(counter, plaintext)
	if err != nil {
		return fmt.Errorf("session: encrypt: %w", err)
	}

	if _, err := stream.Write(ciphertext); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	m.mu.Lock()
	m.txBytes += uint64(len(ciphertext))
	m.mu.Unlock()
	return stream.Flush()
}

// ReceiveFrame reads one ciphertext record from the reliable stream,
// decrypts it with the next expected rx counter, and parses it as a
// StreamFrame. A zero-length read (peer closed) returns a zero-value
// frame and nil error with ok=false; decryption
// failure is always returned as a fatal error, per spec.md §4.5.
func (m *Manager) ReceiveFrame(buf []byte) (wire.StreamFrame, bool, error) {
	m.mu.Lock()
	stream := m.stream
	cipher := m.cipher
	if cipher == nil {
		m.mu.Unlock()
		return wire.StreamFrame{}, false, ErrNotInitialized
	}
	if stream == nil {
		m.mu.Unlock()
		return wire.StreamFrame{}, false, ErrNotConnected
	}
	m.mu.Unlock()

	n, err := stream.Read(buf)
	if err != nil {
		return wire.StreamFrame{}, false, fmt.Errorf("session: read: %w", err)
	}
	if n == 0 {
		return wire.StreamFrame{}, false, nil
	}

	m.mu.Lock()
	counter, err := m.nonces.NextRx()
	m.mu.Unlock()
	if err != nil {
		return wire.StreamFrame{}, false, fmt.Errorf("session: %w", err)
	}

	plaintext, err := cipher.Decrypt(counter, buf[:n])
	if err != nil {
		return wire.StreamFrame{}, false, fmt.Errorf("session: decryption failure (fatal): %w", err)
	}
	m.mu.Lock()
	m.rxBytes += uint64(n)
	m.mu.Unlock()

	frame, err := wire.DecodeStreamFrame(plaintext)
	if err != nil {
		m.logger.Debug("session: discarding unparseable stream frame", logging.KeyError, err)
		return wire.StreamFrame{}, false, nil
	}
	return frame, true, nil
}

// Disconnect sends a Bye to the peer (AEAD-framed over the reliable
// stream if it is up, otherwise a raw UDP HandshakeFrame Bye as a
// fallback), then tears down local session state.
func (m *Manager) Disconnect() {
	m.sendBye()
	m.teardown("disconnected")
}

// DisconnectOnByeReceived tears down local session state without sending
// a Bye of our own, because the peer already sent one.
func (m *Manager) DisconnectOnByeReceived() {
	m.teardown("peer disconnected")
}

func (m *Manager) sendBye() {
	m.mu.Lock()
	stream := m.stream
	cipher := m.cipher
	peer := m.peerAddr
	m.mu.Unlock()

	if stream != nil && cipher != nil {
		m.mu.Lock()
		counter, err := m.nonces.NextTx()
		m.mu.Unlock()
		if err == nil {
			if ciphertext, err := cipher.Encrypt(counter, wire.StreamBye().Encode()); err == nil {
				_, _ = stream.Write(ciphertext)
			}
		}
		return
	}

	if peer != nil {
		_, _ = m.conn.WriteTo(wire.Bye().Encode(), peer.UDPAddr())
	}
}

func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	stream := m.stream
	txBytes, rxBytes := m.txBytes, m.rxBytes
	m.stream = nil
	m.cipher = nil
	m.nonces = crypto.NonceCounters{}
	m.txBytes = 0
	m.rxBytes = 0
	m.peerAddr = nil
	m.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			m.logger.Debug("session: reliable stream shutdown failed", logging.KeyError, err)
		}
	}

	if txBytes > 0 || rxBytes > 0 {
		m.logger.Info("session: torn down",
			"reason", reason,
			"sent", humanize.IBytes(txBytes),
			"received", humanize.IBytes(rxBytes))
	}

	m.state.EmitClearChat()
	m.state.EnterDisconnected(reason)
}
