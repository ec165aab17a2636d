// Package engine implements GhostLink's control loop: command ingestion,
// the receive loop that surfaces incoming chat as events, the NAT
// keep-alive ticker, and graceful shutdown. It is the only component that
// owns the UDP socket end to end and is the thing cmd/ghostlinkd and
// internal/api both drive (spec.md §4.6).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ghostlink/ghostlink/internal/config"
	"github.com/ghostlink/ghostlink/internal/logging"
	"github.com/ghostlink/ghostlink/internal/metrics"
	"github.com/ghostlink/ghostlink/internal/netutil"
	"github.com/ghostlink/ghostlink/internal/nodestate"
	"github.com/ghostlink/ghostlink/internal/session"
	"github.com/ghostlink/ghostlink/internal/stun"
	"github.com/ghostlink/ghostlink/internal/types"
	"github.com/ghostlink/ghostlink/internal/wire"
)

// commandQueueDepth is generous: the API/CLI collaborators issue commands
// far slower than the loop can drain them.
const commandQueueDepth = 16

// receiveBufSize bounds one decrypted StreamFrame; larger chat lines are
// rejected by Decode as malformed rather than silently truncated.
const receiveBufSize = 16 * 1024

// Node owns the shared UDP socket and drives the control loop described in
// spec.md §4.6. External collaborators (the HTTP API, the CLI) interact
// with it only through Commands, Events, and Snapshot.
type Node struct {
	cfg     config.Config
	conn    *net.UDPConn
	state   *nodestate.State
	mgr     *session.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger

	commands chan types.Command
}

// New binds the local UDP socket, performs the startup STUN resolution
// (best-effort: failures are logged as warnings but never abort startup,
// since peer-initiated connections may still work on a LAN), and
// returns a Node ready for Run.
func New(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.ClientPort})
	if err != nil {
		return nil, fmt.Errorf("engine: bind local socket: %w", err)
	}

	state := nodestate.New()
	localPort := conn.LocalAddr().(*net.UDPAddr).Port
	if local, err := netutil.LocalAddr(localPort); err == nil {
		state.SetLocalAddr(local)
	} else {
		logger.Warn("engine: could not determine local LAN address", logging.KeyError, err)
	}

	n := &Node{
		cfg:      cfg,
		conn:     conn,
		state:    state,
		mgr:      session.New(conn, state, logger),
		metrics:  m,
		logger:   logger,
		commands: make(chan types.Command, commandQueueDepth),
	}

	n.resolvePublicAddr(context.Background())
	return n, nil
}

// Commands returns the channel external collaborators send Commands on.
func (n *Node) Commands() chan<- types.Command {
	return n.commands
}

// Events subscribes to the state/chat event bus; see nodestate.Subscribe.
func (n *Node) Events() (<-chan types.AppEvent, func()) {
	return n.state.Subscribe()
}

// Snapshot returns the current externally-visible state.
func (n *Node) Snapshot() types.Snapshot {
	return n.state.Snapshot()
}

// LocalAddr returns the address the node's UDP socket is bound to.
func (n *Node) LocalAddr() types.Address {
	return types.AddressFromUDP(n.conn.LocalAddr().(*net.UDPAddr))
}

// Close releases the underlying UDP socket. Call after Run returns.
func (n *Node) Close() error {
	return n.conn.Close()
}

// resolvePublicAddr runs one STUN resolution cycle: resolve against the
// primary server, classify NAT type against the secondary. STUN failures
// here are reported but never fatal (spec.md §7 recovery policy).
func (n *Node) resolvePublicAddr(ctx context.Context) {
	primary, err := net.ResolveUDPAddr("udp", n.cfg.StunServer)
	if err != nil {
		n.logger.Warn("engine: resolve primary STUN server", logging.KeyError, err)
		return
	}

	start := time.Now()
	addr, err := stun.ResolvePublicIP(ctx, n.conn, primary)
	n.metrics.RecordStunResolution(stunOutcome(err), time.Since(start).Seconds())
	if err != nil {
		n.logger.Warn("engine: STUN resolution failed", logging.KeyError, err)
		return
	}

	prev := n.state.Snapshot().PublicAddr
	changed := !addr.IP.Equal(prev.IP) || addr.Port != prev.Port
	n.state.SetPublicAddr(addr)

	secondary, err := net.ResolveUDPAddr("udp", n.cfg.StunVerifier)
	if err != nil {
		n.logger.Warn("engine: resolve secondary STUN server", logging.KeyError, err)
		n.state.SetNatType(types.NatUnknown)
		return
	}
	natType := stun.NATType(ctx, n.conn, secondary, addr)
	n.state.SetNatType(natType)
	n.metrics.SetNatType(natType.String())
	n.metrics.RecordKeepAlive(changed)
}

func stunOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Run multiplexes the four sources named in spec.md §4.6 until ctx is
// canceled, at which point it issues a Disconnect, then waits the full
// DisconnectTimeout before returning.
func (n *Node) Run(ctx context.Context) error {
	keepAlive := time.NewTicker(n.cfg.PunchHoleInterval())
	defer keepAlive.Stop()

	incoming := make(chan wire.StreamFrame)
	recvErrs := make(chan error, 1)
	recvActive := false
	stopRecv := func() {}

	defer stopRecv()

	for {
		if n.mgr.IsConnected() && !recvActive {
			recvCtx, cancel := context.WithCancel(ctx)
			go n.receiveLoop(recvCtx, incoming, recvErrs)
			stopRecv = cancel
			recvActive = true
		}
		if !n.mgr.IsConnected() && recvActive {
			stopRecv()
			recvActive = false
		}

		select {
		case <-ctx.Done():
			n.mgr.Disconnect()
			n.metrics.RecordSessionTornDown()
			time.Sleep(n.cfg.DisconnectTimeout())
			return ctx.Err()

		case cmd := <-n.commands:
			n.handleCommand(ctx, cmd)

		case frame := <-incoming:
			switch frame.Tag {
			case wire.TagText:
				n.state.EmitMessage(frame.Text, false)
				n.metrics.RecordMessageReceived(len(frame.Text))
			case wire.TagStreamBye:
				n.mgr.DisconnectOnByeReceived()
				n.metrics.RecordSessionTornDown()
			}

		case err := <-recvErrs:
			n.logger.Warn("engine: reliable stream read failed, disconnecting", logging.KeyError, err)
			n.mgr.DisconnectOnByeReceived()
			n.metrics.RecordSessionTornDown()

		case <-keepAlive.C:
			if n.state.Snapshot().Status == types.StatusDisconnected {
				n.resolvePublicAddr(ctx)
			}
		}
	}
}

// receiveLoop reads and decrypts StreamFrames off the reliable stream
// while a session is connected; it exits (closing neither channel) as
// soon as its context is canceled, which Run does whenever the session
// drops.
func (n *Node) receiveLoop(ctx context.Context, out chan<- wire.StreamFrame, errs chan<- error) {
	buf := make([]byte, receiveBufSize)
	for {
		if ctx.Err() != nil {
			return
		}
		frame, ok, err := n.mgr.ReceiveFrame(buf)
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}
		if !ok {
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) handleCommand(ctx context.Context, cmd types.Command) {
	switch cmd.Kind {
	case types.CommandConnect:
		n.handleConnect(ctx, cmd.Peer)
	case types.CommandSendMessage:
		if err := n.mgr.SendText(cmd.Message); err != nil {
			n.logger.Warn("engine: send message failed", logging.KeyError, err)
			return
		}
		n.metrics.RecordMessageSent(len(cmd.Message))
		n.state.EmitMessage(cmd.Message, true)
	case types.CommandDisconnect:
		n.mgr.Disconnect()
		n.metrics.RecordSessionTornDown()
	}
}

func (n *Node) handleConnect(ctx context.Context, peer types.Address) {
	mode, err := n.cfg.Mode()
	if err != nil {
		n.logger.Error("engine: invalid configured encryption mode", logging.KeyError, err)
		return
	}

	n.metrics.HandshakeAttempts.Inc()
	start := time.Now()
	sessionData, err := n.mgr.Handshake(ctx, peer, n.cfg.HandshakeTimeout(), mode)
	if err != nil {
		n.metrics.RecordHandshakeOutcome(handshakeOutcome(err), 0)
		n.logger.Warn("engine: handshake failed", logging.KeyError, err)
		return
	}
	n.metrics.RecordHandshakeOutcome("connected", time.Since(start).Seconds())

	if err := n.mgr.UpgradeToKCP(sessionData.Fingerprint); err != nil {
		n.logger.Error("engine: reliable-stream upgrade failed", logging.KeyError, err)
		n.mgr.Disconnect()
		return
	}
	n.metrics.RecordSessionEstablished()
}

func handshakeOutcome(err error) string {
	if err == nil {
		return "connected"
	}
	return "failed"
}
