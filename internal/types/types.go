// Package types holds the small, dependency-free data types shared across
// GhostLink's core packages: network addresses, NAT classification,
// connection status, the app-facing event/command vocabulary.
package types

import (
	"fmt"
	"net"
)

// Address is a UDP endpoint, kept as a value type so it can be copied,
// logged, and serialized to JSON without pulling in net.UDPAddr's pointer
// semantics everywhere. Its IP field is a net.IP slice, so Address values
// are not comparable with ==; compare IP with net.IP.Equal and Port directly.
type Address struct {
	IP   net.IP `json:"ip"`
	Port int    `json:"port"`
}

// String renders the address in "ip:port" form.
func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprintf("%d", a.Port))
}

// IsZero reports whether the address has never been set.
func (a Address) IsZero() bool {
	return a.IP == nil
}

// UDPAddr converts to the stdlib representation for dialing/writing.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}

// AddressFromUDP converts a *net.UDPAddr into an Address.
func AddressFromUDP(a *net.UDPAddr) Address {
	return Address{IP: a.IP, Port: a.Port}
}

// NatType classifies the local peer's NAT behavior, as observed by
// comparing STUN reflexive addresses from two independent servers.
type NatType int

const (
	// NatUnknown is the default: classification has not run, or failed.
	NatUnknown NatType = iota
	// NatCone indicates both STUN servers observed the same reflexive
	// address: hole punching is expected to succeed.
	NatCone
	// NatSymmetric indicates the two servers observed different
	// reflexive addresses: the NAT assigns a distinct mapping per
	// destination, and hole punching against a third party is unlikely
	// to succeed.
	NatSymmetric
)

// String renders the NAT type for logging and the JSON state snapshot.
func (n NatType) String() string {
	switch n {
	case NatCone:
		return "Cone"
	case NatSymmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders NatType as its string form for the external API.
func (n NatType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

// Status is the node's connection lifecycle state.
type Status int

const (
	// StatusDisconnected is the default: no peer, no session.
	StatusDisconnected Status = iota
	// StatusPunching means a handshake is in progress with a pinned
	// peer address.
	StatusPunching
	// StatusConnected means a session is established and the reliable
	// stream is up.
	StatusConnected
)

// String renders the status for logging and the JSON state snapshot.
func (s Status) String() string {
	switch s {
	case StatusPunching:
		return "Punching"
	case StatusConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// MarshalJSON renders Status as its string form for the external API.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Command is sent from an external collaborator (the HTTP API, the CLI)
// into the control loop.
type Command struct {
	Kind    CommandKind
	Peer    Address // valid for CommandConnect
	Message string  // valid for CommandSendMessage
}

// CommandKind identifies the variant of a Command.
type CommandKind int

const (
	// CommandConnect asks the engine to begin a handshake with Peer.
	CommandConnect CommandKind = iota
	// CommandSendMessage asks the engine to send Message to the
	// currently-connected peer.
	CommandSendMessage
	// CommandDisconnect asks the engine to tear down the current
	// session, if any.
	CommandDisconnect
)

// AppEvent is published on the event bus for every externally-visible
// state change: status transitions, chat messages, and chat resets.
type AppEvent struct {
	Kind       AppEventKind `json:"status"`
	State      *Snapshot    `json:"state,omitempty"`
	Message    string       `json:"message,omitempty"`
	TimeoutSec int          `json:"timeout,omitempty"`
	Content    string       `json:"content,omitempty"`
	FromMe     bool         `json:"from_me,omitempty"`
}

// AppEventKind identifies the variant of an AppEvent.
type AppEventKind string

const (
	EventDisconnected AppEventKind = "DISCONNECTED"
	EventPunching     AppEventKind = "PUNCHING"
	EventConnected    AppEventKind = "CONNECTED"
	EventMessage      AppEventKind = "MESSAGE"
	EventClearChat    AppEventKind = "CLEAR_CHAT"
)

// Snapshot is the full externally-visible node state, returned by the
// state query surface and embedded in Disconnected events.
type Snapshot struct {
	LocalAddr  Address `json:"local_addr"`
	PublicAddr Address `json:"public_addr"`
	NatType    NatType `json:"nat_type"`
	Status     Status  `json:"status"`
	PeerAddr   Address `json:"peer_addr,omitempty"`
}
