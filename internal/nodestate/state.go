// Package nodestate holds the node's externally-visible state record and
// the event bus that broadcasts state deltas and chat lines to subscribers
// (the HTTP/SSE collaborator). The record is guarded by a sync.RWMutex,
// which admits many concurrent readers but blocks new readers while a
// writer is waiting. Status transitions and chat events publish a typed
// event from inside the write-lock region, so publication order is
// sequentially consistent with the state change that produced it; the
// address and NAT-type setters update the record without publishing.
package nodestate

import (
	"sync"

	"github.com/ghostlink/ghostlink/internal/types"
)

// busCapacity is the bounded fan-out channel capacity per subscriber.
const busCapacity = 32

// State is the single in-memory record of node status: addresses, NAT
// classification, connection status, and (while connected) the peer
// address. It owns the event bus used to notify subscribers of changes.
type State struct {
	mu sync.RWMutex
	snapshot types.Snapshot

	subMu       sync.Mutex
	subscribers map[chan types.AppEvent]*subscriber
}

type subscriber struct {
	dropped int
}

// New returns a State initialized to Status=Disconnected with zero
// addresses, matching spec.md's documented initial value.
func New() *State {
	return &State{
		subscribers: make(map[chan types.AppEvent]*subscriber),
	}
}

// Snapshot returns a copy of the current state, safe for concurrent reads.
func (s *State) Snapshot() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Subscribe registers a new subscriber and returns a receive-only channel
// of future events. Events published before Subscribe is called are never
// delivered to this subscriber: "late subscribers see only events from
// their subscription point forward."
func (s *State) Subscribe() (<-chan types.AppEvent, func()) {
	ch := make(chan types.AppEvent, busCapacity)

	s.subMu.Lock()
	s.subscribers[ch] = &subscriber{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

// publish fans an event out to every subscriber without blocking. A
// subscriber whose buffer is full is considered lagging: the event is
// dropped for that subscriber and a counter is incremented rather than
// stalling every other subscriber or the caller (which is always holding
// s.mu for write when publish is called).
func (s *State) publish(ev types.AppEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch, sub := range s.subscribers {
		select {
		case ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// SetLocalAddr records the bound local address without publishing an
// event; it is purely diagnostic and has no externally-visible status
// implication.
func (s *State) SetLocalAddr(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LocalAddr = addr
}

// SetPublicAddr records a freshly STUN-resolved public address without
// publishing an event. Called at startup and on every successful
// keep-alive re-resolution, whether or not the mapping changed.
func (s *State) SetPublicAddr(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.PublicAddr = addr
}

// SetNatType records the NAT classification from the most recent STUN
// resolution cycle.
func (s *State) SetNatType(nt types.NatType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.NatType = nt
}

// EnterPunching transitions to Status=Punching, pins the target peer
// address, and emits a Punching delta event carrying an optional timeout
// hint and human-readable message.
func (s *State) EnterPunching(peer types.Address, timeoutSec int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Status = types.StatusPunching
	s.snapshot.PeerAddr = peer
	s.publish(types.AppEvent{Kind: types.EventPunching, TimeoutSec: timeoutSec, Message: msg})
}

// EnterConnected transitions to Status=Connected and emits a Connected
// delta event, typically carrying the session fingerprint and cipher name.
func (s *State) EnterConnected(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Status = types.StatusConnected
	s.publish(types.AppEvent{Kind: types.EventConnected, Message: msg})
}

// EnterDisconnected transitions to Status=Disconnected, clears the pinned
// peer address, and emits the full state snapshot (per spec.md §4.7:
// "entering Disconnected emits the full state snapshot").
func (s *State) EnterDisconnected(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Status = types.StatusDisconnected
	s.snapshot.PeerAddr = types.Address{}
	snap := s.snapshot
	s.publish(types.AppEvent{Kind: types.EventDisconnected, State: &snap, Message: msg})
}

// EmitMessage publishes a chat line: fromMe=true for locally-sent text,
// false for text received from the peer.
func (s *State) EmitMessage(content string, fromMe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(types.AppEvent{Kind: types.EventMessage, Content: content, FromMe: fromMe})
}

// EmitClearChat publishes a ClearChat event, sent whenever a session tears
// down so UI collaborators reset their transcript.
func (s *State) EmitClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(types.AppEvent{Kind: types.EventClearChat})
}
