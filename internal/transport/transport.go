// Package transport defines the mesh transport abstraction. It lets the
// delivery engine, mesh service, and topic bus dial peers, send framed
// envelopes, and use pubsub topics without depending on a specific
// underlying network stack (libp2p, a plain WebSocket overlay, or a
// test double).
package transport

import (
	"context"
	"time"
)

// PeerEvent is the kind of change CoreDelegate reports about a peer.
type PeerEvent string

const (
	PeerDiscovered  PeerEvent = "discovered"
	PeerIdentified  PeerEvent = "identified"
	PeerDisconnected PeerEvent = "disconnected"
)

// PeerInfo describes a peer as known at dial/identification time.
type PeerInfo struct {
	PeerID    string
	PublicKey string
	Addrs     []string
}

// Delegate receives asynchronous events from a Driver. All methods must
// return quickly; long work should be handed off to a goroutine by the
// implementer.
type Delegate interface {
	OnPeerEvent(event PeerEvent, peer PeerInfo)
	OnDataReceived(fromPeerID string, data []byte)
	OnTopicMessage(topic string, fromPeerID string, data []byte)
}

// Driver is the capability surface a transport implementation offers to
// the mesh service and delivery engine. Start/Stop govern the
// background network stack; Dial/Send/Subscribe/Publish are the
// per-operation calls made on top of it.
type Driver interface {
	Start(ctx context.Context, delegate Delegate) error
	Stop(ctx context.Context) error

	// Dial attempts to establish or confirm a connection to peerID over
	// one of addrs, returning once connected or ctx is done.
	Dial(ctx context.Context, peerID string, addrs []string) error

	// IsConnected reports whether peerID is currently reachable without
	// attempting a new dial.
	IsConnected(peerID string) bool

	// Send transmits data directly to peerID over an existing or
	// freshly dialed connection. It returns once the transport layer
	// has accepted the bytes for transmission, not once the remote
	// peer has processed them.
	Send(ctx context.Context, peerID string, data []byte) error

	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, data []byte) error

	// LocalPeerID returns this node's own transport-level peer ID.
	LocalPeerID() string
}

// DialTimeout bounds a single Dial call absent a more specific deadline
// from the caller's context.
const DialTimeout = 10 * time.Second
