// Package mocktransport is a scriptable transport.Driver for tests: it
// lets a test inject connection/send behavior without a real network
// stack, and captures every call for later assertions.
package mocktransport

import (
	"context"
	"sync"

	"github.com/scmessenger/core/internal/transport"
)

// Mock is a test double implementing transport.Driver.
type Mock struct {
	// DialFunc, if set, is called on Dial. A nil return is success.
	DialFunc func(ctx context.Context, peerID string, addrs []string) error
	// SendFunc, if set, is called on Send. A nil return is success.
	SendFunc func(ctx context.Context, peerID string, data []byte) error
	// ConnectedPeers marks which peers IsConnected reports as reachable.
	ConnectedPeers map[string]bool

	LocalID string

	mu         sync.Mutex
	delegate   transport.Delegate
	dialed     []string
	sent       []sentMessage
	subscribed map[string]bool
	published  []publishedMessage
}

type sentMessage struct {
	PeerID string
	Data   []byte
}

type publishedMessage struct {
	Topic string
	Data  []byte
}

// New builds an empty Mock.
func New(localID string) *Mock {
	return &Mock{
		LocalID:        localID,
		ConnectedPeers: make(map[string]bool),
		subscribed:     make(map[string]bool),
	}
}

func (m *Mock) Start(ctx context.Context, delegate transport.Delegate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = delegate
	return nil
}

func (m *Mock) Stop(ctx context.Context) error { return nil }

func (m *Mock) Dial(ctx context.Context, peerID string, addrs []string) error {
	m.mu.Lock()
	m.dialed = append(m.dialed, peerID)
	m.mu.Unlock()

	if m.DialFunc != nil {
		if err := m.DialFunc(ctx, peerID, addrs); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.ConnectedPeers[peerID] = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) IsConnected(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConnectedPeers[peerID]
}

func (m *Mock) Send(ctx context.Context, peerID string, data []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, sentMessage{PeerID: peerID, Data: data})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, peerID, data)
	}
	return nil
}

func (m *Mock) Subscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[topic] = true
	return nil
}

func (m *Mock) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribed, topic)
	return nil
}

func (m *Mock) Publish(topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{Topic: topic, Data: data})
	return nil
}

func (m *Mock) LocalPeerID() string { return m.LocalID }

// DeliverData simulates an inbound message arriving from peerID.
func (m *Mock) DeliverData(peerID string, data []byte) {
	m.mu.Lock()
	d := m.delegate
	m.mu.Unlock()
	if d != nil {
		d.OnDataReceived(peerID, data)
	}
}

// DeliverPeerEvent simulates a peer lifecycle event.
func (m *Mock) DeliverPeerEvent(event transport.PeerEvent, peer transport.PeerInfo) {
	m.mu.Lock()
	d := m.delegate
	if event == transport.PeerIdentified {
		m.ConnectedPeers[peer.PeerID] = true
	}
	if event == transport.PeerDisconnected {
		delete(m.ConnectedPeers, peer.PeerID)
	}
	m.mu.Unlock()
	if d != nil {
		d.OnPeerEvent(event, peer)
	}
}

// SentTo returns the raw payloads sent to peerID, in send order.
func (m *Mock) SentTo(peerID string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, s := range m.sent {
		if s.PeerID == peerID {
			out = append(out, s.Data)
		}
	}
	return out
}

// DialCount returns how many times Dial was called for peerID.
func (m *Mock) DialCount(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.dialed {
		if p == peerID {
			n++
		}
	}
	return n
}

// Reset clears all captured calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialed = nil
	m.sent = nil
	m.published = nil
}
