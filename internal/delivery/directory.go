package delivery

import "sync"

// PeerDirectory is the in-memory, unpersisted record of each peer's most
// recently reported listen addresses. MeshService populates it from
// CoreDelegate's on_peer_identified callback; DeliveryEngine consults it
// when rebuilding route candidates. It deliberately carries no identity
// or trust information of its own — that lives in ContactStore.
type PeerDirectory struct {
	mu    sync.RWMutex
	addrs map[string][]string
}

// NewPeerDirectory builds an empty PeerDirectory.
func NewPeerDirectory() *PeerDirectory {
	return &PeerDirectory{addrs: make(map[string][]string)}
}

// RecordListenAddrs stores the latest known listen addresses for peerID.
func (d *PeerDirectory) RecordListenAddrs(peerID string, addrs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[peerID] = append([]string(nil), addrs...)
}

// ListenAddrs returns the last-known listen addresses for peerID.
func (d *PeerDirectory) ListenAddrs(peerID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.addrs[peerID]...)
}

// Forget drops any addresses cached for peerID.
func (d *PeerDirectory) Forget(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.addrs, peerID)
}
