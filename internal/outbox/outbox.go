// Package outbox is the durable, per-peer FIFO of pending outbound
// envelopes that the DeliveryEngine drives. Per spec, the whole queue
// is one JSON array file, `pending_outbox.json`, rewritten atomically
// (temp file + rename) on every mutation. It enforces the
// 1,000-per-peer / 10,000-total hard caps by dropping the oldest
// entry for the overflowing peer (per-peer cap) or the oldest entry
// overall (total cap), and reloads its full working set
// from disk on restart.
package outbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scmessenger/core/internal/metrics"
	"github.com/scmessenger/core/internal/model"
)

const (
	maxPerPeer = 1000
	maxTotal   = 10000

	fileName = "pending_outbox.json"
)

// Outbox holds the in-memory working set that mirrors the on-disk queue.
type Outbox struct {
	mu      sync.Mutex
	path    string
	byPeer  map[string][]string // peerID -> queueIDs, oldest first
	entries map[string]*model.PendingOutbound
}

// Open loads (or creates) the on-disk outbox at root/pending_outbox.json.
func Open(root string) (*Outbox, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("outbox: create storage root: %w", err)
	}
	o := &Outbox{
		path:    filepath.Join(root, fileName),
		byPeer:  make(map[string][]string),
		entries: make(map[string]*model.PendingOutbound),
	}
	if err := o.reload(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Outbox) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("outbox: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var all []*model.PendingOutbound
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("outbox: decode: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	for _, e := range all {
		o.entries[e.QueueID] = e
		o.byPeer[e.PeerID] = append(o.byPeer[e.PeerID], e.QueueID)
	}
	return nil
}

// persistAllLocked rewrites the whole queue array to disk, atomically.
// Caller must hold o.mu.
func (o *Outbox) persistAllLocked() error {
	all := make([]*model.PendingOutbound, 0, len(o.entries))
	for _, e := range o.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("outbox: marshal: %w", err)
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("outbox: write: %w", err)
	}
	return os.Rename(tmp, o.path)
}

// Enqueue appends envelope to peerID's queue. maxAge of zero means no
// expiry. If the peer's queue or the global total is already at
// capacity, the oldest entry (for that peer, or globally) is dropped
// to make room.
func (o *Outbox) Enqueue(peerID string, envelope []byte, maxAge time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.byPeer[peerID]) >= maxPerPeer {
		o.evictOldestLocked(peerID)
	}
	if len(o.entries) >= maxTotal {
		o.evictOldestGlobalLocked()
	}

	e := &model.PendingOutbound{
		QueueID:     uuid.NewString(),
		PeerID:      peerID,
		EnvelopeB64: base64.StdEncoding.EncodeToString(envelope),
		CreatedAt:   time.Now().UTC(),
	}
	if maxAge > 0 {
		e.MaxAgeSeconds = int64((maxAge + time.Second - 1) / time.Second)
	}

	o.entries[e.QueueID] = e
	o.byPeer[peerID] = append(o.byPeer[peerID], e.QueueID)
	if err := o.persistAllLocked(); err != nil {
		return "", err
	}
	o.reportDepthLocked(peerID)
	return e.QueueID, nil
}

// reportDepthLocked publishes the current queue depth for peerID and the
// aggregate total. Caller must hold o.mu.
func (o *Outbox) reportDepthLocked(peerID string) {
	metrics.DeliveryQueueDepth.WithLabelValues(peerID).Set(float64(len(o.byPeer[peerID])))
	metrics.DeliveryQueueDepth.WithLabelValues("_total").Set(float64(len(o.entries)))
}

// evictOldestLocked drops the oldest entry queued for peerID.
func (o *Outbox) evictOldestLocked(peerID string) {
	ids := o.byPeer[peerID]
	if len(ids) == 0 {
		return
	}
	o.removeLocked(ids[0])
}

// evictOldestGlobalLocked drops the globally-oldest entry across all peers.
func (o *Outbox) evictOldestGlobalLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, e := range o.entries {
		if oldestID == "" || e.CreatedAt.Before(oldestAt) {
			oldestID, oldestAt = id, e.CreatedAt
		}
	}
	if oldestID != "" {
		o.removeLocked(oldestID)
	}
}

// Peek returns the oldest still-queued, non-expired entry for peerID.
// Expired entries encountered along the way are removed as a side effect.
func (o *Outbox) Peek(peerID string) (*model.PendingOutbound, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	dirty := false
	defer func() {
		if dirty {
			_ = o.persistAllLocked()
		}
	}()
	for {
		ids := o.byPeer[peerID]
		if len(ids) == 0 {
			return nil, false
		}
		e := o.entries[ids[0]]
		if e == nil {
			o.removeLocked(ids[0])
			dirty = true
			continue
		}
		if e.Expired(now) {
			o.removeLocked(e.QueueID)
			dirty = true
			continue
		}
		cp := *e
		return &cp, true
	}
}

// Remove deletes queueID from the outbox, wherever it sits in its peer's queue.
func (o *Outbox) Remove(queueID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeLocked(queueID)
	return o.persistAllLocked()
}

func (o *Outbox) removeLocked(queueID string) {
	e, ok := o.entries[queueID]
	if !ok {
		return
	}
	delete(o.entries, queueID)

	ids := o.byPeer[e.PeerID]
	for i, id := range ids {
		if id == queueID {
			o.byPeer[e.PeerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(o.byPeer[e.PeerID]) == 0 {
		delete(o.byPeer, e.PeerID)
	}
	o.reportDepthLocked(e.PeerID)
}

// DrainForPeer removes and returns every non-expired entry queued for
// peerID, oldest first.
func (o *Outbox) DrainForPeer(peerID string) ([]*model.PendingOutbound, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	ids := append([]string(nil), o.byPeer[peerID]...)
	out := make([]*model.PendingOutbound, 0, len(ids))
	for _, id := range ids {
		e := o.entries[id]
		if e == nil {
			continue
		}
		if !e.Expired(now) {
			cp := *e
			out = append(out, &cp)
		}
		o.removeLocked(id)
	}
	if len(ids) > 0 {
		if err := o.persistAllLocked(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update persists mutations to an entry already in the outbox (attempt
// bookkeeping performed by the DeliveryEngine).
func (o *Outbox) Update(e *model.PendingOutbound) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[e.QueueID]; !ok {
		return fmt.Errorf("outbox: unknown queue entry %q", e.QueueID)
	}
	cp := *e
	o.entries[e.QueueID] = &cp
	return o.persistAllLocked()
}

// All returns every entry currently queued, in persisted (creation) order.
func (o *Outbox) All() []*model.PendingOutbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.PendingOutbound, 0, len(o.entries))
	for _, e := range o.entries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len reports the total number of entries currently queued.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
