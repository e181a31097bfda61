package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/scmessenger/core/internal/model"
)

// LedgerStore tracks known multiaddr/peer pairings for relay selection.
// Multiaddrs contain "/" and cannot be used directly as file names, so
// entries are keyed on disk by a hash of the multiaddr (mirroring
// inbox's hashID treatment of arbitrary message IDs) while the
// in-memory index remains keyed by the multiaddr string itself.
type LedgerStore struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]*model.LedgerEntry // multiaddr -> entry
}

// OpenLedgerStore loads (or creates) a LedgerStore rooted at dir.
func OpenLedgerStore(dir string) (*LedgerStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	s := &LedgerStore{dir: dir, entries: make(map[string]*model.LedgerEntry)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LedgerStore) reload() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var e model.LedgerEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		cp := e
		s.entries[e.Multiaddr] = &cp
	}
	return nil
}

func (s *LedgerStore) path(multiaddr string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%016x.json", fnv64a(multiaddr)))
}

func (s *LedgerStore) persist(e *model.LedgerEntry) error {
	return writeJSONAtomic(s.path(e.Multiaddr), e)
}

// RecordConnection bumps SuccessCount and LastSuccess for multiaddr,
// creating the entry (associated with peerID) if it did not exist.
func (s *LedgerStore) RecordConnection(multiaddr, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[multiaddr]
	if !ok {
		e = &model.LedgerEntry{Multiaddr: multiaddr, PeerID: peerID}
	}
	cp := *e
	now := time.Now().UTC()
	cp.PeerID = peerID
	cp.SuccessCount++
	cp.LastSuccess = &now
	if err := s.persist(&cp); err != nil {
		return err
	}
	s.entries[multiaddr] = &cp
	return nil
}

// RecordFailure bumps FailureCount and LastFailure for multiaddr. It is
// a no-op if the multiaddr has never been recorded as a connection.
func (s *LedgerStore) RecordFailure(multiaddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[multiaddr]
	if !ok {
		return nil
	}
	cp := *e
	now := time.Now().UTC()
	cp.FailureCount++
	cp.LastFailure = &now
	if err := s.persist(&cp); err != nil {
		return err
	}
	s.entries[multiaddr] = &cp
	return nil
}

// GetPreferredRelays ranks known ledger entries by success rate with a
// recency bias, returning the top n.
func (s *LedgerStore) GetPreferredRelays(n int) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := relayScore(out[i]), relayScore(out[j])
		if si != sj {
			return si > sj
		}
		return out[i].Multiaddr < out[j].Multiaddr
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// relayScore combines success rate with a recency bonus for having
// connected successfully recently, so a relay that worked a minute ago
// outranks one with an equal lifetime success rate that has not been
// seen in days.
func relayScore(e model.LedgerEntry) float64 {
	total := e.SuccessCount + e.FailureCount
	var rate float64
	if total > 0 {
		rate = float64(e.SuccessCount) / float64(total)
	}
	var recency float64
	if e.LastSuccess != nil {
		age := time.Since(*e.LastSuccess)
		recency = 1.0 / (1.0 + age.Hours())
	}
	return rate + 0.1*recency
}
