package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/scmessenger/core/internal/model"
)

// HistoryStore persists user-visible MessageRecords, one JSON file per
// record ID, with an in-memory index for conversation listing and search.
type HistoryStore struct {
	mu      sync.RWMutex
	dir     string
	records map[string]*model.MessageRecord
}

// OpenHistoryStore loads (or creates) a HistoryStore rooted at dir.
func OpenHistoryStore(dir string) (*HistoryStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	s := &HistoryStore{dir: dir, records: make(map[string]*model.MessageRecord)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HistoryStore) reload() error {
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
		var r model.MessageRecord
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		cp := r
		s.records[r.ID] = &cp
	}
	return nil
}

// Append persists a new MessageRecord.
func (s *HistoryStore) Append(r model.MessageRecord) error {
	if err := validateKeyID(r.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	if err := writeJSONAtomic(recordPath(s.dir, r.ID), &cp); err != nil {
		return err
	}
	s.records[r.ID] = &cp
	return nil
}

// MarkDelivered flips a record's Delivered flag.
func (s *HistoryStore) MarkDelivered(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return model.ErrCorruptRecord
	}
	cp := *r
	cp.Delivered = true
	if err := writeJSONAtomic(recordPath(s.dir, id), &cp); err != nil {
		return err
	}
	s.records[id] = &cp
	return nil
}

// ListConversation returns the peer's MessageRecords, newest last,
// capped at limit entries (0 means unlimited).
func (s *HistoryStore) ListConversation(peerID string, limit int) []model.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MessageRecord
	for _, r := range s.records {
		if r.PeerID == peerID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Search performs a case-insensitive substring search over message
// content, optionally restricted to one peer, capped at limit results.
func (s *HistoryStore) Search(peerID, query string, limit int) []model.MessageRecord {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MessageRecord
	for _, r := range s.records {
		if peerID != "" && r.PeerID != peerID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Content), q) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DeleteByPeer removes every record for peerID.
func (s *HistoryStore) DeleteByPeer(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.PeerID != peerID {
			continue
		}
		delete(s.records, id)
		if err := os.Remove(recordPath(s.dir, id)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
