package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/scmessenger/core/internal/model"
)

// ContactStore persists known correspondents, keyed canonically by peer ID.
type ContactStore struct {
	mu       sync.RWMutex
	dir      string
	contacts map[string]*model.Contact
}

// OpenContactStore loads (or creates) a ContactStore rooted at dir.
func OpenContactStore(dir string) (*ContactStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	s := &ContactStore{dir: dir, contacts: make(map[string]*model.Contact)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ContactStore) reload() error {
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
		var c model.Contact
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		cp := c
		s.contacts[c.PeerID] = &cp
	}
	return nil
}

// Add upserts a contact keyed by PeerID. If a contact already exists
// under that peer ID, AddedAt is preserved from the original record.
// Add does not enforce "one contact per public key" against other peer
// IDs: a libp2p-ID-keyed contact recorded before a sender's identity
// is learned, and the identity-ID-keyed contact recorded once a
// verified message resolves it, legitimately coexist for a time. That
// duplication is resolved downstream by routing.Resolver.Canonicalize,
// whose ambiguous-match fallthrough exists specifically to reconcile
// multiple contacts sharing a public key; see DESIGN.md.
func (s *ContactStore) Add(c model.Contact) error {
	if err := validateKeyID(c.PeerID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.contacts[c.PeerID]; ok && !existing.AddedAt.IsZero() {
		c.AddedAt = existing.AddedAt
	} else if c.AddedAt.IsZero() {
		c.AddedAt = time.Now().UTC()
	}

	cp := c
	if err := writeJSONAtomic(recordPath(s.dir, c.PeerID), &cp); err != nil {
		return err
	}
	s.contacts[c.PeerID] = &cp
	return nil
}

// Get returns a copy of the contact for peerID, if present.
func (s *ContactStore) Get(peerID string) (model.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[peerID]
	if !ok {
		return model.Contact{}, false
	}
	return *c, true
}

// List returns a copy of every known contact.
func (s *ContactStore) List() []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	return out
}

// FindByPublicKey returns every contact whose PublicKey matches pubKeyHex,
// used by RoutingResolver's canonicalization steps.
func (s *ContactStore) FindByPublicKey(pubKeyHex string) []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contact
	for _, c := range s.contacts {
		if c.PublicKey == pubKeyHex {
			out = append(out, *c)
		}
	}
	return out
}

// Delete removes a contact.
func (s *ContactStore) Delete(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, peerID)
	if err := os.Remove(recordPath(s.dir, peerID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TouchLastSeen bumps LastSeen for an existing contact to now.
func (s *ContactStore) TouchLastSeen(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[peerID]
	if !ok {
		return model.ErrContactNotFound
	}
	cp := *c
	cp.LastSeen = time.Now().UTC()
	if err := writeJSONAtomic(recordPath(s.dir, peerID), &cp); err != nil {
		return err
	}
	s.contacts[peerID] = &cp
	return nil
}
