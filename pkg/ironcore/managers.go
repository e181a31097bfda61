package ironcore

import (
	"fmt"

	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/store"
)

// ContactManager exposes ContactStore through the façade's
// add/get/remove/list/search/count/clear shape.
type ContactManager struct {
	store *store.ContactStore
}

// Add upserts a contact, keyed by PeerID.
func (m *ContactManager) Add(c model.Contact) error {
	return m.store.Add(c)
}

// Get returns the contact for peerID, if any.
func (m *ContactManager) Get(peerID string) (model.Contact, bool) {
	return m.store.Get(peerID)
}

// Remove deletes the contact for peerID.
func (m *ContactManager) Remove(peerID string) error {
	return m.store.Delete(peerID)
}

// List returns every contact.
func (m *ContactManager) List() []model.Contact {
	return m.store.List()
}

// Search finds contacts by exact public key match; there are no
// free-text contact fields worth substring search beyond that.
func (m *ContactManager) Search(publicKeyHex string) []model.Contact {
	return m.store.FindByPublicKey(publicKeyHex)
}

// Count returns the number of known contacts.
func (m *ContactManager) Count() int {
	return len(m.store.List())
}

// Clear removes every contact.
func (m *ContactManager) Clear() error {
	for _, c := range m.store.List() {
		if err := m.store.Delete(c.PeerID); err != nil {
			return fmt.Errorf("ironcore: clear contacts: %w", err)
		}
	}
	return nil
}

// HistoryManager exposes HistoryStore through the façade shape.
// "List" and "Remove" operate at conversation (per-peer) granularity
// since MessageRecords have no standalone accessor in the underlying
// store; "Add" is intentionally absent because history records are an
// effect of SendMessage/OnDataReceived, never appended directly by UI.
type HistoryManager struct {
	store *store.HistoryStore
}

// List returns up to limit records for a conversation, oldest first.
func (m *HistoryManager) List(peerID string, limit int) []model.MessageRecord {
	return m.store.ListConversation(peerID, limit)
}

// Search performs a case-insensitive substring search over a
// conversation's content.
func (m *HistoryManager) Search(peerID, query string, limit int) []model.MessageRecord {
	return m.store.Search(peerID, query, limit)
}

// Remove deletes every record for peerID.
func (m *HistoryManager) Remove(peerID string) error {
	return m.store.DeleteByPeer(peerID)
}

// Count returns the number of records in a conversation.
func (m *HistoryManager) Count(peerID string) int {
	return len(m.store.ListConversation(peerID, 0))
}

// LedgerManager exposes LedgerStore through the façade shape.
type LedgerManager struct {
	store *store.LedgerStore
}

// RecordConnection bumps success_count/last_success for multiaddr.
func (m *LedgerManager) RecordConnection(multiaddr, peerID string) error {
	return m.store.RecordConnection(multiaddr, peerID)
}

// RecordFailure bumps failure_count/last_failure for multiaddr.
func (m *LedgerManager) RecordFailure(multiaddr string) error {
	return m.store.RecordFailure(multiaddr)
}

// List returns the n highest-ranked relay candidates.
func (m *LedgerManager) List(n int) []model.LedgerEntry {
	return m.store.GetPreferredRelays(n)
}

// Count returns the n-unbounded ledger size.
func (m *LedgerManager) Count() int {
	return len(m.store.GetPreferredRelays(0))
}

// MeshSettingsManager exposes SettingsStore through the façade shape.
// Settings is a single node-wide record, so Get/Save stand in for
// add/remove/list/search; Clear resets it to model.DefaultSettings().
type MeshSettingsManager struct {
	store *store.SettingsStore
}

// Get returns the current Settings.
func (m *MeshSettingsManager) Get() model.Settings {
	return m.store.Get()
}

// Save validates and persists new Settings, returning a non-fatal
// warning string for contradictory-but-accepted configurations.
func (m *MeshSettingsManager) Save(settings model.Settings) (warning string, err error) {
	return m.store.Save(settings)
}

// Clear resets Settings to the fail-safe compiled default (relay off).
func (m *MeshSettingsManager) Clear() error {
	_, err := m.store.Save(model.DefaultSettings())
	return err
}
