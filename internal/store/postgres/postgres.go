// Package postgres is an optional PostgreSQL-backed implementation of
// the same four record stores internal/store keeps as one-JSON-file-
// per-key directories: contacts, history, ledger, and settings. It
// exists for headless relay nodes that want shared, durable state
// across restarts on a server host instead of a local filesystem. Its
// methods follow each store's semantics but take a context and return
// errors, under their own names; ironcore's Managers wrap only the
// filesystem stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scmessenger/core/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	peer_id        TEXT PRIMARY KEY,
	public_key     TEXT NOT NULL,
	nickname       TEXT NOT NULL DEFAULT '',
	local_nickname TEXT NOT NULL DEFAULT '',
	added_at       TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ,
	notes          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS history (
	id        TEXT PRIMARY KEY,
	direction TEXT NOT NULL,
	peer_id   TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp BIGINT NOT NULL,
	delivered BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS history_peer_id_idx ON history (peer_id, timestamp);

CREATE TABLE IF NOT EXISTS ledger (
	multiaddr     TEXT PRIMARY KEY,
	peer_id       TEXT NOT NULL DEFAULT '',
	public_key    TEXT NOT NULL DEFAULT '',
	nickname      TEXT NOT NULL DEFAULT '',
	last_success  TIMESTAMPTZ,
	last_failure  TIMESTAMPTZ,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	id                   SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	relay_enabled        BOOLEAN NOT NULL,
	max_relay_budget     INTEGER NOT NULL,
	battery_floor        INTEGER NOT NULL,
	ble_enabled          BOOLEAN NOT NULL,
	wifi_aware_enabled   BOOLEAN NOT NULL,
	wifi_direct_enabled  BOOLEAN NOT NULL,
	internet_enabled     BOOLEAN NOT NULL,
	discovery_mode       TEXT NOT NULL DEFAULT '',
	onion_routing        BOOLEAN NOT NULL
);
`

// Store is a PostgreSQL-backed PersistentStoreBackend holding the same
// four record kinds internal/store keeps on the local filesystem.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, runs the idempotent schema migration, and
// returns a ready Store. Call Close when done.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- contacts ---

// AddContact upserts a contact keyed by PeerID, preserving the
// originally recorded AddedAt on update, matching ContactStore.Add.
func (s *Store) AddContact(ctx context.Context, c model.Contact) error {
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now().UTC()
	}
	var lastSeen *time.Time
	if !c.LastSeen.IsZero() {
		lastSeen = &c.LastSeen
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (peer_id, public_key, nickname, local_nickname, added_at, last_seen, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (peer_id) DO UPDATE SET
			public_key     = EXCLUDED.public_key,
			nickname       = EXCLUDED.nickname,
			local_nickname = EXCLUDED.local_nickname,
			last_seen      = EXCLUDED.last_seen,
			notes          = EXCLUDED.notes
	`, c.PeerID, c.PublicKey, c.Nickname, c.LocalNickname, c.AddedAt, lastSeen, c.Notes)
	if err != nil {
		return fmt.Errorf("postgres: add contact: %w", err)
	}
	return nil
}

// GetContact returns the contact for peerID, if any.
func (s *Store) GetContact(ctx context.Context, peerID string) (model.Contact, bool, error) {
	var c model.Contact
	var lastSeen *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT peer_id, public_key, nickname, local_nickname, added_at, last_seen, notes
		FROM contacts WHERE peer_id = $1
	`, peerID).Scan(&c.PeerID, &c.PublicKey, &c.Nickname, &c.LocalNickname, &c.AddedAt, &lastSeen, &c.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contact{}, false, nil
	}
	if err != nil {
		return model.Contact{}, false, fmt.Errorf("postgres: get contact: %w", err)
	}
	if lastSeen != nil {
		c.LastSeen = *lastSeen
	}
	return c, true, nil
}

// ListContacts returns every known contact.
func (s *Store) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_id, public_key, nickname, local_nickname, added_at, last_seen, notes FROM contacts
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contacts: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var lastSeen *time.Time
		if err := rows.Scan(&c.PeerID, &c.PublicKey, &c.Nickname, &c.LocalNickname, &c.AddedAt, &lastSeen, &c.Notes); err != nil {
			return nil, fmt.Errorf("postgres: scan contact: %w", err)
		}
		if lastSeen != nil {
			c.LastSeen = *lastSeen
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindContactsByPublicKey returns every contact whose PublicKey matches
// pubKeyHex exactly, matching ContactStore.FindByPublicKey.
func (s *Store) FindContactsByPublicKey(ctx context.Context, pubKeyHex string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_id, public_key, nickname, local_nickname, added_at, last_seen, notes
		FROM contacts WHERE public_key = $1
	`, pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("postgres: find contacts: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var lastSeen *time.Time
		if err := rows.Scan(&c.PeerID, &c.PublicKey, &c.Nickname, &c.LocalNickname, &c.AddedAt, &lastSeen, &c.Notes); err != nil {
			return nil, fmt.Errorf("postgres: scan contact: %w", err)
		}
		if lastSeen != nil {
			c.LastSeen = *lastSeen
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact.
func (s *Store) DeleteContact(ctx context.Context, peerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE peer_id = $1`, peerID); err != nil {
		return fmt.Errorf("postgres: delete contact: %w", err)
	}
	return nil
}

// --- history ---

// AppendHistory persists a new MessageRecord.
func (s *Store) AppendHistory(ctx context.Context, r model.MessageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO history (id, direction, peer_id, content, timestamp, delivered)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET delivered = EXCLUDED.delivered
	`, r.ID, string(r.Direction), r.PeerID, r.Content, r.Timestamp, r.Delivered)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	return nil
}

// ListConversation returns the peer's MessageRecords, oldest first,
// capped at the newest limit entries (0 means unlimited), matching
// HistoryStore.ListConversation.
func (s *Store) ListConversation(ctx context.Context, peerID string, limit int) ([]model.MessageRecord, error) {
	query := `SELECT id, direction, peer_id, content, timestamp, delivered FROM history
		WHERE peer_id = $1 ORDER BY timestamp ASC`
	args := []interface{}{peerID}
	if limit > 0 {
		query = `SELECT id, direction, peer_id, content, timestamp, delivered FROM (
			SELECT id, direction, peer_id, content, timestamp, delivered FROM history
			WHERE peer_id = $1 ORDER BY timestamp DESC LIMIT $2) recent
			ORDER BY timestamp ASC`
		args = append(args, limit)
	}
	return s.scanHistory(ctx, query, args...)
}

// SearchHistory performs a case-insensitive substring search over
// message content, optionally restricted to one peer, capped at limit
// results, matching HistoryStore.Search.
func (s *Store) SearchHistory(ctx context.Context, peerID, queryText string, limit int) ([]model.MessageRecord, error) {
	sql := `SELECT id, direction, peer_id, content, timestamp, delivered FROM history WHERE TRUE`
	args := []interface{}{}
	if peerID != "" {
		args = append(args, peerID)
		sql += fmt.Sprintf(` AND peer_id = $%d`, len(args))
	}
	if queryText != "" {
		args = append(args, "%"+queryText+"%")
		sql += fmt.Sprintf(` AND content ILIKE $%d`, len(args))
	}
	sql += ` ORDER BY timestamp ASC`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.scanHistory(ctx, sql, args...)
}

func (s *Store) scanHistory(ctx context.Context, query string, args ...interface{}) ([]model.MessageRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var out []model.MessageRecord
	for rows.Next() {
		var r model.MessageRecord
		var direction string
		if err := rows.Scan(&r.ID, &direction, &r.PeerID, &r.Content, &r.Timestamp, &r.Delivered); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		r.Direction = model.Direction(direction)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteHistoryByPeer removes every record for peerID.
func (s *Store) DeleteHistoryByPeer(ctx context.Context, peerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM history WHERE peer_id = $1`, peerID); err != nil {
		return fmt.Errorf("postgres: delete history: %w", err)
	}
	return nil
}

// --- ledger ---

// RecordLedgerConnection bumps success_count/last_success for
// multiaddr, creating the row (associated with peerID) if it did not
// exist, matching LedgerStore.RecordConnection.
func (s *Store) RecordLedgerConnection(ctx context.Context, multiaddr, peerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger (multiaddr, peer_id, success_count, last_success)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (multiaddr) DO UPDATE SET
			peer_id       = EXCLUDED.peer_id,
			success_count = ledger.success_count + 1,
			last_success  = now()
	`, multiaddr, peerID)
	if err != nil {
		return fmt.Errorf("postgres: record connection: %w", err)
	}
	return nil
}

// RecordLedgerFailure bumps failure_count/last_failure for multiaddr.
// It is a no-op if the multiaddr has never been recorded, matching
// LedgerStore.RecordFailure.
func (s *Store) RecordLedgerFailure(ctx context.Context, multiaddr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ledger SET failure_count = failure_count + 1, last_failure = now()
		WHERE multiaddr = $1
	`, multiaddr)
	if err != nil {
		return fmt.Errorf("postgres: record failure: %w", err)
	}
	return nil
}

// GetPreferredRelays ranks known ledger entries by success rate with a
// recency bias, returning the top n, matching LedgerStore.GetPreferredRelays.
func (s *Store) GetPreferredRelays(ctx context.Context, n int) ([]model.LedgerEntry, error) {
	query := `
		SELECT multiaddr, peer_id, public_key, nickname, last_success, last_failure, success_count, failure_count
		FROM ledger
		ORDER BY
			(CASE WHEN success_count + failure_count > 0
				THEN success_count::float8 / (success_count + failure_count)
				ELSE 0 END)
			+ 0.1 * (CASE WHEN last_success IS NOT NULL
				THEN 1.0 / (1.0 + EXTRACT(EPOCH FROM (now() - last_success)) / 3600.0)
				ELSE 0 END) DESC,
			multiaddr ASC`
	args := []interface{}{}
	if n > 0 {
		query += ` LIMIT $1`
		args = append(args, n)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: preferred relays: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.Multiaddr, &e.PeerID, &e.PublicKey, &e.Nickname, &e.LastSuccess, &e.LastFailure, &e.SuccessCount, &e.FailureCount); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- settings ---

// GetSettings returns the persisted Settings, falling back to
// model.DefaultSettings() fail-safe if none has ever been saved,
// matching SettingsStore's "any load error means relay off" invariant.
func (s *Store) GetSettings(ctx context.Context) model.Settings {
	var set model.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT relay_enabled, max_relay_budget, battery_floor, ble_enabled,
		       wifi_aware_enabled, wifi_direct_enabled, internet_enabled,
		       discovery_mode, onion_routing
		FROM settings WHERE id = 1
	`).Scan(&set.RelayEnabled, &set.MaxRelayBudget, &set.BatteryFloor, &set.BLEEnabled,
		&set.WiFiAwareEnabled, &set.WiFiDirectEnabled, &set.InternetEnabled,
		&set.DiscoveryMode, &set.OnionRouting)
	if err != nil {
		return model.DefaultSettings()
	}
	return set
}

// SaveSettings validates and persists new settings, returning a
// non-fatal warning string for contradictory-but-accepted
// configurations, matching SettingsStore.Save.
func (s *Store) SaveSettings(ctx context.Context, set model.Settings) (warning string, err error) {
	if set.RelayEnabled && !set.BLEEnabled && !set.WiFiAwareEnabled && !set.WiFiDirectEnabled && !set.InternetEnabled {
		warning = "relay is enabled but every transport is disabled; relay will never be reachable"
	}
	_, execErr := s.pool.Exec(ctx, `
		INSERT INTO settings (id, relay_enabled, max_relay_budget, battery_floor, ble_enabled,
			wifi_aware_enabled, wifi_direct_enabled, internet_enabled, discovery_mode, onion_routing)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			relay_enabled       = EXCLUDED.relay_enabled,
			max_relay_budget    = EXCLUDED.max_relay_budget,
			battery_floor       = EXCLUDED.battery_floor,
			ble_enabled         = EXCLUDED.ble_enabled,
			wifi_aware_enabled  = EXCLUDED.wifi_aware_enabled,
			wifi_direct_enabled = EXCLUDED.wifi_direct_enabled,
			internet_enabled    = EXCLUDED.internet_enabled,
			discovery_mode      = EXCLUDED.discovery_mode,
			onion_routing       = EXCLUDED.onion_routing
	`, set.RelayEnabled, set.MaxRelayBudget, set.BatteryFloor, set.BLEEnabled,
		set.WiFiAwareEnabled, set.WiFiDirectEnabled, set.InternetEnabled, set.DiscoveryMode, set.OnionRouting)
	if execErr != nil {
		return "", fmt.Errorf("postgres: save settings: %w", execErr)
	}
	return warning, nil
}

// Ping reports whether the pool can still reach the database, for
// internal/health's StoreHealthCheck.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
