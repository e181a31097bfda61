package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
)

// openTestStore connects to SCMESSENGER_TEST_POSTGRES_DSN, if set, and
// skips otherwise: this package needs a live PostgreSQL instance, unlike
// the filesystem stores it mirrors, so it cannot run in the default
// sandboxed test environment.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SCMESSENGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCMESSENGER_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestContactUpsertAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddContact(ctx, model.Contact{PeerID: "pg-peer-1", PublicKey: "abc", Nickname: "Alice"}))
	require.NoError(t, s.AddContact(ctx, model.Contact{PeerID: "pg-peer-1", PublicKey: "abc", Nickname: "Alice2"}))

	c, ok, err := s.GetContact(ctx, "pg-peer-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice2", c.Nickname)

	matches, err := s.FindContactsByPublicKey(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, s.DeleteContact(ctx, "pg-peer-1"))
	_, ok, err = s.GetContact(ctx, "pg-peer-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryListAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, model.MessageRecord{ID: "pg-msg-1", Direction: model.DirectionSent, PeerID: "pg-peer-2", Content: "hello world", Timestamp: 1}))
	require.NoError(t, s.AppendHistory(ctx, model.MessageRecord{ID: "pg-msg-2", Direction: model.DirectionReceived, PeerID: "pg-peer-2", Content: "goodbye", Timestamp: 2}))

	records, err := s.ListConversation(ctx, "pg-peer-2", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "pg-msg-1", records[0].ID)

	matches, err := s.SearchHistory(ctx, "pg-peer-2", "HELLO", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pg-msg-1", matches[0].ID)

	require.NoError(t, s.DeleteHistoryByPeer(ctx, "pg-peer-2"))
	records, err = s.ListConversation(ctx, "pg-peer-2", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedgerRankingAndNoOpFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordLedgerFailure(ctx, "pg-never-seen"))
	relays, err := s.GetPreferredRelays(ctx, 0)
	require.NoError(t, err)
	for _, r := range relays {
		assert.NotEqual(t, "pg-never-seen", r.Multiaddr, "a failure on an unknown multiaddr must not create a row")
	}

	require.NoError(t, s.RecordLedgerConnection(ctx, "pg-relay-1", "peer-a"))
	require.NoError(t, s.RecordLedgerFailure(ctx, "pg-relay-2"))

	top, err := s.GetPreferredRelays(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
}

func TestSettingsGetSaveFailSafeDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.Equal(t, model.DefaultSettings(), s.GetSettings(ctx))

	warning, err := s.SaveSettings(ctx, model.Settings{RelayEnabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, warning, "relay enabled with every transport off should warn")
	assert.True(t, s.GetSettings(ctx).RelayEnabled)
}
