package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
)

func TestContactStoreUpsertAndLookup(t *testing.T) {
	s, err := OpenContactStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Add(model.Contact{PeerID: "peer-1", PublicKey: "abc", Nickname: "Alice"}))
	require.NoError(t, s.Add(model.Contact{PeerID: "peer-1", PublicKey: "abc", Nickname: "Alice2"}))

	c, ok := s.Get("peer-1")
	require.True(t, ok)
	assert.Equal(t, "Alice2", c.Nickname)
	assert.Len(t, s.List(), 1)

	matches := s.FindByPublicKey("abc")
	assert.Len(t, matches, 1)

	require.NoError(t, s.Delete("peer-1"))
	_, ok = s.Get("peer-1")
	assert.False(t, ok)
}

func TestContactStoreReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenContactStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Add(model.Contact{PeerID: "peer-2", PublicKey: "xyz"}))

	s2, err := OpenContactStore(dir)
	require.NoError(t, err)
	c, ok := s2.Get("peer-2")
	require.True(t, ok)
	assert.Equal(t, "xyz", c.PublicKey)
}

func TestHistoryStoreSearchAndConversation(t *testing.T) {
	s, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Append(model.MessageRecord{ID: "m1", PeerID: "p1", Content: "Hello World", Timestamp: 1}))
	require.NoError(t, s.Append(model.MessageRecord{ID: "m2", PeerID: "p1", Content: "Second message", Timestamp: 2}))
	require.NoError(t, s.Append(model.MessageRecord{ID: "m3", PeerID: "p2", Content: "unrelated", Timestamp: 3}))

	convo := s.ListConversation("p1", 0)
	require.Len(t, convo, 2)
	assert.Equal(t, "m1", convo[0].ID)

	results := s.Search("", "hello", 0)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)

	require.NoError(t, s.MarkDelivered("m1"))
	convo = s.ListConversation("p1", 0)
	assert.True(t, convo[0].Delivered)

	require.NoError(t, s.DeleteByPeer("p1"))
	assert.Empty(t, s.ListConversation("p1", 0))
}

func TestLedgerStoreRecordAndPreferred(t *testing.T) {
	s, err := OpenLedgerStore(t.TempDir())
	require.NoError(t, err)

	addrGood := "/ip4/10.0.0.1/tcp/4001/p2p/12D3KooGood"
	addrBad := "/ip4/10.0.0.2/tcp/4001/p2p/12D3KooBad"

	require.NoError(t, s.RecordConnection(addrGood, "peer-good"))
	require.NoError(t, s.RecordConnection(addrGood, "peer-good"))
	require.NoError(t, s.RecordConnection(addrBad, "peer-bad"))
	require.NoError(t, s.RecordFailure(addrBad))
	require.NoError(t, s.RecordFailure(addrBad))

	top := s.GetPreferredRelays(1)
	require.Len(t, top, 1)
	assert.Equal(t, addrGood, top[0].Multiaddr)
}

func TestSettingsStoreDefaultAndWarning(t *testing.T) {
	s, err := OpenSettingsStore(t.TempDir())
	require.NoError(t, err)
	assert.False(t, s.Get().RelayEnabled)

	warning, err := s.Save(model.Settings{RelayEnabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.True(t, s.Get().RelayEnabled)
}

func TestSettingsStoreReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenSettingsStore(dir)
	require.NoError(t, err)
	_, err = s1.Save(model.Settings{RelayEnabled: true, InternetEnabled: true})
	require.NoError(t, err)

	s2, err := OpenSettingsStore(dir)
	require.NoError(t, err)
	assert.True(t, s2.Get().RelayEnabled)
}
