package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/store"
)

func TestClassifiers(t *testing.T) {
	assert.True(t, IsLibP2PPeerID("12D3KooWabc"))
	assert.True(t, IsLibP2PPeerID("QmSomething"))
	assert.False(t, IsLibP2PPeerID("not-a-peer"))

	hex64 := ""
	for i := 0; i < 64; i++ {
		hex64 += "a"
	}
	assert.True(t, IsIdentityID(hex64))
	assert.False(t, IsIdentityID("short"))
}

func TestCanonicalizeExactMatch(t *testing.T) {
	cs, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-1", PublicKey: "pub-1"}))

	r := NewResolver(cs)
	peerID, ambiguous := r.Canonicalize("peer-1", "pub-1")
	assert.Equal(t, "peer-1", peerID)
	assert.False(t, ambiguous)
}

func TestCanonicalizeUniquePublicKeyMatch(t *testing.T) {
	cs, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.Add(model.Contact{PeerID: "stable-peer-id", PublicKey: "pub-2"}))

	r := NewResolver(cs)
	peerID, ambiguous := r.Canonicalize("12D3KooTransient", "pub-2")
	assert.Equal(t, "stable-peer-id", peerID)
	assert.False(t, ambiguous)
}

func TestCanonicalizeAmbiguousFallsThrough(t *testing.T) {
	cs, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-a", PublicKey: "shared"}))
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-b", PublicKey: "shared"}))

	r := NewResolver(cs)
	peerID, ambiguous := r.Canonicalize("claimed-id", "shared")
	assert.Equal(t, "claimed-id", peerID)
	assert.True(t, ambiguous)
}

func TestCanonicalizeResolvesViaNotesLinkedLibP2PPeerID(t *testing.T) {
	cs, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-a", PublicKey: "shared"}))
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-b", PublicKey: "shared", Notes: "libp2p_peer_id:12D3KooClaimed"}))

	r := NewResolver(cs)
	peerID, ambiguous := r.Canonicalize("12D3KooClaimed", "shared")
	assert.Equal(t, "peer-b", peerID)
	assert.False(t, ambiguous)
}

func TestCanonicalizeResolvesViaNotesForIdentityClaimedID(t *testing.T) {
	cs, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	hex64 := ""
	for i := 0; i < 64; i++ {
		hex64 += "b"
	}
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-a", PublicKey: "shared"}))
	require.NoError(t, cs.Add(model.Contact{PeerID: "peer-b", PublicKey: "shared", Notes: "libp2p_peer_id:12D3KooSomeone"}))

	r := NewResolver(cs)
	peerID, ambiguous := r.Canonicalize(hex64, "shared")
	assert.Equal(t, "peer-b", peerID)
	assert.False(t, ambiguous)
}

func TestNotesHintAccessors(t *testing.T) {
	notes := "libp2p_peer_id:12D3KooAbc;listeners:/ip4/10.0.0.5/tcp/4001,/ip4/10.0.0.6/tcp/4001"

	pid, ok := LibP2PPeerIDFromNotes(notes)
	assert.True(t, ok)
	assert.Equal(t, "12D3KooAbc", pid)

	listeners := ListenersFromNotes(notes)
	assert.Equal(t, []string{"/ip4/10.0.0.5/tcp/4001", "/ip4/10.0.0.6/tcp/4001"}, listeners)

	_, ok = LibP2PPeerIDFromNotes("")
	assert.False(t, ok)
}

func TestBuildDialCandidatesFiltersAndOrders(t *testing.T) {
	raw := []string{
		"127.0.0.1:4001",
		"0.0.0.0:4001",
		"10.0.0.5:4001",
		"203.0.113.10:4001",
	}
	candidates := BuildDialCandidates(raw, "10.0.0.1", "12D3KooTarget", nil, nil, nil)

	var addrs []string
	for _, c := range candidates {
		addrs = append(addrs, c.Multiaddr)
	}
	assert.NotContains(t, addrs, "/ip4/127.0.0.1/tcp/4001")

	require.NotEmpty(t, candidates)
	assert.True(t, candidates[0].SameLAN)
}

func TestBuildDialCandidatesSynthesizesRelayCircuit(t *testing.T) {
	candidates := BuildDialCandidates(nil, "10.0.0.1", "12D3KooTarget",
		[]string{"12D3KooRelay"},
		[]string{"/ip4/198.51.100.1/tcp/4001"},
		map[string]bool{},
	)
	require.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Multiaddr, "/p2p-circuit/p2p/12D3KooTarget")
}
