package ironcore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/codec"
	"github.com/scmessenger/core/internal/config"
	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/model"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := &config.Config{
		StorageRoot: t.TempDir(),
		Mesh:        config.MeshConfig{ListenMultiaddr: ""},
		Settings:    model.Settings{RelayEnabled: true, InternetEnabled: true},
	}
	core, err := WithStorage(cfg)
	require.NoError(t, err)
	return core
}

func TestWithStorageAutoInitializesIdentityOnFirstRun(t *testing.T) {
	core := newTestCore(t)

	info, err := core.GetIdentityInfo()
	require.NoError(t, err)
	assert.NotEmpty(t, info.IdentityID)
	assert.NotEmpty(t, info.PublicKeyHex)
	assert.NotEmpty(t, info.LibP2PPeerID)

	assert.Equal(t, model.Settings{RelayEnabled: true, InternetEnabled: true}, core.Settings.Get())
}

func TestInitializeIdentityIsIdempotent(t *testing.T) {
	core := newTestCore(t)
	first, err := core.GetIdentityInfo()
	require.NoError(t, err)

	again, err := core.InitializeIdentity()
	require.NoError(t, err)
	assert.Equal(t, first.IdentityID, again.IdentityID)
}

func TestSetNicknameUpdatesIdentity(t *testing.T) {
	core := newTestCore(t)
	require.NoError(t, core.SetNickname("alice"))
	info, err := core.GetIdentityInfo()
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Nickname)
}

func TestExtractPublicKeyFromPeerIDRoundTrips(t *testing.T) {
	core := newTestCore(t)
	info, err := core.GetIdentityInfo()
	require.NoError(t, err)

	pubHex, ok := core.ExtractPublicKeyFromPeerID(info.LibP2PPeerID)
	require.True(t, ok)
	assert.Equal(t, info.PublicKeyHex, pubHex)

	_, ok = core.ExtractPublicKeyFromPeerID("not-a-peer-id")
	assert.False(t, ok)
}

func TestPrepareMessageWithIDProducesDecryptableEnvelope(t *testing.T) {
	sender := newTestCore(t)
	recipient := newTestCore(t)
	recipientInfo, err := recipient.GetIdentityInfo()
	require.NoError(t, err)

	messageID, envelopeBytes, err := sender.PrepareMessageWithID(recipientInfo.PublicKeyHex, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)
	assert.NotEmpty(t, envelopeBytes)

	env, err := codec.Decode(envelopeBytes)
	require.NoError(t, err)
	recipientPriv, err := recipient.identity.PrivateKey()
	require.NoError(t, err)
	plaintext, err := cryptoengine.Decrypt(recipientPriv, env)
	require.NoError(t, err)

	var msg model.Message
	require.NoError(t, json.Unmarshal(plaintext, &msg))
	assert.Equal(t, messageID, msg.ID)
	assert.Equal(t, model.MessageKindText, msg.Kind)
	assert.Equal(t, []byte("hello"), msg.Payload)
}

func TestPrepareReceiptProducesEnvelope(t *testing.T) {
	sender := newTestCore(t)
	recipient := newTestCore(t)
	recipientInfo, err := recipient.GetIdentityInfo()
	require.NoError(t, err)

	envelopeBytes, err := sender.PrepareReceipt(recipientInfo.PublicKeyHex, "msg-1")
	require.NoError(t, err)
	assert.NotEmpty(t, envelopeBytes)
}

func TestSendMessageGatedByRelaySettingReturnsRelayDisabled(t *testing.T) {
	core := newTestCore(t)
	_, err := core.Settings.Save(model.Settings{RelayEnabled: false})
	require.NoError(t, err)

	peer, err := core.InitializeIdentity()
	require.NoError(t, err)
	require.NoError(t, core.Contacts.Add(model.Contact{PeerID: "bob", PublicKey: peer.PublicKeyHex}))

	_, err = core.SendMessage("bob", "hi")
	assert.ErrorIs(t, err, model.ErrRelayDisabled)
	assert.Empty(t, core.History.List("bob", 10), "gated send must not create a history record")
}

func TestSendMessageUnknownContactFails(t *testing.T) {
	core := newTestCore(t)
	_, err := core.SendMessage("nobody", "hi")
	assert.ErrorIs(t, err, model.ErrContactNotFound)
}

func TestSendMessageRecordsSentHistoryAndEnqueues(t *testing.T) {
	core := newTestCore(t)
	recipient := newTestCore(t)
	recipientInfo, err := recipient.GetIdentityInfo()
	require.NoError(t, err)

	require.NoError(t, core.Contacts.Add(model.Contact{
		PeerID:    "bob",
		PublicKey: recipientInfo.PublicKeyHex,
		AddedAt:   time.Now(),
	}))

	messageID, err := core.SendMessage("bob", "hello bob")
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)

	records := core.History.List("bob", 10)
	require.Len(t, records, 1)
	assert.Equal(t, model.DirectionSent, records[0].Direction)
	assert.False(t, records[0].Delivered)
	assert.Equal(t, "hello bob", records[0].Content)
}

func TestContactManagerCRUD(t *testing.T) {
	core := newTestCore(t)
	c := model.Contact{PeerID: "bob", PublicKey: "ab", Nickname: "Bob"}
	require.NoError(t, core.Contacts.Add(c))

	got, ok := core.Contacts.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "Bob", got.Nickname)

	assert.Equal(t, 1, core.Contacts.Count())
	assert.Len(t, core.Contacts.List(), 1)
	assert.Len(t, core.Contacts.Search("ab"), 1)

	require.NoError(t, core.Contacts.Remove("bob"))
	assert.Equal(t, 0, core.Contacts.Count())
}

func TestContactManagerClear(t *testing.T) {
	core := newTestCore(t)
	require.NoError(t, core.Contacts.Add(model.Contact{PeerID: "bob", PublicKey: "ab"}))
	require.NoError(t, core.Contacts.Add(model.Contact{PeerID: "carol", PublicKey: "cd"}))
	require.NoError(t, core.Contacts.Clear())
	assert.Equal(t, 0, core.Contacts.Count())
}

func TestLedgerManagerTracksConnections(t *testing.T) {
	core := newTestCore(t)
	require.NoError(t, core.Ledger.RecordConnection("/ip4/10.0.0.1/tcp/4001", "peer-a"))
	require.NoError(t, core.Ledger.RecordFailure("/ip4/10.0.0.2/tcp/4001"))

	assert.Equal(t, 1, core.Ledger.Count())
	preferred := core.Ledger.List(1)
	require.Len(t, preferred, 1)
	assert.Equal(t, "/ip4/10.0.0.1/tcp/4001", preferred[0].Multiaddr)
}

func TestMeshSettingsManagerGetSaveClear(t *testing.T) {
	core := newTestCore(t)
	warning, err := core.Settings.Save(model.Settings{RelayEnabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, warning, "relay enabled with every transport off should warn")

	require.NoError(t, core.Settings.Clear())
	assert.Equal(t, model.DefaultSettings(), core.Settings.Get())
}

func TestMeshServiceLifecycleWrapper(t *testing.T) {
	core := newTestCore(t)
	assert.Equal(t, 0, int(core.GetState()))

	require.NoError(t, core.Start(context.Background()))
	require.NoError(t, core.Stop(context.Background()))
}
