package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
)

func TestInitializeAndInfo(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	_, err = s.Info()
	require.ErrorIs(t, err, model.ErrNoIdentity)

	id, err := s.Initialize("alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id.IdentityID)
	assert.NotEmpty(t, id.PublicKeyHex)
	assert.True(t, strings.HasPrefix(id.LibP2PPeerID, "12D3Koo"))
	assert.Equal(t, "alice", id.Nickname)

	again, err := s.Initialize("bob")
	assert.Nil(t, again)
	require.ErrorIs(t, err, model.ErrIdentityExists)

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID, info.IdentityID)
}

func TestInitializeRejectsLongNickname(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	_, err = s.Initialize(strings.Repeat("x", 65))
	require.Error(t, err)
}

func TestPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir)
	require.NoError(t, err)
	id1, err := s1.Initialize("alice")
	require.NoError(t, err)

	s2, err := NewStore(dir)
	require.NoError(t, err)
	id2, err := s2.Info()
	require.NoError(t, err)
	assert.Equal(t, id1.IdentityID, id2.IdentityID)
	assert.Equal(t, id1.LibP2PPeerID, id2.LibP2PPeerID)

	priv, err := s2.PrivateKey()
	require.NoError(t, err)
	assert.Len(t, priv, 64)
}

func TestSetNickname(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	_, err = s.Initialize("alice")
	require.NoError(t, err)

	require.NoError(t, s.SetNickname("alice2"))
	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, "alice2", info.Nickname)

	require.Error(t, s.SetNickname(strings.Repeat("y", 65)))
}

func TestExportImportBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	id, err := s.Initialize("alice")
	require.NoError(t, err)

	backup, err := s.ExportBackup("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, backup)

	dir2 := t.TempDir()
	s2, err := NewStore(dir2)
	require.NoError(t, err)
	restored, err := s2.ImportBackup(backup, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, id.IdentityID, restored.IdentityID)
	assert.Equal(t, id.LibP2PPeerID, restored.LibP2PPeerID)
}

func TestImportBackupWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	_, err = s.Initialize("alice")
	require.NoError(t, err)

	backup, err := s.ExportBackup("correct horse battery staple")
	require.NoError(t, err)

	dir2 := t.TempDir()
	s2, err := NewStore(dir2)
	require.NoError(t, err)
	_, err = s2.ImportBackup(backup, "wrong passphrase")
	require.Error(t, err)
}

func TestImportBackupRejectsDifferentIdentity(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	_, err = s.Initialize("alice")
	require.NoError(t, err)
	backup, err := s.ExportBackup("correct horse battery staple")
	require.NoError(t, err)

	dir2 := t.TempDir()
	s2, err := NewStore(dir2)
	require.NoError(t, err)
	_, err = s2.Initialize("bob")
	require.NoError(t, err)

	_, err = s2.ImportBackup(backup, "correct horse battery staple")
	require.ErrorIs(t, err, model.ErrIdentityExists)
}

func TestExtractPublicKeyFromPeerID(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	id, err := s.Initialize("alice")
	require.NoError(t, err)

	pubHex, ok := ExtractPublicKeyFromPeerID(id.LibP2PPeerID)
	require.True(t, ok)
	assert.Equal(t, id.PublicKeyHex, pubHex)

	_, ok = ExtractPublicKeyFromPeerID("not-a-peer-id")
	assert.False(t, ok)
}
