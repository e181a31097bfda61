package cryptoengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
)

func TestGenerateIdentity(t *testing.T) {
	priv, pub, err := GenerateIdentity()
	require.NoError(t, err)
	assert.Len(t, priv, 64)
	assert.Len(t, pub, 32)
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("hello world")
	sig := Sign(priv, msg)
	assert.Len(t, sig, 64)
	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	senderPriv, senderPub, err := GenerateIdentity()
	require.NoError(t, err)
	recipientPriv, recipientPub, err := GenerateIdentity()
	require.NoError(t, err)

	plaintext := []byte("this is a secret message")
	env, err := Encrypt(senderPriv, senderPub, recipientPub, plaintext)
	require.NoError(t, err)

	out, err := Decrypt(recipientPriv, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptAADTamper(t *testing.T) {
	senderPriv, senderPub, err := GenerateIdentity()
	require.NoError(t, err)
	recipientPriv, recipientPub, err := GenerateIdentity()
	require.NoError(t, err)

	env, err := Encrypt(senderPriv, senderPub, recipientPub, []byte("hi"))
	require.NoError(t, err)

	_, otherPub, err := GenerateIdentity()
	require.NoError(t, err)
	copy(env.SenderPublicKey[:], otherPub)

	_, err = Decrypt(recipientPriv, env)
	require.ErrorIs(t, err, model.ErrDecryptFailed)
}

func TestDecryptWrongRecipient(t *testing.T) {
	senderPriv, senderPub, err := GenerateIdentity()
	require.NoError(t, err)
	_, recipientPub, err := GenerateIdentity()
	require.NoError(t, err)
	wrongPriv, _, err := GenerateIdentity()
	require.NoError(t, err)

	env, err := Encrypt(senderPriv, senderPub, recipientPub, []byte("hi"))
	require.NoError(t, err)

	_, err = Decrypt(wrongPriv, env)
	require.ErrorIs(t, err, model.ErrDecryptFailed)
}

func TestIdentityIDFromPublicKey(t *testing.T) {
	_, pub, err := GenerateIdentity()
	require.NoError(t, err)

	id1 := IdentityIDFromPublicKey(pub)
	id2 := IdentityIDFromPublicKey(pub)
	assert.Equal(t, id1, id2)
}
