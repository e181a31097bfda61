// Package cryptoengine implements the core cryptographic primitives:
// Ed25519 identity signing, Ed25519-to-X25519 conversion, ephemeral ECDH,
// an HKDF-SHA256 key derivation step, and XChaCha20-Poly1305 sealed
// envelopes with sender-bound AAD.
package cryptoengine

import (
	"crypto/ed25519"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"io"
	"time"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/scmessenger/core/internal/metrics"
	"github.com/scmessenger/core/internal/model"
)

// kdfContext is bound into HKDF's info parameter so derived keys are
// domain-separated from any other use of the same shared secret.
const kdfContext = "iron-core v2 message encryption 2026-02-05"

// GenerateIdentity creates a new Ed25519 keypair using the system CSPRNG.
func GenerateIdentity() (priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate identity: %w", err)
	}
	return priv, pub, nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	start := time.Now()
	sig := ed25519.Sign(priv, msg)
	metrics.CryptoOperations.WithLabelValues("sign").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign").Observe(time.Since(start).Seconds())
	return sig
}

// Verify reports whether sig is a valid Ed25519 signature of msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	start := time.Now()
	ok := ed25519.Verify(pub, msg, sig)
	metrics.CryptoOperations.WithLabelValues("verify").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	return ok
}

// Encrypt seals plaintext for recipientPub (an Ed25519 public key). It
// generates a fresh ephemeral X25519 keypair, performs ECDH against the
// recipient's X25519-converted key, derives a 32-byte key via
// HKDF-SHA256, and seals with XChaCha20-Poly1305 using a random 24-byte
// nonce and AAD = senderPub bytes.
func Encrypt(senderPriv ed25519.PrivateKey, senderPub ed25519.PublicKey, recipientPub ed25519.PublicKey, plaintext []byte) (*model.Envelope, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("seal").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("seal").Observe(time.Since(start).Seconds())
	}()

	if len(senderPub) != ed25519.PublicKeySize || len(recipientPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("encrypt: %w", model.ErrInvalidPublicKey)
	}

	recipientX, err := ed25519PubToX25519(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("encrypt: convert recipient key: %w", err)
	}
	recipientCurvePub, err := ecdh.X25519().NewPublicKey(recipientX)
	if err != nil {
		return nil, fmt.Errorf("encrypt: parse recipient key: %w", err)
	}

	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("encrypt: generate ephemeral key: %w", err)
	}
	shared, err := ephemeralPriv.ECDH(recipientCurvePub)
	if err != nil {
		return nil, fmt.Errorf("encrypt: ecdh: %w", err)
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: new aead: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("encrypt: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce[:], plaintext, senderPub)

	env := &model.Envelope{
		Ciphertext: ciphertext,
	}
	copy(env.SenderPublicKey[:], senderPub)
	copy(env.EphemeralPublicKey[:], ephemeralPriv.PublicKey().Bytes())
	copy(env.Nonce[:], nonce[:])
	return env, nil
}

// Decrypt opens an Envelope addressed to recipientPriv. AEAD tag failure,
// a length mismatch on any declared field, or a tampered AAD all return
// the same error kind, model.ErrDecryptFailed, so the caller cannot use
// timing or error variants as a decryption oracle.
func Decrypt(recipientPriv ed25519.PrivateKey, env *model.Envelope) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperations.WithLabelValues("open").Inc()
		metrics.CryptoOperationDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())
	}()

	recipientX, err := ed25519PrivToX25519(recipientPriv)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}
	recipientCurvePriv, err := ecdh.X25519().NewPrivateKey(recipientX)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	ephPub, err := ecdh.X25519().NewPublicKey(env.EphemeralPublicKey[:])
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	shared, err := recipientCurvePriv.ECDH(ephPub)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	key, err := deriveKey(shared)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	plaintext, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, env.SenderPublicKey[:])
	if err != nil {
		metrics.DecryptFailures.Inc()
		return nil, fmt.Errorf("decrypt: %w", model.ErrDecryptFailed)
	}

	return plaintext, nil
}

// deriveKey runs HKDF-SHA256 over the raw ECDH shared secret, bound to
// kdfContext. No Blake3 implementation is available in this dependency
// graph, so this substitutes the HKDF-SHA256 step already used
// elsewhere for session key derivation; see DESIGN.md for the
// grounding note.
func deriveKey(shared []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, shared, nil, []byte(kdfContext))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// ed25519PubToX25519 converts an Ed25519 public key to its X25519
// (Montgomery-form) equivalent by decompressing the Edwards point.
func ed25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad ed25519 public key length: %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// ed25519PrivToX25519 converts an Ed25519 private key into the clamped
// X25519 scalar, per RFC 8032 §5.1.5.
func ed25519PrivToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad ed25519 private key length: %d", len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	out := make([]byte, 32)
	copy(out, h[:32])
	return out, nil
}

// constantTimeEqual is used where the engine compares MAC-adjacent
// values outside of the AEAD's own constant-time tag check.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// IdentityIDFromPublicKey computes the stable user-facing identifier
// from a public key: sha256 truncated to 32 bytes (the full digest),
// lower-case hex. No Blake3 implementation is available here either
// (see deriveKey), so sha256 substitutes it too, documented in
// DESIGN.md.
func IdentityIDFromPublicKey(pub ed25519.PublicKey) [32]byte {
	return sha256.Sum256(pub)
}
