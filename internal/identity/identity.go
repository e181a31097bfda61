// Package identity manages the node's single long-term Ed25519 keypair:
// generation, on-disk persistence, nickname, libp2p peer ID derivation,
// and passphrase-protected export/import of portable backups.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"

	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/model"
)

const (
	identityFileName = "identity.json"
	maxNicknameLen    = 64
	backupVersion     = "1.0"
	backupAlgorithm   = "AES-256-GCM+PBKDF2-SHA256"
	pbkdf2Iterations  = 100000
)

// identityFile is the on-disk envelope for the node's private key. It is
// not passphrase-encrypted: the storage root's own file permissions are
// the trust boundary for day-to-day operation, matching a plain
// fileKeyStorage envelope. Passphrase protection only applies to
// portable ExportBackup/ImportBackup blobs.
type identityFile struct {
	Version      string    `json:"version"`
	IdentityID   string    `json:"identity_id"`
	PublicKeyHex string    `json:"public_key_hex"`
	PrivateKeyB64 string   `json:"private_key_b64"`
	LibP2PPeerID string    `json:"libp2p_peer_id"`
	Nickname     string    `json:"nickname,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// backupBlob is the portable, passphrase-encrypted export format.
type backupBlob struct {
	Version    string `json:"version"`
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Store owns the single identity persisted under a storage root.
type Store struct {
	root string
	mu   sync.RWMutex
	file *identityFile
	priv ed25519.PrivateKey
}

// NewStore opens (but does not require) an identity store rooted at dir.
// If an identity already exists on disk it is loaded eagerly.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("identity: create storage root: %w", err)
	}
	s := &Store{root: dir}
	if err := s.load(); err != nil && !errors.Is(err, model.ErrNoIdentity) {
		return nil, err
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.root, identityFileName)
}

// load reads the on-disk identity into memory, if present.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return model.ErrNoIdentity
		}
		return fmt.Errorf("identity: read: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: %w: %v", model.ErrCorruptRecord, err)
	}

	priv, err := base64.StdEncoding.DecodeString(f.PrivateKeyB64)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("identity: %w", model.ErrCorruptRecord)
	}

	s.mu.Lock()
	s.file = &f
	s.priv = ed25519.PrivateKey(priv)
	s.mu.Unlock()
	return nil
}

// persist writes the current in-memory identity to disk atomically.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("identity: rename: %w", err)
	}
	return nil
}

// Initialize generates a fresh identity and persists it. It fails with
// model.ErrIdentityExists if a storage root already holds one: a node has
// at most one identity for its lifetime.
func (s *Store) Initialize(nickname string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return nil, model.ErrIdentityExists
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLen {
		return nil, fmt.Errorf("identity: nickname exceeds %d characters", maxNicknameLen)
	}

	priv, pub, err := cryptoengine.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	peerID, err := encodePeerID(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	idBytes := cryptoengine.IdentityIDFromPublicKey(pub)

	f := &identityFile{
		Version:       "1",
		IdentityID:    fmt.Sprintf("%x", idBytes),
		PublicKeyHex:  fmt.Sprintf("%x", []byte(pub)),
		PrivateKeyB64: base64.StdEncoding.EncodeToString(priv),
		LibP2PPeerID:  peerID,
		Nickname:      nickname,
		CreatedAt:     time.Now().UTC(),
	}

	s.file = f
	s.priv = priv
	if err := s.persist(); err != nil {
		s.file = nil
		s.priv = nil
		return nil, err
	}

	return s.infoLocked(), nil
}

// Info returns the current identity, or model.ErrNoIdentity if none has
// been initialized yet. The returned value never carries the private key.
func (s *Store) Info() (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return nil, model.ErrNoIdentity
	}
	return s.infoLocked(), nil
}

func (s *Store) infoLocked() *model.Identity {
	return &model.Identity{
		IdentityID:   s.file.IdentityID,
		PublicKeyHex: s.file.PublicKeyHex,
		LibP2PPeerID: s.file.LibP2PPeerID,
		Nickname:     s.file.Nickname,
	}
}

// PrivateKey returns the raw signing key for internal use by the crypto
// and delivery layers. It is never exposed through Info.
func (s *Store) PrivateKey() (ed25519.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return nil, model.ErrNoIdentity
	}
	return s.priv, nil
}

// SetNickname updates the local display nickname, capped at 64 runes.
func (s *Store) SetNickname(nickname string) error {
	if utf8.RuneCountInString(nickname) > maxNicknameLen {
		return fmt.Errorf("identity: nickname exceeds %d characters", maxNicknameLen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return model.ErrNoIdentity
	}
	s.file.Nickname = nickname
	return s.persist()
}

// ExportBackup produces a portable, passphrase-encrypted backup of the
// private key, suitable for storage off-device. Grounded on
// vault.FileVault.StoreEncrypted (AES-256-GCM, PBKDF2-SHA256,
// 100000 iterations) but returning a self-contained string instead of
// writing into a vault directory.
func (s *Store) ExportBackup(passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("identity: passphrase required for backup")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return "", model.ErrNoIdentity
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("identity: backup salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", fmt.Errorf("identity: backup cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("identity: backup gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("identity: backup nonce: %w", err)
	}

	plaintext, err := json.Marshal(s.file)
	if err != nil {
		return "", fmt.Errorf("identity: backup marshal: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	blob := backupBlob{
		Version:    backupVersion,
		Algorithm:  backupAlgorithm,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("identity: backup encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// ImportBackup decrypts a backup produced by ExportBackup and installs it
// as the store's current identity. Unlike Initialize, Import is an
// explicit restore and does not reject an uninitialized store; it does,
// however, reject restoring a backup for a different identity than the
// one already loaded, so a careless import can't silently replace a
// node's working identity with an unrelated one.
func (s *Store) ImportBackup(backup, passphrase string) (*model.Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(backup)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: bad backup encoding", model.ErrCorruptRecord)
	}
	var blob backupBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("identity: %w: bad backup envelope", model.ErrCorruptRecord)
	}
	if blob.Algorithm != backupAlgorithm {
		return nil, fmt.Errorf("identity: %w: unsupported backup algorithm %q", model.ErrSchemaMismatch, blob.Algorithm)
	}

	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: bad salt", model.ErrCorruptRecord)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: bad nonce", model.ErrCorruptRecord)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("identity: %w: bad ciphertext", model.ErrCorruptRecord)
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("identity: backup cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: backup gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: wrong passphrase or corrupt backup")
	}

	var f identityFile
	if err := json.Unmarshal(plaintext, &f); err != nil {
		return nil, fmt.Errorf("identity: %w: bad restored identity", model.ErrCorruptRecord)
	}
	priv, err := base64.StdEncoding.DecodeString(f.PrivateKeyB64)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: %w: bad restored key", model.ErrCorruptRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil && s.file.IdentityID != f.IdentityID {
		return nil, fmt.Errorf("identity: %w: backup is for a different identity than the one loaded", model.ErrIdentityExists)
	}
	s.file = &f
	s.priv = ed25519.PrivateKey(priv)
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s.infoLocked(), nil
}

// ExtractPublicKeyFromPeerID recovers the Ed25519 public key embedded in a
// libp2p peer ID, or ok=false if peerID is not a well-formed identity-hash
// peer ID for an Ed25519 key.
func ExtractPublicKeyFromPeerID(peerID string) (pubHex string, ok bool) {
	pub, err := decodePeerID(peerID)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%x", []byte(pub)), true
}

// encodePeerID implements the libp2p peer ID format for Ed25519 keys: the
// key is small enough that libp2p uses the "identity" multihash function,
// embedding the protobuf-encoded PublicKey message directly rather than
// hashing it, which is what makes ExtractPublicKeyFromPeerID possible.
func encodePeerID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("bad ed25519 public key length: %d", len(pub))
	}

	// libp2p crypto.PublicKey protobuf: field 1 (varint) = key type (1 = Ed25519),
	// field 2 (bytes) = raw key data.
	pb := make([]byte, 0, 4+len(pub))
	pb = append(pb, 0x08, 0x01)
	pb = append(pb, 0x12, byte(len(pub)))
	pb = append(pb, pub...)

	// multihash: code 0x00 (identity), length-prefixed digest = pb itself.
	mh := make([]byte, 0, 2+len(pb))
	mh = append(mh, 0x00, byte(len(pb)))
	mh = append(mh, pb...)

	return base58.Encode(mh), nil
}

// decodePeerID reverses encodePeerID.
func decodePeerID(peerID string) (ed25519.PublicKey, error) {
	mh, err := base58.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("bad base58 encoding: %w", err)
	}
	if len(mh) < 2 || mh[0] != 0x00 {
		return nil, fmt.Errorf("not an identity-hash peer ID")
	}
	length := int(mh[1])
	if len(mh) != 2+length {
		return nil, fmt.Errorf("multihash length mismatch")
	}
	pb := mh[2:]
	if len(pb) < 4 || pb[0] != 0x08 || pb[1] != 0x01 || pb[2] != 0x12 {
		return nil, fmt.Errorf("not an Ed25519 public key protobuf")
	}
	dataLen := int(pb[3])
	if len(pb) != 4+dataLen || dataLen != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected key data length")
	}
	return ed25519.PublicKey(pb[4:]), nil
}
