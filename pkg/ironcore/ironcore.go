// Package ironcore is the stable, platform-agnostic façade a thin UI
// shell or cgo bridge is built against: one IronCore for identity and
// message/receipt preparation, one MeshService wrapper for lifecycle
// and transport wiring, and four Managers over the durable stores. It
// is the only package outside internal/ that platform glue (mobile
// bridge, CLI, wasm) should import.
package ironcore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/scmessenger/core/internal/autoadjust"
	"github.com/scmessenger/core/internal/codec"
	"github.com/scmessenger/core/internal/config"
	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/delivery"
	"github.com/scmessenger/core/internal/gate"
	"github.com/scmessenger/core/internal/identity"
	"github.com/scmessenger/core/internal/inbox"
	"github.com/scmessenger/core/internal/logger"
	"github.com/scmessenger/core/internal/mesh"
	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/outbox"
	"github.com/scmessenger/core/internal/routing"
	"github.com/scmessenger/core/internal/store"
	"github.com/scmessenger/core/internal/transport"
	"github.com/scmessenger/core/internal/transport/wsoverlay"
)

// sendEnqueueMaxAge bounds how long a prepared envelope sits in the
// outbox before DeliveryEngine refuses to keep trying it further.
const sendEnqueueMaxAge = 72 * time.Hour

// Core bundles IronCore's identity/crypto surface, the MeshService
// lifecycle wrapper, and the four store Managers behind one handle, in
// the shape pkg/agent/core.Core wraps its own sub-managers.
type Core struct {
	log logger.Logger

	identity *identity.Store
	gate     *gate.Gate
	resolver *routing.Resolver
	delivery *delivery.Engine
	mesh     *mesh.Service

	Contacts *ContactManager
	History  *HistoryManager
	Ledger   *LedgerManager
	Settings *MeshSettingsManager
}

// WithStorage opens (or creates) every durable store under
// cfg.StorageRoot, auto-initializes the node identity on first run,
// seeds Settings from cfg.Settings the very first time, wires a
// default Internet-overlay transport from cfg.Mesh, and returns a Core
// in MeshService's Stopped state. Call SetPlatformBridge before Start
// to swap in a host-supplied transport instead.
func WithStorage(cfg *config.Config) (*Core, error) {
	log := logger.GetDefaultLogger()

	idStore, err := identity.NewStore(filepath.Join(cfg.StorageRoot, "identity"))
	if err != nil {
		return nil, fmt.Errorf("ironcore: open identity store: %w", err)
	}
	firstRun := false
	if _, err := idStore.Info(); err != nil {
		firstRun = true
		if _, err := idStore.Initialize(""); err != nil {
			return nil, fmt.Errorf("ironcore: initialize identity: %w", err)
		}
	}

	contacts, err := store.OpenContactStore(filepath.Join(cfg.StorageRoot, "contacts"))
	if err != nil {
		return nil, fmt.Errorf("ironcore: open contact store: %w", err)
	}
	history, err := store.OpenHistoryStore(filepath.Join(cfg.StorageRoot, "history"))
	if err != nil {
		return nil, fmt.Errorf("ironcore: open history store: %w", err)
	}
	ledger, err := store.OpenLedgerStore(filepath.Join(cfg.StorageRoot, "ledger"))
	if err != nil {
		return nil, fmt.Errorf("ironcore: open ledger store: %w", err)
	}
	settings, err := store.OpenSettingsStore(filepath.Join(cfg.StorageRoot, "settings"))
	if err != nil {
		return nil, fmt.Errorf("ironcore: open settings store: %w", err)
	}
	if firstRun {
		if _, err := settings.Save(cfg.Settings); err != nil {
			return nil, fmt.Errorf("ironcore: seed settings: %w", err)
		}
	}

	box, err := inbox.Open(filepath.Join(cfg.StorageRoot, "inbox"), 0)
	if err != nil {
		return nil, fmt.Errorf("ironcore: open inbox: %w", err)
	}
	ob, err := outbox.Open(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("ironcore: open outbox: %w", err)
	}

	g := gate.New(settings)
	resolver := routing.NewResolver(contacts)
	dir := delivery.NewPeerDirectory()

	localInfo, err := idStore.Info()
	if err != nil {
		return nil, fmt.Errorf("ironcore: read identity after init: %w", err)
	}
	driver := wsoverlay.New(localInfo.LibP2PPeerID, cfg.Mesh.ListenMultiaddr, log)

	deliv := delivery.New(delivery.Config{
		Outbox:         ob,
		Directory:      dir,
		Driver:         driver,
		History:        history,
		Contacts:       contacts,
		Identity:       idStore,
		BootstrapAddrs: cfg.Mesh.BootstrapNodes,
		Log:            log,
	})

	aa := autoadjust.New(nil)
	svc := mesh.New(mesh.Config{
		Identity:        idStore,
		Contacts:        contacts,
		History:         history,
		Inbox:           box,
		Gate:            g,
		Resolver:        resolver,
		Delivery:        deliv,
		Directory:       dir,
		Driver:          driver,
		AutoAdjust:      aa,
		ListenMultiaddr: cfg.Mesh.ListenMultiaddr,
		BootstrapNodes:  cfg.Mesh.BootstrapNodes,
		Log:             log,
	})

	return &Core{
		log:      log,
		identity: idStore,
		gate:     g,
		resolver: resolver,
		delivery: deliv,
		mesh:     svc,
		Contacts: &ContactManager{store: contacts},
		History:  &HistoryManager{store: history},
		Ledger:   &LedgerManager{store: ledger},
		Settings: &MeshSettingsManager{store: settings},
	}, nil
}

// --- IronCore: identity and crypto surface ---

// InitializeIdentity generates the node's long-term keypair if one
// isn't already present; calling it again on an existing identity just
// returns the existing IdentityInfo, matching IdentityStore's "at most
// one identity per storage root" invariant.
func (c *Core) InitializeIdentity() (*model.Identity, error) {
	if info, err := c.identity.Info(); err == nil {
		return info, nil
	}
	return c.identity.Initialize("")
}

// GetIdentityInfo returns the node's current identity, or
// model.ErrNoIdentity if none has been initialized yet.
func (c *Core) GetIdentityInfo() (*model.Identity, error) {
	return c.identity.Info()
}

// SetNickname updates the node's own display nickname.
func (c *Core) SetNickname(nickname string) error {
	return c.identity.SetNickname(nickname)
}

// ExtractPublicKeyFromPeerID recovers the Ed25519 public key a
// self-certifying libp2p peer ID encodes, with no store lookup.
func (c *Core) ExtractPublicKeyFromPeerID(peerID string) (pubHex string, ok bool) {
	return identity.ExtractPublicKeyFromPeerID(peerID)
}

// ExportIdentityBackup produces a portable, passphrase-encrypted backup
// of the node's private key.
func (c *Core) ExportIdentityBackup(passphrase string) (string, error) {
	return c.identity.ExportBackup(passphrase)
}

// ImportIdentityBackup decrypts and installs a backup produced by
// ExportIdentityBackup as the node's current identity.
func (c *Core) ImportIdentityBackup(backup, passphrase string) (*model.Identity, error) {
	return c.identity.ImportBackup(backup, passphrase)
}

// PrepareMessageWithID is the pure-crypto primitive behind send_message:
// it assigns a fresh message ID, seals a Text Message addressed to
// recipientPubHex, and returns the wire-encoded envelope. It touches no
// store and sends nothing; callers that want the full gated,
// history-recording, delivery-enqueuing flow should call SendMessage.
func (c *Core) PrepareMessageWithID(recipientPubHex, text string) (messageID string, envelopeBytes []byte, err error) {
	if len(text) > model.MaxMessagePayload {
		return "", nil, fmt.Errorf("ironcore: message payload: %w", model.ErrPayloadTooLarge)
	}
	recipientPub, err := decodeHexPublicKey(recipientPubHex)
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: recipient public key: %w", err)
	}
	info, err := c.identity.Info()
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: %w", err)
	}
	priv, err := c.identity.PrivateKey()
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: %w", err)
	}
	senderPub, err := decodeHexPublicKey(info.PublicKeyHex)
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: local public key: %w", err)
	}

	messageID = uuid.NewString()
	msg := model.Message{
		ID:        messageID,
		SenderID:  info.IdentityID,
		Kind:      model.MessageKindText,
		Payload:   []byte(text),
		Timestamp: time.Now().Unix(),
	}
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: marshal message: %w", err)
	}
	env, err := cryptoengine.Encrypt(priv, senderPub, recipientPub, plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: encrypt message: %w", err)
	}
	envelopeBytes, err = codec.Encode(env)
	if err != nil {
		return "", nil, fmt.Errorf("ironcore: encode envelope: %w", err)
	}
	return messageID, envelopeBytes, nil
}

// PrepareReceipt seals a Delivered receipt for messageID, addressed to
// recipientPubHex (the original sender).
func (c *Core) PrepareReceipt(recipientPubHex, messageID string) ([]byte, error) {
	recipientPub, err := decodeHexPublicKey(recipientPubHex)
	if err != nil {
		return nil, fmt.Errorf("ironcore: recipient public key: %w", err)
	}
	info, err := c.identity.Info()
	if err != nil {
		return nil, fmt.Errorf("ironcore: %w", err)
	}
	priv, err := c.identity.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ironcore: %w", err)
	}
	senderPub, err := decodeHexPublicKey(info.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("ironcore: local public key: %w", err)
	}

	receiptPayload, err := json.Marshal(model.Receipt{MessageID: messageID, Status: model.ReceiptDelivered, Timestamp: time.Now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("ironcore: marshal receipt: %w", err)
	}
	msg := model.Message{
		ID:        uuid.NewString(),
		SenderID:  info.IdentityID,
		Kind:      model.MessageKindReceipt,
		Payload:   receiptPayload,
		Timestamp: time.Now().Unix(),
	}
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ironcore: marshal receipt envelope: %w", err)
	}
	env, err := cryptoengine.Encrypt(priv, senderPub, recipientPub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("ironcore: encrypt receipt: %w", err)
	}
	return codec.Encode(env)
}

// SetDelegate installs the CoreDelegate that receives peer and message
// events from MeshService.
func (c *Core) SetDelegate(d mesh.CoreDelegate) {
	c.mesh.SetDelegate(d)
}

// SendMessage is the façade's convenience send path named in §2's data
// flow: SettingsGate, contact lookup, PrepareMessageWithID, a SENT
// history record, then DeliveryEngine.Enqueue. RelayDisabled aborts
// before any history record is written, per the gated-send invariant.
func (c *Core) SendMessage(peerID, text string) (messageID string, err error) {
	if err := c.gate.GuardSend(); err != nil {
		c.log.Debug("ironcore: send blocked by relay gate", logger.String("peer_id", peerID))
		return "", err
	}
	contact, ok := c.Contacts.store.Get(peerID)
	if !ok {
		return "", fmt.Errorf("ironcore: %w: %s", model.ErrContactNotFound, peerID)
	}

	messageID, envelopeBytes, err := c.PrepareMessageWithID(contact.PublicKey, text)
	if err != nil {
		return "", err
	}

	record := model.MessageRecord{
		ID:        messageID,
		Direction: model.DirectionSent,
		PeerID:    peerID,
		Content:   text,
		Timestamp: time.Now().Unix(),
		Delivered: false,
	}
	if err := c.History.store.Append(record); err != nil {
		return "", fmt.Errorf("ironcore: record sent message: %w", err)
	}

	if _, err := c.delivery.Enqueue(peerID, "", envelopeBytes, messageID, sendEnqueueMaxAge); err != nil {
		return "", fmt.Errorf("ironcore: enqueue for delivery: %w", err)
	}
	c.log.Info("ironcore: message enqueued", logger.String("peer_id", peerID), logger.String("message_id", messageID))
	return messageID, nil
}

// --- MeshService wrapper ---

func (c *Core) Start(ctx context.Context) error { return c.mesh.Start(ctx) }
func (c *Core) Stop(ctx context.Context) error  { return c.mesh.Stop(ctx) }
func (c *Core) Pause() error                    { return c.mesh.Pause() }
func (c *Core) Resume() error                   { return c.mesh.Resume() }
func (c *Core) GetState() mesh.State            { return c.mesh.GetState() }
func (c *Core) GetStats() mesh.Stats            { return c.mesh.GetStats() }

func (c *Core) SetBootstrapNodes(addrs []string) { c.mesh.SetBootstrapNodes(addrs) }

// StartSwarm brings up the mesh. listenMultiaddr is accepted for
// interface symmetry with the façade's named operation; the Internet
// overlay WithStorage built already has its listen address bound at
// construction, so a host that wants a different one must call
// SetPlatformBridge with a freshly constructed Driver before StartSwarm.
func (c *Core) StartSwarm(ctx context.Context, listenMultiaddr string) error {
	_ = listenMultiaddr
	return c.mesh.Start(ctx)
}

// GetSwarmBridge returns the transport.Delegate a platform-supplied
// driver (BLE, Wi-Fi Aware, anything compiled outside this module)
// feeds inbound peer and data events into.
func (c *Core) GetSwarmBridge() transport.Delegate {
	return c.mesh
}

// SetPlatformBridge installs a host-supplied transport.Driver in place
// of the default Internet overlay. Valid only before Start.
func (c *Core) SetPlatformBridge(driver transport.Driver) error {
	return c.mesh.SetDriver(driver)
}

// UpdateDeviceState feeds a fresh DeviceProfile into AutoAdjustEngine.
func (c *Core) UpdateDeviceState(profile model.DeviceProfile) {
	c.mesh.UpdateDeviceState(profile)
}

// SetRelayBudget pins the relay max-per-hour override.
func (c *Core) SetRelayBudget(n int) {
	c.mesh.SetRelayBudget(n)
}

// PendingOutboxDepth reports how many envelopes DeliveryEngine still
// has queued, for a host's backlog health check.
func (c *Core) PendingOutboxDepth() int {
	return c.delivery.PendingCount()
}

// OnPeerDiscovered is the host -> core hook a platform bridge calls
// when its own discovery mechanism (BLE scan, mDNS) sees a peer with
// no richer metadata than its ID.
func (c *Core) OnPeerDiscovered(peerID string) {
	c.mesh.OnPeerEvent(transport.PeerDiscovered, transport.PeerInfo{PeerID: peerID})
}

// OnDataReceived is the host -> core hook for inbound transport bytes.
func (c *Core) OnDataReceived(peerID string, data []byte) {
	c.mesh.OnDataReceived(peerID, data)
}

func decodeHexPublicKey(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", model.ErrInvalidPublicKey)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", model.ErrInvalidPublicKey, len(raw))
	}
	return raw, nil
}
