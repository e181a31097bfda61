// Package mesh implements MeshService: the lifecycle-managed component
// that wires identity, contacts, history, inbox, the relay gate,
// routing, delivery, and a transport Driver together, and drives the
// inbound pipeline from raw transport bytes to decoded, gated,
// deduplicated CoreDelegate callbacks.
package mesh

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scmessenger/core/internal/autoadjust"
	"github.com/scmessenger/core/internal/codec"
	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/delivery"
	"github.com/scmessenger/core/internal/gate"
	"github.com/scmessenger/core/internal/identity"
	"github.com/scmessenger/core/internal/inbox"
	"github.com/scmessenger/core/internal/logger"
	"github.com/scmessenger/core/internal/metrics"
	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/routing"
	"github.com/scmessenger/core/internal/store"
	"github.com/scmessenger/core/internal/transport"
)

// fatalReporter is implemented by transport Drivers that can report an
// unexpected listener failure without tearing themselves down (e.g.
// wsoverlay.Overlay). A Driver that doesn't implement it simply never
// surfaces StatusEvent::TransportFailure.
type fatalReporter interface {
	SetFatalHandler(func(reason string))
}

// receiptSendTimeout bounds the best-effort re-ACK goroutine spawned
// from OnDataReceived: that call must never block the inbound pipeline
// itself on network I/O.
const receiptSendTimeout = 15 * time.Second

// State is a MeshService lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePausing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StatePausing:
		return "Pausing"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// CoreDelegate receives events emitted by the core toward the host.
// OnTransportFailure carries the StatusEvent::TransportFailure signal
// the lifecycle description separately requires, surfaced through the
// same delegate rather than a second registration point.
type CoreDelegate interface {
	OnPeerDiscovered(peerID string)
	OnPeerIdentified(peerID string, listenAddrs []string)
	OnPeerDisconnected(peerID string)
	OnMessageReceived(senderID, senderPublicKeyHex, messageID string, timestamp int64, plaintext []byte)
	OnReceiptReceived(messageID string, status model.ReceiptStatus)
	OnTransportFailure(reason string)
}

// Stats is a snapshot of MeshService's lifetime counters.
type Stats struct {
	PeersDiscovered   uint64
	PeersIdentified   uint64
	PeersDisconnected uint64
	MessagesReceived  uint64
	ReceiptsReceived  uint64
}

// Config wires a Service to its collaborators. All fields are required
// except ListenMultiaddr and BootstrapNodes.
type Config struct {
	Identity   *identity.Store
	Contacts   *store.ContactStore
	History    *store.HistoryStore
	Inbox      *inbox.Inbox
	Gate       *gate.Gate
	Resolver   *routing.Resolver
	Delivery   *delivery.Engine
	Directory  *delivery.PeerDirectory
	Driver     transport.Driver
	AutoAdjust *autoadjust.Engine

	ListenMultiaddr string
	BootstrapNodes  []string

	Log logger.Logger
}

// Service is MeshService: it implements transport.Delegate so a Driver
// can feed it directly, and exposes the lifecycle and tuning operations
// of the façade's MeshService surface.
type Service struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	state    State
	delegate CoreDelegate
	cancel   context.CancelFunc

	stats Stats
}

// New builds a Service in the Stopped state. Call SetDelegate before
// Start if the host wants events from the very first peer contact.
func New(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Service{cfg: cfg, log: log, state: StateStopped}
}

// SetDelegate installs (or replaces) the CoreDelegate.
func (s *Service) SetDelegate(d CoreDelegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

func (s *Service) delegateSnapshot() CoreDelegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

// GetState reports the current lifecycle state.
func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetStats returns a snapshot of the lifetime event counters.
func (s *Service) GetStats() Stats {
	return Stats{
		PeersDiscovered:   atomic.LoadUint64(&s.stats.PeersDiscovered),
		PeersIdentified:   atomic.LoadUint64(&s.stats.PeersIdentified),
		PeersDisconnected: atomic.LoadUint64(&s.stats.PeersDisconnected),
		MessagesReceived:  atomic.LoadUint64(&s.stats.MessagesReceived),
		ReceiptsReceived:  atomic.LoadUint64(&s.stats.ReceiptsReceived),
	}
}

// Start brings the service to Running. It is idempotent only when
// already Running; from any other state it rebuilds the transport and
// delivery loop cleanly.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	prevCancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if prevCancel != nil {
		// A previous run (e.g. one left in Pausing) is still live: tear it
		// down before rebuilding.
		prevCancel()
		if err := s.cfg.Delivery.Stop(); err != nil {
			s.log.Warn("mesh: delivery stop error", logger.Error(err))
		}
		if err := s.cfg.Driver.Stop(ctx); err != nil {
			s.log.Warn("mesh: driver stop error", logger.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	if fr, ok := s.cfg.Driver.(fatalReporter); ok {
		fr.SetFatalHandler(func(reason string) {
			if d := s.delegateSnapshot(); d != nil {
				d.OnTransportFailure(reason)
			}
		})
	}

	if err := s.cfg.Driver.Start(runCtx, s); err != nil {
		cancel()
		s.setState(StateStopped)
		return fmt.Errorf("mesh: start transport: %w", err)
	}
	s.cfg.Delivery.SetBootstrapAddrs(s.cfg.BootstrapNodes)
	if err := s.cfg.Delivery.Start(runCtx); err != nil {
		cancel()
		_ = s.cfg.Driver.Stop(context.Background())
		s.setState(StateStopped)
		return fmt.Errorf("mesh: start delivery: %w", err)
	}

	s.log.Info("mesh: service started", logger.String("listen_multiaddr", s.cfg.ListenMultiaddr))

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// Stop cancels the delivery loop and the transport driver, and waits
// for both to settle. It is a no-op if already Stopped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.cfg.Delivery.Stop(); err != nil {
		s.log.Warn("mesh: delivery stop error", logger.Error(err))
	}
	if err := s.cfg.Driver.Stop(ctx); err != nil {
		s.log.Warn("mesh: driver stop error", logger.Error(err))
	}

	s.mu.Lock()
	s.cancel = nil
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

// Pause pins AutoAdjustEngine's profile override to power-saver. The
// override replaces only the reported profile label: the BLE scan and
// advertise intervals and the relay values that Apply computes are not
// changed by it. Valid only from Running.
func (s *Service) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("mesh: %w: pause requires Running, got %s", model.ErrNotInitialized, s.state)
	}
	s.cfg.AutoAdjust.SetProfileOverride(model.ProfilePowerSaver)
	s.state = StatePausing
	return nil
}

// Resume clears the pause override and returns to Running. Valid only
// from Pausing. Any override the host had set before Pause is cleared
// along with it; re-applying a standing override after Resume is the
// host's responsibility.
func (s *Service) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePausing {
		return fmt.Errorf("mesh: %w: resume requires Pausing, got %s", model.ErrNotInitialized, s.state)
	}
	s.cfg.AutoAdjust.ClearOverrides()
	s.state = StateRunning
	return nil
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// UpdateDeviceState feeds a fresh DeviceProfile into AutoAdjustEngine
// and republishes the resulting relay budget gauge.
func (s *Service) UpdateDeviceState(profile model.DeviceProfile) {
	out := s.cfg.AutoAdjust.Apply(profile)
	metrics.RelayBudgetRemaining.Set(float64(out.Relay.MaxPerHour))
}

// SetRelayBudget pins the relay max-per-hour field regardless of
// computed AutoAdjust output, until ClearOverrides.
func (s *Service) SetRelayBudget(n int) {
	s.cfg.AutoAdjust.SetRelayOverride(autoadjust.RelayOverride{MaxPerHour: &n})
}

// SetDriver replaces the transport Driver a platform bridge wants the
// service to dial and send through, e.g. swapping the default Internet
// overlay for a BLE or Wi-Fi Aware driver supplied by the host. Valid
// only while Stopped; Start wires fatal-handler reporting and the
// inbound delegate against whichever Driver is installed at call time.
func (s *Service) SetDriver(d transport.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return fmt.Errorf("mesh: %w: SetDriver requires Stopped, got %s", model.ErrNotInitialized, s.state)
	}
	s.cfg.Driver = d
	return nil
}

// SetBootstrapNodes replaces the bootstrap address list used by both
// the delivery engine's priming/relay-circuit logic and future Start
// calls.
func (s *Service) SetBootstrapNodes(addrs []string) {
	s.mu.Lock()
	s.cfg.BootstrapNodes = append([]string(nil), addrs...)
	s.mu.Unlock()
	s.cfg.Delivery.SetBootstrapAddrs(addrs)
}

// OnPeerEvent implements transport.Delegate. Identification updates the
// peer directory and triggers an outbox flush before the event reaches
// the host, with flush reason "peer_identified:<id>".
func (s *Service) OnPeerEvent(event transport.PeerEvent, peer transport.PeerInfo) {
	metrics.PeerEvents.WithLabelValues(string(event)).Inc()

	switch event {
	case transport.PeerDiscovered:
		atomic.AddUint64(&s.stats.PeersDiscovered, 1)
		if d := s.delegateSnapshot(); d != nil {
			d.OnPeerDiscovered(peer.PeerID)
		}
	case transport.PeerIdentified:
		atomic.AddUint64(&s.stats.PeersIdentified, 1)
		s.cfg.Delivery.NotifyPeerIdentified(peer.PeerID, peer.Addrs)
		s.recordListenerNotes(peer.PeerID, peer.Addrs)
		if d := s.delegateSnapshot(); d != nil {
			d.OnPeerIdentified(peer.PeerID, peer.Addrs)
		}
	case transport.PeerDisconnected:
		atomic.AddUint64(&s.stats.PeersDisconnected, 1)
		s.cfg.Directory.Forget(peer.PeerID)
		if d := s.delegateSnapshot(); d != nil {
			d.OnPeerDisconnected(peer.PeerID)
		}
	}
}

// OnTopicMessage implements transport.Delegate. TopicBus is a
// publish-side pass-through; no CoreDelegate callback exists for
// inbound topic traffic, so it is logged at debug level and otherwise
// ignored, matching the "failures are logged, not surfaced" posture of
// TopicBus itself.
func (s *Service) OnTopicMessage(topic string, fromPeerID string, data []byte) {
	s.log.Debug("mesh: topic message received", logger.String("topic", topic), logger.String("from_peer_id", fromPeerID), logger.Int("bytes", len(data)))
}

// OnDataReceived implements transport.Delegate: the on_data_received
// hook. It decodes, decrypts, canonicalizes, and gates one inbound
// envelope, then dispatches by message kind. Even while suspended this
// performs crypto and store writes synchronously but never blocks on
// network I/O itself; any outbound re-ACK is handed off to a goroutine.
func (s *Service) OnDataReceived(fromPeerID string, data []byte) {
	env, err := decodeWireEnvelope(data)
	if err != nil {
		s.log.Debug("mesh: dropping envelope with bad framing", logger.String("from_peer_id", fromPeerID), logger.Error(err))
		return
	}

	priv, err := s.cfg.Identity.PrivateKey()
	if err != nil {
		s.log.Warn("mesh: no local identity to decrypt with", logger.Error(err))
		return
	}
	plaintext, err := cryptoengine.Decrypt(priv, env)
	if err != nil {
		// DecryptFailed: logged, dropped, no ACK. metrics.DecryptFailures
		// is already incremented inside cryptoengine.Decrypt.
		s.log.Debug("mesh: dropping envelope that failed to decrypt", logger.String("from_peer_id", fromPeerID))
		return
	}

	var msg model.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		s.log.Warn("mesh: dropping envelope with malformed plaintext", logger.Error(err))
		return
	}

	if s.cfg.Gate.ShouldDropReceived() {
		// Receive-path fail-safe: no history, no emit, no ACK.
		return
	}

	senderPubHex := fmt.Sprintf("%x", env.SenderPublicKey[:])
	peerID, _ := s.cfg.Resolver.Canonicalize(fromPeerID, senderPubHex)
	s.touchOrCreateContact(peerID, fromPeerID, senderPubHex)

	if msg.Kind == model.MessageKindReceipt {
		s.handleReceipt(msg)
		return
	}
	if msg.Kind == model.MessageKindIdentitySync {
		// IdentitySync only refreshes the contact (done above) and is
		// ACKed; it never reaches Inbox, History, or the delegate.
		s.scheduleReceiptAck(peerID, env.SenderPublicKey[:], msg.ID)
		return
	}
	s.handleMessage(peerID, senderPubHex, env.SenderPublicKey[:], msg)
}

// recordListenerNotes merges a "listeners:<csv>" hint into an already
// known contact's Notes so DeliveryEngine can rebuild dial candidates
// for this peer across a process restart, once PeerDirectory's
// in-memory cache is gone. PeerIdentified is a transport-layer event,
// not a verified message, so this never creates a contact — only an
// existing one (added explicitly or from a prior verified message) is
// updated.
func (s *Service) recordListenerNotes(peerID string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	c, ok := s.cfg.Contacts.Get(peerID)
	if !ok {
		return
	}
	c.Notes = mergeListenerNotes(c.Notes, addrs)
	if err := s.cfg.Contacts.Add(c); err != nil {
		s.log.Warn("mesh: record listener notes failed", logger.String("peer_id", peerID), logger.Error(err))
	}
}

// mergeListenerNotes replaces any existing "listeners:<csv>" segment in
// notes with addrs, preserving every other semicolon-delimited segment
// (such as the "libp2p_peer_id:<id>" hint) unchanged.
func mergeListenerNotes(notes string, addrs []string) string {
	var kept []string
	for _, field := range strings.FieldsFunc(notes, func(r rune) bool { return r == '\n' || r == ';' }) {
		field = strings.TrimSpace(field)
		if field == "" || strings.HasPrefix(field, "listeners:") {
			continue
		}
		kept = append(kept, field)
	}
	kept = append(kept, "listeners:"+strings.Join(addrs, ","))
	return strings.Join(kept, ";")
}

// touchOrCreateContact bumps LastSeen for an already-known peerID, or
// creates the contact if this is the first verified inbound message
// from it: spec's contact lifecycle rule is "created on first verified
// inbound message or explicit add," so an unknown sender must not
// silently no-op here. fromPeerID is recorded into Notes as a
// libp2p_peer_id route hint so a later canonicalization can map a
// transport-ID-keyed contact back to this one.
func (s *Service) touchOrCreateContact(peerID, fromPeerID, senderPubHex string) {
	if err := s.cfg.Contacts.TouchLastSeen(peerID); err == nil {
		return
	} else if !errors.Is(err, model.ErrContactNotFound) {
		s.log.Warn("mesh: touch contact failed", logger.String("peer_id", peerID), logger.Error(err))
		return
	}

	notes := ""
	if routing.IsLibP2PPeerID(fromPeerID) {
		notes = "libp2p_peer_id:" + fromPeerID
	}
	now := time.Now().UTC()
	c := model.Contact{
		PeerID:    peerID,
		PublicKey: senderPubHex,
		AddedAt:   now,
		LastSeen:  now,
		Notes:     notes,
	}
	if err := s.cfg.Contacts.Add(c); err != nil {
		s.log.Warn("mesh: create contact on first inbound message failed", logger.String("peer_id", peerID), logger.Error(err))
	}
}

// handleReceipt matches an inbound Receipt to its pending outbox entry.
// Receipts never touch Inbox or History and are never themselves acked.
func (s *Service) handleReceipt(msg model.Message) {
	var receipt model.Receipt
	if err := json.Unmarshal(msg.Payload, &receipt); err != nil {
		s.log.Warn("mesh: malformed receipt payload", logger.Error(err))
		return
	}
	s.cfg.Delivery.HandleReceipt(receipt.MessageID, receipt.Status)
	atomic.AddUint64(&s.stats.ReceiptsReceived, 1)
	if d := s.delegateSnapshot(); d != nil {
		d.OnReceiptReceived(receipt.MessageID, receipt.Status)
	}
}

// handleMessage runs the Inbox dedup step, appends to History and
// emits on_message_received only for a New id, and in either case
// (New or Duplicate) schedules a re-ACK: a duplicate still triggers
// exactly one receipt send and no UI emission.
func (s *Service) handleMessage(peerID, senderPubHex string, senderPub []byte, msg model.Message) {
	rec := inbox.Record{Sender: peerID, Timestamp: msg.Timestamp, PlaintextRecordID: msg.ID}
	result, err := s.cfg.Inbox.Observe(msg.ID, rec)
	if err != nil {
		s.log.Warn("mesh: inbox observe failed", logger.String("message_id", msg.ID), logger.Error(err))
		return
	}

	if result == inbox.New {
		record := model.MessageRecord{
			ID:        msg.ID,
			Direction: model.DirectionReceived,
			PeerID:    peerID,
			Content:   string(msg.Payload),
			Timestamp: msg.Timestamp,
			Delivered: true,
		}
		if err := s.cfg.History.Append(record); err != nil {
			s.log.Warn("mesh: history append failed", logger.String("message_id", msg.ID), logger.Error(err))
		}
		atomic.AddUint64(&s.stats.MessagesReceived, 1)
		if d := s.delegateSnapshot(); d != nil {
			d.OnMessageReceived(msg.SenderID, senderPubHex, msg.ID, msg.Timestamp, msg.Payload)
		}
	}

	s.scheduleReceiptAck(peerID, senderPub, msg.ID)
}

// scheduleReceiptAck sends a Delivered receipt back to the sender on a
// detached goroutine: dialing and waiting for the peer to appear is
// network I/O, which on_data_received must never block on.
func (s *Service) scheduleReceiptAck(peerID string, senderPub []byte, messageID string) {
	pub := append(ed25519.PublicKey(nil), senderPub...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), receiptSendTimeout)
		defer cancel()
		if err := s.cfg.Delivery.SendReceipt(ctx, peerID, pub, messageID, model.ReceiptDelivered); err != nil {
			s.log.Warn("mesh: send receipt failed", logger.String("peer_id", peerID), logger.String("message_id", messageID), logger.Error(err))
		}
	}()
}

// decodeWireEnvelope accepts either a plain or a signed wire Envelope;
// a signed one must pass its own embedded-key signature check before
// its Envelope is returned for decryption.
func decodeWireEnvelope(data []byte) (*model.Envelope, error) {
	if env, err := codec.Decode(data); err == nil {
		return env, nil
	}
	se, err := codec.DecodeSigned(data)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", model.ErrCorruptRecord)
	}
	if !codec.VerifyOnly(data) {
		return nil, fmt.Errorf("mesh: %w: signature verification failed", model.ErrDecryptFailed)
	}
	return &se.Envelope, nil
}
