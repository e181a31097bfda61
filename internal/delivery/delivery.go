// Package delivery implements the DeliveryEngine: the background driver
// that turns Outbox entries into dial/send attempts, tracks transmission
// acknowledgement versus delivery receipt, and retries with backoff
// across route candidates and relay-circuit fallback. It is the part of
// the core that owns no store of its own; it only drives Outbox,
// RoutingResolver, and the transport Driver.
package delivery

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scmessenger/core/internal/codec"
	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/identity"
	"github.com/scmessenger/core/internal/logger"
	"github.com/scmessenger/core/internal/metrics"
	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/outbox"
	"github.com/scmessenger/core/internal/routing"
	"github.com/scmessenger/core/internal/store"
	"github.com/scmessenger/core/internal/transport"
)

const (
	flushInterval        = 5 * time.Second
	peerAppearanceWait   = 1200 * time.Millisecond
	peerAppearancePoll   = 100 * time.Millisecond
	relayRetryDelay      = 250 * time.Millisecond
	receiptAwaitSeconds  = 8
	bootstrapPrimeMinGap = 10 * time.Second
	maxAttempts          = 10
)

// Config wires an Engine to its collaborators. All fields are required
// except LocalIPv4 and BootstrapAddrs, which default to empty.
type Config struct {
	Outbox    *outbox.Outbox
	Directory *PeerDirectory
	Driver    transport.Driver
	History   *store.HistoryStore
	Contacts  *store.ContactStore
	Identity  *identity.Store

	LocalIPv4      string
	BootstrapAddrs []string

	Log logger.Logger
}

// Engine drives the PendingOutbox.
type Engine struct {
	cfg Config
	log logger.Logger

	mu                  sync.Mutex
	lastBootstrapPrime map[string]time.Time

	flushCh chan string
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds an Engine. Call Start to begin the flush loop.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Engine{
		cfg:                cfg,
		log:                log,
		lastBootstrapPrime: make(map[string]time.Time),
		flushCh:            make(chan string, 32),
	}
}

// Start launches the periodic and event-driven flush loop. It returns
// once the loop goroutine has been scheduled; it does not block.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	e.group = group

	group.Go(func() error {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		e.flush(gctx, "service_start")
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				e.flush(gctx, "periodic")
			case reason := <-e.flushCh:
				e.flush(gctx, reason)
			}
		}
	})
	return nil
}

// Stop cancels the flush loop and waits for it to exit. The outbox is
// already durable (every mutation is persisted synchronously), so
// shutdown requires no extra flush-to-disk step beyond what Outbox does
// on every Enqueue/Update/Remove.
func (e *Engine) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	if e.group != nil {
		return e.group.Wait()
	}
	return nil
}

// Enqueue persists a new envelope for peerID and triggers an
// event-driven flush.
func (e *Engine) Enqueue(peerID, routePeerID string, envelope []byte, historyRecordID string, maxAge time.Duration) (string, error) {
	queueID, err := e.cfg.Outbox.Enqueue(peerID, envelope, maxAge)
	if err != nil {
		return "", err
	}
	for _, entry := range e.cfg.Outbox.All() {
		if entry.QueueID == queueID {
			entry.RoutePeerID = routePeerID
			entry.HistoryRecordID = historyRecordID
			_ = e.cfg.Outbox.Update(entry)
			break
		}
	}
	e.triggerFlush("enqueue")
	return queueID, nil
}

// NotifyPeerIdentified updates the peer directory and triggers the
// event-driven flush required on peer identification.
func (e *Engine) NotifyPeerIdentified(peerID string, addrs []string) {
	e.cfg.Directory.RecordListenAddrs(peerID, addrs)
	e.triggerFlush("peer_identified:" + peerID)
}

func (e *Engine) triggerFlush(reason string) {
	select {
	case e.flushCh <- reason:
	default:
		// a flush is already pending; the periodic tick will cover it
	}
}

// flush processes every queued entry, in persisted order, independently
// of one another.
func (e *Engine) flush(ctx context.Context, reason string) {
	for _, entry := range e.cfg.Outbox.All() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.attemptEntry(ctx, entry)
	}
	_ = reason // retained for future structured logging of flush triggers
}

// attemptEntry implements the eight-step attempt protocol for one entry.
func (e *Engine) attemptEntry(ctx context.Context, entry *model.PendingOutbound) {
	if entry.Delivered {
		_ = e.cfg.Outbox.Remove(entry.QueueID)
		return
	}
	if entry.Expired(time.Now().UTC()) {
		_ = e.cfg.Outbox.Remove(entry.QueueID)
		return
	}
	if entry.AttemptCount >= maxAttempts {
		metrics.DeliveryAttempts.WithLabelValues("exhausted").Inc()
		return
	}
	now := time.Now().UTC()
	if entry.NextAttemptAt.After(now) {
		return
	}

	envelope, err := base64.StdEncoding.DecodeString(entry.EnvelopeB64)
	if err != nil {
		e.log.Warn("delivery: dropping corrupt outbox entry", logger.String("queue_id", entry.QueueID), logger.Error(err))
		_ = e.cfg.Outbox.Remove(entry.QueueID)
		return
	}
	if _, err := codec.Decode(envelope); err != nil {
		if _, serr := codec.DecodeSigned(envelope); serr != nil {
			e.log.Warn("delivery: dropping corrupt envelope", logger.String("queue_id", entry.QueueID), logger.Error(err))
			_ = e.cfg.Outbox.Remove(entry.QueueID)
			return
		}
	}

	target := entry.RoutePeerID
	if target == "" {
		target = entry.PeerID
	}
	if !routing.IsLibP2PPeerID(target) {
		e.rescheduleBackoff(entry)
		return
	}

	e.primeBootstrap(ctx)

	relayPeerIDs, bootstrapPeerIDs := e.bootstrapRelays()
	bootstrapAddrs := e.bootstrapAddrsSnapshot()
	addrs := append(e.cfg.Directory.ListenAddrs(target), e.contactListenerAddrs(entry.PeerID)...)
	candidates := routing.BuildDialCandidates(addrs, e.cfg.LocalIPv4, target, relayPeerIDs, bootstrapAddrs, bootstrapPeerIDs)
	if len(candidates) == 0 {
		e.rescheduleBackoff(entry)
		return
	}

	acked := false
	for _, c := range candidates {
		if e.tryCandidate(ctx, target, c, envelope, relayPeerIDs, bootstrapPeerIDs, bootstrapAddrs) {
			acked = true
			break
		}
	}

	if acked {
		entry.AttemptCount++
		entry.NextAttemptAt = time.Now().UTC().Add(receiptAwaitSeconds * time.Second)
		_ = e.cfg.Outbox.Update(entry)
		metrics.DeliveryAttempts.WithLabelValues("ack").Inc()
	} else {
		e.rescheduleBackoff(entry)
		metrics.DeliveryAttempts.WithLabelValues("fail").Inc()
	}
}

// contactListenerAddrs rebuilds route candidates from the latest
// contact notes (the "listeners:<csv>" hint), so an entry surviving a
// process restart isn't limited to PeerDirectory's transient,
// in-memory cache.
func (e *Engine) contactListenerAddrs(peerID string) []string {
	c, ok := e.cfg.Contacts.Get(peerID)
	if !ok {
		return nil
	}
	return routing.ListenersFromNotes(c.Notes)
}

// tryCandidate dials one dial candidate, waits for the peer to appear,
// and attempts send_to_peer; on failure it retries once via a
// relay-only circuit.
func (e *Engine) tryCandidate(ctx context.Context, target string, c routing.DialCandidate, envelope []byte, relayPeerIDs []string, bootstrapPeerIDs map[string]bool, bootstrapAddrs []string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, peerAppearanceWait)
	defer cancel()

	_ = e.cfg.Driver.Dial(dialCtx, target, []string{c.Multiaddr})
	if e.waitForPeer(dialCtx, target) {
		if err := e.cfg.Driver.Send(ctx, target, envelope); err == nil {
			return true
		}
	}

	relayCandidates := routing.BuildDialCandidates(nil, e.cfg.LocalIPv4, target, relayPeerIDs, bootstrapAddrs, bootstrapPeerIDs)
	for _, rc := range relayCandidates {
		retryCtx, retryCancel := context.WithTimeout(ctx, peerAppearanceWait)
		_ = e.cfg.Driver.Dial(retryCtx, target, []string{rc.Multiaddr})
		connected := e.waitForPeer(retryCtx, target)
		retryCancel()
		if !connected {
			continue
		}
		time.Sleep(relayRetryDelay)
		if err := e.cfg.Driver.Send(ctx, target, envelope); err == nil {
			return true
		}
	}
	return false
}

// waitForPeer polls IsConnected every 100ms up to the context deadline.
func (e *Engine) waitForPeer(ctx context.Context, peerID string) bool {
	if e.cfg.Driver.IsConnected(peerID) {
		return true
	}
	ticker := time.NewTicker(peerAppearancePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.cfg.Driver.IsConnected(peerID)
		case <-ticker.C:
			if e.cfg.Driver.IsConnected(peerID) {
				return true
			}
		}
	}
}

// primeBootstrap dials every bootstrap address at most once per
// bootstrapPrimeMinGap.
func (e *Engine) primeBootstrap(ctx context.Context) {
	e.mu.Lock()
	var due []string
	now := time.Now()
	for _, addr := range e.cfg.BootstrapAddrs {
		if last, ok := e.lastBootstrapPrime[addr]; ok && now.Sub(last) < bootstrapPrimeMinGap {
			continue
		}
		e.lastBootstrapPrime[addr] = now
		due = append(due, addr)
	}
	e.mu.Unlock()

	for _, addr := range due {
		peerID := extractPeerID(addr)
		if peerID == "" {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, peerAppearanceWait)
		_ = e.cfg.Driver.Dial(dialCtx, peerID, []string{addr})
		cancel()
	}
}

// bootstrapRelays derives the relay peer-ID set and membership lookup
// from the configured bootstrap addresses: bootstrap nodes are the
// node's relay hops, and are never treated as chat targets.
func (e *Engine) bootstrapRelays() (relayPeerIDs []string, bootstrapPeerIDs map[string]bool) {
	addrs := e.bootstrapAddrsSnapshot()
	bootstrapPeerIDs = make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		if pid := extractPeerID(addr); pid != "" {
			relayPeerIDs = append(relayPeerIDs, pid)
			bootstrapPeerIDs[pid] = true
		}
	}
	return relayPeerIDs, bootstrapPeerIDs
}

// bootstrapAddrsSnapshot returns a copy of the current bootstrap address
// list, safe to read while SetBootstrapAddrs may be mutating it from
// another goroutine (MeshService's set_bootstrap_nodes hook).
func (e *Engine) bootstrapAddrsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cfg.BootstrapAddrs...)
}

// SetBootstrapAddrs replaces the bootstrap address list consulted by the
// flush loop's relay-circuit synthesis and periodic priming.
func (e *Engine) SetBootstrapAddrs(addrs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BootstrapAddrs = append([]string(nil), addrs...)
}

// PendingCount reports the current outbox depth, for health/backlog checks.
func (e *Engine) PendingCount() int {
	return e.cfg.Outbox.Len()
}

func extractPeerID(multiaddr string) string {
	idx := strings.LastIndex(multiaddr, "/p2p/")
	if idx == -1 {
		return ""
	}
	return multiaddr[idx+len("/p2p/"):]
}

// rescheduleBackoff applies the capped exponential backoff for a
// retry round without incrementing AttemptCount: a failed attempt
// round doesn't count as an attempt until a transmission ACK is
// actually achieved.
func (e *Engine) rescheduleBackoff(entry *model.PendingOutbound) {
	backoff := 1 << min(entry.AttemptCount+1, 6)
	if backoff > 60 {
		backoff = 60
	}
	entry.NextAttemptAt = time.Now().UTC().Add(time.Duration(backoff) * time.Second)
	_ = e.cfg.Outbox.Update(entry)
}

// HandleReceipt matches an inbound delivery receipt to its pending
// outbox entry by history record ID (== message_id) and, if the status
// indicates delivery, marks the history record delivered and removes
// the entry. A "sent" status is a no-op here; only delivered/read
// retire the entry.
func (e *Engine) HandleReceipt(messageID string, status model.ReceiptStatus) {
	if status != model.ReceiptDelivered && status != model.ReceiptRead {
		return
	}
	for _, entry := range e.cfg.Outbox.All() {
		if entry.HistoryRecordID != messageID {
			continue
		}
		if err := e.cfg.History.MarkDelivered(messageID); err != nil {
			e.log.Warn("delivery: mark delivered failed", logger.String("message_id", messageID), logger.Error(err))
		}
		metrics.ReceiptLatency.Observe(time.Since(entry.CreatedAt).Seconds())
		_ = e.cfg.Outbox.Remove(entry.QueueID)
		return
	}
}

// SendReceipt builds, encrypts, and best-effort delivers a Receipt
// directly to recipientPeerID. Receipts are not queued in Outbox: if
// delivery fails, a later duplicate of the original message triggers a
// fresh re-ACK at the receiver (see Inbox dedup), so there is nothing
// useful to retry here.
func (e *Engine) SendReceipt(ctx context.Context, recipientPeerID string, recipientPub ed25519.PublicKey, messageID string, status model.ReceiptStatus) error {
	priv, err := e.cfg.Identity.PrivateKey()
	if err != nil {
		return fmt.Errorf("delivery: receipt: %w", err)
	}
	info, err := e.cfg.Identity.Info()
	if err != nil {
		return fmt.Errorf("delivery: receipt: %w", err)
	}
	senderPub, err := ed25519PublicKeyFromHex(info.PublicKeyHex)
	if err != nil {
		return fmt.Errorf("delivery: receipt: %w", err)
	}

	receiptPayload, err := json.Marshal(model.Receipt{
		MessageID: messageID,
		Status:    status,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("delivery: marshal receipt: %w", err)
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    info.IdentityID,
		RecipientID: recipientPeerID,
		Kind:        model.MessageKindReceipt,
		Payload:     receiptPayload,
		Timestamp:   time.Now().Unix(),
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("delivery: marshal receipt message: %w", err)
	}

	env, err := cryptoengine.Encrypt(priv, senderPub, recipientPub, msgBytes)
	if err != nil {
		return fmt.Errorf("delivery: encrypt receipt: %w", err)
	}
	wire, err := codec.Encode(env)
	if err != nil {
		return fmt.Errorf("delivery: encode receipt: %w", err)
	}

	return e.directSend(ctx, recipientPeerID, wire)
}

func (e *Engine) directSend(ctx context.Context, peerID string, envelope []byte) error {
	if !e.cfg.Driver.IsConnected(peerID) {
		dialCtx, cancel := context.WithTimeout(ctx, peerAppearanceWait)
		defer cancel()
		addrs := e.cfg.Directory.ListenAddrs(peerID)
		_ = e.cfg.Driver.Dial(dialCtx, peerID, addrs)
		if !e.waitForPeer(dialCtx, peerID) {
			return fmt.Errorf("delivery: peer %s did not appear", peerID)
		}
	}
	return e.cfg.Driver.Send(ctx, peerID, envelope)
}

func ed25519PublicKeyFromHex(hexStr string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
