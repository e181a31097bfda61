package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/codec"
	"github.com/scmessenger/core/internal/cryptoengine"
	"github.com/scmessenger/core/internal/identity"
	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/outbox"
	"github.com/scmessenger/core/internal/store"
	"github.com/scmessenger/core/internal/transport"
	"github.com/scmessenger/core/internal/transport/mocktransport"
)

const testPeerID = "12D3KooWTestPeer1111111111111111111111111111111111"

func newTestEngine(t *testing.T) (*Engine, *outbox.Outbox, *mocktransport.Mock, *store.HistoryStore) {
	t.Helper()
	ob, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	hist, err := store.OpenHistoryStore(t.TempDir())
	require.NoError(t, err)
	contacts, err := store.OpenContactStore(t.TempDir())
	require.NoError(t, err)
	ids, err := identity.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = ids.Initialize("alice")
	require.NoError(t, err)

	mock := mocktransport.New("local-peer")
	eng := New(Config{
		Outbox:    ob,
		Directory: NewPeerDirectory(),
		Driver:    mock,
		History:   hist,
		Contacts:  contacts,
		Identity:  ids,
	})
	return eng, ob, mock, hist
}

func sampleEnvelope(t *testing.T) []byte {
	t.Helper()
	senderPriv, senderPub, err := cryptoengine.GenerateIdentity()
	require.NoError(t, err)
	_, recipientPub, err := cryptoengine.GenerateIdentity()
	require.NoError(t, err)
	env, err := cryptoengine.Encrypt(senderPriv, senderPub, recipientPub, []byte("hello"))
	require.NoError(t, err)
	wire, err := codec.Encode(env)
	require.NoError(t, err)
	return wire
}

func TestEnqueueHappyPathAcksAndReceiptRemovesEntry(t *testing.T) {
	eng, ob, mock, hist := newTestEngine(t)
	eng.cfg.Directory.RecordListenAddrs(testPeerID, []string{"10.0.0.5:4001"})
	eng.cfg.LocalIPv4 = "10.0.0.1"

	require.NoError(t, hist.Append(model.MessageRecord{ID: "msg-1", PeerID: testPeerID, Direction: model.DirectionSent}))

	queueID, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, queueID)

	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	assert.Equal(t, "msg-1", entry.HistoryRecordID)

	eng.flush(context.Background(), "test")

	assert.Equal(t, 1, mock.DialCount(testPeerID))
	assert.Len(t, mock.SentTo(testPeerID), 1)

	entry, ok = ob.Peek(testPeerID)
	require.True(t, ok)
	assert.Equal(t, 1, entry.AttemptCount)
	assert.True(t, entry.NextAttemptAt.After(time.Now()))

	eng.HandleReceipt("msg-1", model.ReceiptDelivered)

	_, ok = ob.Peek(testPeerID)
	assert.False(t, ok, "entry should be removed once a delivery receipt is handled")
}

func TestAttemptEntrySkippedBeforeNextAttemptAt(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	eng.cfg.Directory.RecordListenAddrs(testPeerID, []string{"10.0.0.5:4001"})
	eng.cfg.LocalIPv4 = "10.0.0.1"

	_, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-2", 0)
	require.NoError(t, err)

	eng.flush(context.Background(), "first")
	assert.Equal(t, 1, mock.DialCount(testPeerID))

	// Immediately flushing again must not re-dial: NextAttemptAt is 8s out.
	eng.flush(context.Background(), "second")
	assert.Equal(t, 1, mock.DialCount(testPeerID))

	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	_ = entry
}

func TestNoDialCandidatesReschedulesWithBackoff(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	// No listen addrs recorded in the directory and no bootstrap relays
	// configured: BuildDialCandidates has nothing to offer.
	_, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-3", 0)
	require.NoError(t, err)

	eng.flush(context.Background(), "test")

	assert.Equal(t, 0, mock.DialCount(testPeerID))
	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	assert.Equal(t, 0, entry.AttemptCount, "a failed round never increments AttemptCount")
	assert.True(t, entry.NextAttemptAt.After(time.Now()), "failure must reschedule into the future")
}

func TestSendFailureFallsBackToRelayCircuit(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	eng.cfg.Directory.RecordListenAddrs(testPeerID, []string{"10.0.0.5:4001"})
	eng.cfg.LocalIPv4 = "10.0.0.1"
	eng.cfg.BootstrapAddrs = []string{"/ip4/203.0.113.1/tcp/4001/p2p/12D3KooWRelayNode000000000000000000000000000000000"}

	directAttempts := 0
	mock.SendFunc = func(ctx context.Context, peerID string, data []byte) error {
		directAttempts++
		if directAttempts == 1 {
			return fmt.Errorf("simulated send failure on the direct route")
		}
		return nil
	}

	_, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-4", 0)
	require.NoError(t, err)

	eng.flush(context.Background(), "test")

	// First Send attempt (direct route) fails, second (relay-circuit
	// retry) succeeds, so the entry should still have acked.
	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	assert.Equal(t, 1, entry.AttemptCount)
	assert.GreaterOrEqual(t, directAttempts, 2)
}

func TestMaxAttemptsStopsRetrying(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)

	mock.DialFunc = func(ctx context.Context, peerID string, addrs []string) error {
		return fmt.Errorf("simulated dial failure")
	}

	_, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-5", 0)
	require.NoError(t, err)

	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	entry.AttemptCount = maxAttempts
	require.NoError(t, ob.Update(entry))

	eng.flush(context.Background(), "test")

	assert.Equal(t, 0, mock.DialCount(testPeerID), "an exhausted entry must not be retried")
	entry, ok = ob.Peek(testPeerID)
	require.True(t, ok)
	assert.Equal(t, maxAttempts, entry.AttemptCount)
}

func TestBootstrapPrimingIsRateLimited(t *testing.T) {
	eng, _, mock, _ := newTestEngine(t)
	bootstrapAddr := "/ip4/203.0.113.1/tcp/4001/p2p/12D3KooWRelayNode000000000000000000000000000000000"
	eng.cfg.BootstrapAddrs = []string{bootstrapAddr}

	eng.primeBootstrap(context.Background())
	assert.Equal(t, 1, mock.DialCount("12D3KooWRelayNode000000000000000000000000000000000"))

	eng.primeBootstrap(context.Background())
	assert.Equal(t, 1, mock.DialCount("12D3KooWRelayNode000000000000000000000000000000000"), "a second prime within the rate-limit window must not redial")
}

func TestSendReceiptDeliversDirectlyWithoutQueuing(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	_, recipientPub, err := cryptoengine.GenerateIdentity()
	require.NoError(t, err)

	eng.cfg.Directory.RecordListenAddrs(testPeerID, []string{"10.0.0.5:4001"})

	err = eng.SendReceipt(context.Background(), testPeerID, recipientPub, "msg-6", model.ReceiptDelivered)
	require.NoError(t, err)

	assert.Len(t, mock.SentTo(testPeerID), 1)
	assert.Equal(t, 0, ob.Len(), "receipts are never queued in the outbox")
}

func TestAttemptEntryDropsCorruptEnvelope(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	queueID, err := eng.cfg.Outbox.Enqueue(testPeerID, []byte("not a real envelope"), 0)
	require.NoError(t, err)

	eng.flush(context.Background(), "test")

	_, ok := ob.Peek(testPeerID)
	assert.False(t, ok, "a corrupt entry should be dropped, not retried")
	assert.Equal(t, 0, mock.DialCount(testPeerID))
	_ = queueID
}

func TestAttemptEntryDropsDeliveredEntryWithoutDialing(t *testing.T) {
	eng, ob, mock, _ := newTestEngine(t)
	queueID, err := eng.Enqueue(testPeerID, testPeerID, sampleEnvelope(t), "msg-7", 0)
	require.NoError(t, err)

	entry, ok := ob.Peek(testPeerID)
	require.True(t, ok)
	entry.Delivered = true
	require.NoError(t, ob.Update(entry))

	eng.flush(context.Background(), "test")

	assert.Equal(t, 0, mock.DialCount(testPeerID))
	_, ok = ob.Peek(testPeerID)
	assert.False(t, ok)
	_ = queueID
}

func TestEncodedEnvelopeRoundTripsThroughBase64(t *testing.T) {
	wire := sampleEnvelope(t)
	encoded := base64.StdEncoding.EncodeToString(wire)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, wire, decoded)
}

var _ transport.Driver = (*mocktransport.Mock)(nil)
