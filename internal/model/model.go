// Package model holds the wire and storage types shared across the core
// engine: identity, contacts, message records, envelopes, and the
// persisted queues that drive delivery.
package model

import "time"

// Direction marks which way a MessageRecord travelled.
type Direction string

const (
	DirectionSent     Direction = "SENT"
	DirectionReceived Direction = "RECEIVED"
)

// MessageKind distinguishes the plaintext payload carried by an envelope.
type MessageKind string

const (
	MessageKindText         MessageKind = "Text"
	MessageKindReceipt      MessageKind = "Receipt"
	MessageKindIdentitySync MessageKind = "IdentitySync"
)

// ReceiptStatus is the delivery state reported back to a sender.
type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "Sent"
	ReceiptDelivered ReceiptStatus = "Delivered"
	ReceiptRead      ReceiptStatus = "Read"
	ReceiptFailed    ReceiptStatus = "Failed"
)

// Identity is the node's sovereign long-term keypair and derived addresses.
// The private key never leaves the IdentityStore/keystore boundary.
type Identity struct {
	IdentityID   string `json:"identity_id"`
	PublicKeyHex string `json:"public_key_hex"`
	PrivateKey   []byte `json:"-"`
	LibP2PPeerID string `json:"libp2p_peer_id"`
	Nickname     string `json:"nickname,omitempty"`
}

// Contact is a known correspondent, keyed canonically by PeerID.
type Contact struct {
	PeerID        string    `json:"peer_id"`
	PublicKey     string    `json:"public_key"`
	Nickname      string    `json:"nickname,omitempty"`
	LocalNickname string    `json:"local_nickname,omitempty"`
	AddedAt       time.Time `json:"added_at"`
	LastSeen      time.Time `json:"last_seen"`
	Notes         string    `json:"notes,omitempty"`
}

// MessageRecord is a persisted, user-visible chat entry.
type MessageRecord struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	PeerID    string    `json:"peer_id"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
	Delivered bool      `json:"delivered"`
}

// Envelope is the encrypted wire unit. Maximum encoded size is 256 KB.
type Envelope struct {
	SenderPublicKey    [32]byte `json:"-"`
	EphemeralPublicKey [32]byte `json:"-"`
	Nonce              [24]byte `json:"-"`
	Ciphertext         []byte   `json:"-"`
}

// MaxEnvelopeSize bounds the encoded Envelope, including the SignedEnvelope wrapper.
const MaxEnvelopeSize = 256 * 1024

// SignedEnvelope wraps an Envelope with an Ed25519 signature over its
// canonical encoding, for relays that want to verify before forwarding
// without decrypting.
type SignedEnvelope struct {
	Envelope  Envelope
	Signature [64]byte
}

// Message is the decrypted plaintext payload carried inside an Envelope.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Kind        MessageKind `json:"kind"`
	Payload     []byte      `json:"payload"`
	Timestamp   int64       `json:"timestamp"`
}

// MaxMessagePayload bounds Message.Payload.
const MaxMessagePayload = 64 * 1024

// Receipt acknowledges delivery of a prior message; it is itself sent back
// to the original sender as an ordinary encrypted envelope.
type Receipt struct {
	MessageID string        `json:"message_id"`
	Status    ReceiptStatus `json:"status"`
	Timestamp int64         `json:"timestamp"`
}

// PendingOutbound is one entry of the durable delivery queue.
type PendingOutbound struct {
	QueueID         string    `json:"queue_id"`
	HistoryRecordID string    `json:"history_record_id"`
	PeerID          string    `json:"peer_id"`
	RoutePeerID     string    `json:"route_peer_id,omitempty"`
	Listeners       []string  `json:"listeners,omitempty"`
	EnvelopeB64     string    `json:"envelope_b64"`
	CreatedAt       time.Time `json:"created_at"`
	MaxAgeSeconds   int64     `json:"max_age_seconds,omitempty"`
	AttemptCount    int       `json:"attempt_count"`
	NextAttemptAt   time.Time `json:"next_attempt_at"`
	Delivered       bool      `json:"delivered"`
}

// Expired reports whether the entry has outlived its MaxAgeSeconds, as of now.
func (p PendingOutbound) Expired(now time.Time) bool {
	if p.MaxAgeSeconds <= 0 {
		return false
	}
	return now.After(p.CreatedAt.Add(time.Duration(p.MaxAgeSeconds) * time.Second))
}

// LedgerEntry tracks one known multiaddr/peer pairing for relay selection.
type LedgerEntry struct {
	Multiaddr    string     `json:"multiaddr"`
	PeerID       string     `json:"peer_id"`
	PublicKey    string     `json:"public_key,omitempty"`
	Nickname     string     `json:"nickname,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
}

// Settings holds the node-wide policy toggles. Fail-safe: a missing or
// corrupt Settings record is treated as relay-disabled.
type Settings struct {
	RelayEnabled       bool `json:"relay_enabled"`
	MaxRelayBudget     int  `json:"max_relay_budget"`
	BatteryFloor       int  `json:"battery_floor"`
	BLEEnabled         bool `json:"ble_enabled"`
	WiFiAwareEnabled   bool `json:"wifi_aware_enabled"`
	WiFiDirectEnabled  bool `json:"wifi_direct_enabled"`
	InternetEnabled    bool `json:"internet_enabled"`
	DiscoveryMode      string `json:"discovery_mode"`
	OnionRouting       bool `json:"onion_routing"`
}

// DefaultSettings returns the fail-safe default: relay disabled.
func DefaultSettings() Settings {
	return Settings{
		RelayEnabled:    false,
		MaxRelayBudget:  0,
		BatteryFloor:    15,
		InternetEnabled: true,
		DiscoveryMode:   "passive",
	}
}

// DeviceProfile is the AutoAdjustEngine's input.
type DeviceProfile struct {
	BatteryPct  int    `json:"battery_pct"`
	IsCharging  bool   `json:"is_charging"`
	HasWiFi     bool   `json:"has_wifi"`
	MotionState string `json:"motion_state"` // "still", "walking", "vehicle"
}

// AdjustmentProfile is the discrete label chosen by AutoAdjustEngine.
type AdjustmentProfile string

const (
	ProfilePowerSaver AdjustmentProfile = "power_saver"
	ProfileBalanced   AdjustmentProfile = "balanced"
	ProfilePerformance AdjustmentProfile = "performance"
)

// BleAdjustment is the BLE radio tuning derived from a DeviceProfile.
type BleAdjustment struct {
	ScanIntervalMs      int `json:"scan_interval_ms"`
	AdvertiseIntervalMs int `json:"advertise_interval_ms"`
	TxPowerDbm          int `json:"tx_power_dbm"`
}

// RelayAdjustment is the relay budget tuning derived from a DeviceProfile.
type RelayAdjustment struct {
	MaxPerHour        int `json:"max_per_hour"`
	PriorityThreshold int `json:"priority_threshold"`
	MaxPayloadBytes   int `json:"max_payload_bytes"`
}
