// Package codec implements the binary wire encoding for Envelope and
// SignedEnvelope: a fixed header of the sender/ephemeral public keys and
// nonce, a length-prefixed ciphertext, and an optional trailing
// signature. There is no protobuf, CBOR, or bincode dependency anywhere
// in the corpus this project is grounded on, so the encoding is a
// direct encoding/binary layout, in the style of the BDLS consensus
// engine's SignedProto wire format.
package codec

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scmessenger/core/internal/model"
)

const (
	// versionV1 is the only wire version this codec currently emits or accepts.
	versionV1 = 1

	variantPlain  = 0
	variantSigned = 1

	headerSize = 1 + 1 + 32 + 32 + 24 + 4 // version, variant, sender, ephemeral, nonce, ciphertext length
)

// Encode serializes env into its wire form. It fails if the resulting
// size would exceed model.MaxEnvelopeSize.
func Encode(env *model.Envelope) ([]byte, error) {
	buf, err := encodeEnvelope(env, variantPlain)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses a plain (unsigned) wire Envelope.
func Decode(data []byte) (*model.Envelope, error) {
	env, variant, _, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if variant != variantPlain {
		return nil, fmt.Errorf("codec: expected plain envelope, got variant %d", variant)
	}
	return env, nil
}

// EncodeSigned serializes a SignedEnvelope: the envelope encoded with
// the signed variant byte, followed by its 64-byte Ed25519 signature.
func EncodeSigned(se *model.SignedEnvelope) ([]byte, error) {
	buf, err := encodeEnvelope(&se.Envelope, variantSigned)
	if err != nil {
		return nil, err
	}
	buf = append(buf, se.Signature[:]...)
	if len(buf) > model.MaxEnvelopeSize {
		return nil, fmt.Errorf("codec: %w", model.ErrEnvelopeTooLarge)
	}
	return buf, nil
}

// DecodeSigned parses a SignedEnvelope.
func DecodeSigned(data []byte) (*model.SignedEnvelope, error) {
	env, variant, rest, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if variant != variantSigned {
		return nil, fmt.Errorf("codec: expected signed envelope, got variant %d", variant)
	}
	if len(rest) != ed25519.SignatureSize {
		return nil, fmt.Errorf("codec: %w: bad signature length", model.ErrCorruptRecord)
	}
	se := &model.SignedEnvelope{Envelope: *env}
	copy(se.Signature[:], rest)
	return se, nil
}

// VerifyOnly reports whether data is a well-formed SignedEnvelope whose
// signature validates against the sender public key embedded in the
// envelope itself, without attempting to decrypt the ciphertext. This
// lets a relay gate forwarding on sender authenticity alone.
func VerifyOnly(data []byte) bool {
	se, err := DecodeSigned(data)
	if err != nil {
		return false
	}
	plainBuf, err := encodeEnvelope(&se.Envelope, variantSigned)
	if err != nil {
		return false
	}
	return ed25519.Verify(se.Envelope.SenderPublicKey[:], plainBuf, se.Signature[:])
}

func encodeEnvelope(env *model.Envelope, variant byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("codec: nil envelope")
	}
	size := headerSize + len(env.Ciphertext)
	if size > model.MaxEnvelopeSize {
		return nil, fmt.Errorf("codec: %w", model.ErrEnvelopeTooLarge)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.WriteByte(versionV1)
	buf.WriteByte(variant)
	buf.Write(env.SenderPublicKey[:])
	buf.Write(env.EphemeralPublicKey[:])
	buf.Write(env.Nonce[:])
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(env.Ciphertext))); err != nil {
		return nil, fmt.Errorf("codec: write ciphertext length: %w", err)
	}
	buf.Write(env.Ciphertext)
	return buf.Bytes(), nil
}

// decodeEnvelope parses the common header and returns the envelope, the
// variant byte, and any trailing bytes (the signature, for a signed
// envelope).
func decodeEnvelope(data []byte) (env *model.Envelope, variant byte, rest []byte, err error) {
	if len(data) > model.MaxEnvelopeSize {
		return nil, 0, nil, fmt.Errorf("codec: %w", model.ErrEnvelopeTooLarge)
	}
	if len(data) < headerSize {
		return nil, 0, nil, fmt.Errorf("codec: %w: short envelope", model.ErrCorruptRecord)
	}
	r := bytes.NewReader(data)

	var version, v byte
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read version: %w", err)
	}
	if version != versionV1 {
		return nil, 0, nil, fmt.Errorf("codec: %w: unsupported version %d", model.ErrSchemaMismatch, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read variant: %w", err)
	}

	e := &model.Envelope{}
	if _, err := io.ReadFull(r, e.SenderPublicKey[:]); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read sender key: %w", err)
	}
	if _, err := io.ReadFull(r, e.EphemeralPublicKey[:]); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read ephemeral key: %w", err)
	}
	if _, err := io.ReadFull(r, e.Nonce[:]); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read nonce: %w", err)
	}

	var ctLen uint32
	if err := binary.Read(r, binary.LittleEndian, &ctLen); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read ciphertext length: %w", err)
	}
	if int(ctLen) > r.Len() {
		return nil, 0, nil, fmt.Errorf("codec: %w: truncated ciphertext", model.ErrCorruptRecord)
	}
	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(r, ct); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read ciphertext: %w", err)
	}
	e.Ciphertext = ct

	trailing := make([]byte, r.Len())
	if _, err := io.ReadFull(r, trailing); err != nil {
		return nil, 0, nil, fmt.Errorf("codec: read trailer: %w", err)
	}

	return e, v, trailing, nil
}
