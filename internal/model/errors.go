package model

import "errors"

// Sentinel errors forming the core error taxonomy. Callers use
// errors.Is against these; they are wrapped with context via
// fmt.Errorf("...: %w", err) at each layer.
var (
	ErrRelayDisabled        = errors.New("relay disabled")
	ErrContactNotFound      = errors.New("contact not found")
	ErrInvalidPublicKey     = errors.New("invalid public key")
	ErrNotInitialized       = errors.New("component not initialized")
	ErrDecryptFailed        = errors.New("decrypt failed")
	ErrTransportTransient   = errors.New("transient transport error")
	ErrTransportFatal       = errors.New("fatal transport error")
	ErrCorruptRecord        = errors.New("corrupt persisted record")
	ErrSchemaMismatch       = errors.New("storage schema mismatch")
	ErrEnvelopeTooLarge     = errors.New("envelope exceeds maximum size")
	ErrPayloadTooLarge      = errors.New("message payload exceeds maximum size")
	ErrIdentityExists       = errors.New("identity already initialized")
	ErrNoIdentity           = errors.New("no identity present")
)
