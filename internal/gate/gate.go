// Package gate implements the bidirectional, fail-safe relay gate.
// SettingsStore already defaults to relay_enabled=false on any load or
// parse failure, so this package only needs to read the current value:
// the fail-safe property is inherited, not re-implemented here.
package gate

import (
	"fmt"

	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/store"
)

// Gate enforces the relay policy on both the send and receive paths.
type Gate struct {
	settings *store.SettingsStore
}

// New builds a Gate backed by settings.
func New(settings *store.SettingsStore) *Gate {
	return &Gate{settings: settings}
}

// enabled reports the current relay_enabled value.
func (g *Gate) enabled() bool {
	return g.settings.Get().RelayEnabled
}

// GuardSend is called before attempting to send a message. It returns
// model.ErrRelayDisabled if relaying is not enabled.
func (g *Gate) GuardSend() error {
	if !g.enabled() {
		return fmt.Errorf("gate: %w", model.ErrRelayDisabled)
	}
	return nil
}

// ShouldDropReceived reports whether an inbound decrypted payload must
// be silently dropped: not emitted to the host, not recorded in
// History, and not acknowledged.
func (g *Gate) ShouldDropReceived() bool {
	return !g.enabled()
}
