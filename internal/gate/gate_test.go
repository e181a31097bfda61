package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmessenger/core/internal/model"
	"github.com/scmessenger/core/internal/store"
)

func TestGateDefaultsClosed(t *testing.T) {
	s, err := store.OpenSettingsStore(t.TempDir())
	require.NoError(t, err)
	g := New(s)

	require.ErrorIs(t, g.GuardSend(), model.ErrRelayDisabled)
	assert.True(t, g.ShouldDropReceived())
}

func TestGateOpensWhenEnabled(t *testing.T) {
	s, err := store.OpenSettingsStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Save(model.Settings{RelayEnabled: true, InternetEnabled: true})
	require.NoError(t, err)

	g := New(s)
	require.NoError(t, g.GuardSend())
	assert.False(t, g.ShouldDropReceived())
}
