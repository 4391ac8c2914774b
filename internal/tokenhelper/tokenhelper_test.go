package tokenhelper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	k := NewKeyring()
	addr := "https://vault.internal:8200"

	_, err := k.Get(addr)
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, k.Put(addr, "s.stored"))
	token, err := k.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, "s.stored", token)

	require.NoError(t, k.Erase(addr))
	_, err = k.Get(addr)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestKeyringTokensKeyedByAddress(t *testing.T) {
	keyring.MockInit()

	k := NewKeyring()
	require.NoError(t, k.Put("https://a.internal:8200", "s.a"))
	require.NoError(t, k.Put("https://b.internal:8200", "s.b"))

	tokenA, err := k.Get("https://a.internal:8200")
	require.NoError(t, err)
	tokenB, err := k.Get("https://b.internal:8200")
	require.NoError(t, err)
	assert.NotEqual(t, tokenA, tokenB)
}

func TestKeyringEmptyTokenErases(t *testing.T) {
	keyring.MockInit()

	k := NewKeyring()
	require.NoError(t, k.Put("https://c.internal:8200", "s.c"))
	require.NoError(t, k.Put("https://c.internal:8200", ""))

	_, err := k.Get("https://c.internal:8200")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestKeyringEraseMissingIsNoop(t *testing.T) {
	keyring.MockInit()
	assert.NoError(t, NewKeyring().Erase("https://never-stored:8200"))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, err := m.Get("addr")
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, m.Put("addr", "s.mem"))
	token, err := m.Get("addr")
	require.NoError(t, err)
	assert.Equal(t, "s.mem", token)

	require.NoError(t, m.Erase("addr"))
	_, err = m.Get("addr")
	assert.ErrorIs(t, err, ErrNoToken)
}
