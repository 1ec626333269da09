package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kvImplementations(t *testing.T) map[string]KV {
	return map[string]KV{
		"sqlite": openCoreTestStore(t),
		"memory": NewMemory(),
	}
}

func TestKV_RoundTrip(t *testing.T) {
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get(SlotHistory)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set(SlotHistory, "[1]"))
			require.NoError(t, kv.Set(SlotHistory, "[2]"))

			v, ok, err := kv.Get(SlotHistory)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "[2]", v)

			require.NoError(t, kv.Remove(SlotHistory))
			_, ok, err = kv.Get(SlotHistory)
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, kv.Remove("never-set"))
		})
	}
}

func TestKV_EmptyValueIsPresent(t *testing.T) {
	for name, kv := range kvImplementations(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set(SlotAPIKey, ""))
			v, ok, err := kv.Get(SlotAPIKey)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Empty(t, v)
		})
	}
}
