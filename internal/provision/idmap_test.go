package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDMap_SetGet(t *testing.T) {
	m := NewIDMap()
	require.NoError(t, m.Set("sprint-26-1", "aaaa"))

	got, err := m.Get("sprint-26-1")
	require.NoError(t, err)
	assert.Equal(t, "aaaa", got)
	assert.True(t, m.Has("sprint-26-1"))
	assert.Equal(t, 1, m.Len())
}

func TestIDMap_Missing(t *testing.T) {
	m := NewIDMap()

	_, err := m.Get("ou-germany")
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.True(t, IsUnresolvedReference(err))
	assert.Contains(t, err.Error(), "ou-germany")
}

func TestIDMap_Monotonic(t *testing.T) {
	m := NewIDMap()
	require.NoError(t, m.Set("k", "g1"))

	// Same binding again is fine.
	require.NoError(t, m.Set("k", "g1"))

	err := m.Set("k", "g2")
	assert.ErrorIs(t, err, ErrConflictingID)

	got, _ := m.Get("k")
	assert.Equal(t, "g1", got)
}

func TestIDMap_RejectsEmpty(t *testing.T) {
	m := NewIDMap()
	assert.Error(t, m.Set("", "g"))
	assert.Error(t, m.Set("k", ""))
	assert.Equal(t, 0, m.Len())
}

func TestIDMap_KeysSorted(t *testing.T) {
	m := NewIDMap()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, m.Set(k, "g-"+k))
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}
