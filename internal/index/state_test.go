package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStateMissing(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.json")

	st := NewState("nomic-embed-text")
	st.Dimensions = 768
	st.Files["pkg/a.go"] = &FileState{Hash: "abc123", ChunkIDs: []string{"c1", "c2"}}

	require.NoError(t, SaveState(path, st))

	got, err := LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, st, got)

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSaveStateOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := NewState("model-a")
	first.Files["a.go"] = &FileState{Hash: "h1"}
	require.NoError(t, SaveState(path, first))

	second := NewState("model-b")
	require.NoError(t, SaveState(path, second))

	got, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, "model-b", got.Model)
	assert.Empty(t, got.Files)
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadState(path)
	assert.Error(t, err)
}
