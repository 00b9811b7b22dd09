package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileState records what the index holds for one file: the content hash
// that produced it and the chunk IDs written for it.
type FileState struct {
	Hash     string   `json:"hash"`
	ChunkIDs []string `json:"chunk_ids"`
}

// State is the on-disk index manifest. It accelerates unchanged-file
// skipping and makes deleted files detectable; the store remains the
// source of truth for per-file reconciliation.
type State struct {
	Model      string                `json:"model"`
	Dimensions int                   `json:"dimensions,omitempty"`
	Files      map[string]*FileState `json:"files"`
}

func NewState(model string) *State {
	return &State{
		Model: model,
		Files: make(map[string]*FileState),
	}
}

// LoadState reads the manifest at path. A missing file yields nil, not
// an error, so callers can distinguish a cold start.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.Files == nil {
		st.Files = make(map[string]*FileState)
	}
	return &st, nil
}

// SaveState writes the manifest atomically (temp file + rename) so a
// crash mid-write never leaves a torn manifest behind.
func SaveState(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
