package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stackform-io/stackform/internal/ir"
)

// Manager handles reading and writing of state on the local filesystem.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads the state from the configured path. A missing file yields a
// fresh empty state with a new lineage. Encrypted files are transparently
// decrypted.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		s := ir.NewState()
		s.Lineage = uuid.NewString()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	state, err := UnmarshalState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return state, nil
}

// Write commits the state durably and atomically: the document is written
// to a temp file, synced, then renamed over the old one. A crash at any
// point leaves either the previous or the new state on disk, never a
// torn document.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := MarshalState(state)
	if err != nil {
		return err
	}

	content, err = EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".stackform-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// Commit implements engine.StateSink.
func (m *Manager) Commit(ctx context.Context, state *ir.State) error {
	return m.Write(ctx, state)
}

// MarshalState serializes a state document to its canonical JSON form.
func MarshalState(state *ir.State) ([]byte, error) {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return append(content, '\n'), nil
}

// UnmarshalState parses a state document.
func UnmarshalState(raw []byte) (*ir.State, error) {
	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if state.Version == 0 {
		return nil, fmt.Errorf("state document has no version")
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	return &state, nil
}
