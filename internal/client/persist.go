package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Persister stores tracked audits between process runs.
type Persister interface {
	Load() ([]Audit, error)
	Save(audits []Audit) error
}

// FilePersister keeps tracked audits in a JSON file. Writes go to a temporary file
// that is renamed over the target.
type FilePersister struct {
	Path string
}

// Load implements Persister. A missing file is an empty state.
func (p FilePersister) Load() ([]Audit, error) {
	raw, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit state: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var audits []Audit
	if err := json.Unmarshal(raw, &audits); err != nil {
		return nil, fmt.Errorf("failed to parse audit state %s: %w", p.Path, err)
	}
	return audits, nil
}

// Save implements Persister.
func (p FilePersister) Save(audits []Audit) error {
	if audits == nil {
		audits = []Audit{}
	}
	raw, err := json.MarshalIndent(audits, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit state: %w", err)
	}

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".audits-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write audit state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write audit state: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return fmt.Errorf("failed to replace audit state: %w", err)
	}
	return nil
}
