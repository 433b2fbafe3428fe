// Package storage persists run state and exports the run artifacts. State
// snapshots are JSON envelopes whose component sections stay opaque here,
// so sections this build does not know about survive a load/save cycle.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvelopeVersion tags the snapshot schema.
const EnvelopeVersion = 1

// Snapshot file names inside a run workspace.
const (
	PauseFile     = "state_pause.json"
	InterruptFile = "state_interrupt.json"
	FinalFile     = "state_final.json"
	AutoSaveFile  = "state_auto.json"
)

// AutoSaveFileAt names an incremental auto-save snapshot for a day index.
func AutoSaveFileAt(dayIndex int) string {
	return fmt.Sprintf("state_auto_%04d.json", dayIndex)
}

// Envelope is the on-disk snapshot format. Components hold each
// subsystem's state as raw JSON keyed by section name.
type Envelope struct {
	Version    int                        `json:"version"`
	Status     string                     `json:"status"`
	SavedAt    time.Time                  `json:"saved_at"`
	Components map[string]json.RawMessage `json:"components"`
}

// NewEnvelope builds an empty envelope with the given status tag.
func NewEnvelope(status string) *Envelope {
	return &Envelope{
		Version:    EnvelopeVersion,
		Status:     status,
		SavedAt:    time.Now().UTC(),
		Components: make(map[string]json.RawMessage),
	}
}

// SetComponent marshals v into the named section.
func (e *Envelope) SetComponent(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding snapshot section %s: %w", name, err)
	}
	if e.Components == nil {
		e.Components = make(map[string]json.RawMessage)
	}
	e.Components[name] = data
	return nil
}

// Component decodes the named section into out; the bool reports whether
// the section exists.
func (e *Envelope) Component(name string, out any) (bool, error) {
	raw, ok := e.Components[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decoding snapshot section %s: %w", name, err)
	}
	return true, nil
}

// Save writes the envelope atomically: temp file in the target directory,
// then rename over the destination.
func Save(path string, env *Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

// Load reads and decodes a snapshot envelope.
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a user-provided snapshot location
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, env.Version)
	}
	if env.Components == nil {
		env.Components = make(map[string]json.RawMessage)
	}
	return &env, nil
}
