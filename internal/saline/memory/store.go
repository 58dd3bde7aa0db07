// Package memory persists the long-term memory document: a single Markdown
// file describing the user, shared across all sessions. The file is read on
// every system-prompt assembly and rewritten only by the summarizer's update
// routine or an explicit wipe.
//
// The store enforces the shrinkage guard: when an established memory would be
// replaced by a suspiciously short candidate, the update is rejected and the
// existing document kept. This protects accumulated profile data from a
// degenerate LLM response; it does not protect against ordinary edits.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultGuardMinLength is the size below which an existing memory is
	// considered trivial and replaceable by anything.
	DefaultGuardMinLength = 50

	// DefaultGuardRatio is the minimum candidate/existing length ratio an
	// update must meet once the existing memory is non-trivial.
	DefaultGuardRatio = 0.2
)

// Store reads and writes the long-term memory file. An absent file is
// equivalent to an empty memory.
type Store struct {
	path string

	// GuardMinLength and GuardRatio tune the shrinkage guard. Zero values
	// fall back to the package defaults.
	GuardMinLength int
	GuardRatio     float64
}

// NewStore creates a Store for the memory file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Read returns the current memory content, or "" when the file is absent.
func (s *Store) Read() (string, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memory: read %s: %w", s.path, err)
	}
	return string(raw), nil
}

// Write replaces the memory document atomically.
func (s *Store) Write(content string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("memory: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: replace %s: %w", s.path, err)
	}
	return nil
}

// ApplyUpdate replaces the memory with candidate unless the shrinkage guard
// rejects it. Returns whether the candidate was accepted.
func (s *Store) ApplyUpdate(candidate string) (bool, error) {
	existing, err := s.Read()
	if err != nil {
		return false, err
	}
	if !s.guardAccepts(existing, candidate) {
		return false, nil
	}
	if err := s.Write(candidate); err != nil {
		return false, err
	}
	return true, nil
}

// guardAccepts implements the shrinkage check: a non-trivial existing memory
// may only be replaced by a candidate at least GuardRatio of its length.
func (s *Store) guardAccepts(existing, candidate string) bool {
	minLen := s.GuardMinLength
	if minLen <= 0 {
		minLen = DefaultGuardMinLength
	}
	ratio := s.GuardRatio
	if ratio <= 0 {
		ratio = DefaultGuardRatio
	}
	if len(existing) <= minLen {
		return true
	}
	return float64(len(candidate)) >= ratio*float64(len(existing))
}

// Wipe removes the memory file. Wiping an absent memory is not an error.
func (s *Store) Wipe() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("memory: wipe %s: %w", s.path, err)
	}
	return nil
}

// LastUpdated returns the modification time of the memory file, or false
// when no memory exists.
func (s *Store) LastUpdated() (time.Time, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
