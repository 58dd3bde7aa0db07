// Package contextfile manages user-supplied context documents that are
// injected into the system prompt: plain Markdown/text files in a known
// directory, with an enabled/disabled flag per file kept in a sidecar
// config.json so the flags survive restarts.
//
// A Store covers one scope. The global scope holds files injected into every
// conversation; a persona scope (a subdirectory per persona) holds files
// injected only when that persona is active.
package contextfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/salinechat/saline/internal/saline/fault"
)

// sidecarName is the per-directory record of enabled flags. It is never
// listed as a context file itself.
const sidecarName = "config.json"

// File is a context file summary.
type File struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Section is an enabled file with its content, ready for prompt assembly.
type Section struct {
	Name    string
	Content string
}

// sidecar mirrors the on-disk config.json shape:
// {"files": {"notes.md": {"enabled": true}}}.
type sidecar struct {
	Files map[string]fileFlags `json:"files"`
}

type fileFlags struct {
	Enabled bool `json:"enabled"`
}

// Store manages the context files of one scope directory.
type Store struct {
	dir string
}

// NewStore creates a Store over dir. The directory is created lazily on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the scope directory.
func (s *Store) Dir() string { return s.dir }

// allowedName reports whether name is an acceptable context filename.
func allowedName(name string) bool {
	return (strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".txt")) && name != sidecarName
}

// List returns the scope's context files sorted by name, each with its
// enabled flag (files missing from the sidecar default to enabled).
func (s *Store) List() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contextfile: list %s: %w", s.dir, err)
	}

	flags := s.readSidecar()
	var files []File
	for _, e := range entries {
		if e.IsDir() || !allowedName(e.Name()) {
			continue
		}
		enabled := true
		if f, ok := flags.Files[e.Name()]; ok {
			enabled = f.Enabled
		}
		files = append(files, File{Name: e.Name(), Enabled: enabled})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Add stores content under name (path components stripped) and marks the
// file enabled. Only .md and .txt files are accepted.
func (s *Store) Add(name string, content []byte) (string, error) {
	name = filepath.Base(name)
	if !allowedName(name) {
		return "", fault.Validationf("context file %q must be a .md or .txt file", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("contextfile: create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), content, 0o644); err != nil {
		return "", fmt.Errorf("contextfile: write %s: %w", name, err)
	}

	flags := s.readSidecar()
	flags.Files[name] = fileFlags{Enabled: true}
	if err := s.writeSidecar(flags); err != nil {
		return "", err
	}
	return name, nil
}

// Delete removes a context file and its sidecar entry.
func (s *Store) Delete(name string) error {
	name = filepath.Base(name)
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &fault.NotFoundError{Resource: "context file", ID: name}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("contextfile: delete %s: %w", name, err)
	}
	flags := s.readSidecar()
	if _, ok := flags.Files[name]; ok {
		delete(flags.Files, name)
		if err := s.writeSidecar(flags); err != nil {
			return err
		}
	}
	return nil
}

// Toggle flips the enabled flag of name, or sets it when enabled is non-nil.
// Returns the new state.
func (s *Store) Toggle(name string, enabled *bool) (bool, error) {
	name = filepath.Base(name)
	if _, err := os.Stat(filepath.Join(s.dir, name)); os.IsNotExist(err) {
		return false, &fault.NotFoundError{Resource: "context file", ID: name}
	}

	flags := s.readSidecar()
	current, ok := flags.Files[name]
	if !ok {
		current = fileFlags{Enabled: true}
	}
	next := !current.Enabled
	if enabled != nil {
		next = *enabled
	}
	flags.Files[name] = fileFlags{Enabled: next}
	if err := s.writeSidecar(flags); err != nil {
		return false, err
	}
	return next, nil
}

// Content returns the content of name.
func (s *Store) Content(name string) (string, error) {
	name = filepath.Base(name)
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return "", &fault.NotFoundError{Resource: "context file", ID: name}
	}
	if err != nil {
		return "", fmt.Errorf("contextfile: read %s: %w", name, err)
	}
	return string(raw), nil
}

// SaveContent overwrites an existing context file.
func (s *Store) SaveContent(name, content string) error {
	name = filepath.Base(name)
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &fault.NotFoundError{Resource: "context file", ID: name}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("contextfile: write %s: %w", name, err)
	}
	return nil
}

// EnabledSections returns the enabled files with content, in name order.
func (s *Store) EnabledSections() ([]Section, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	var sections []Section
	for _, f := range files {
		if !f.Enabled {
			continue
		}
		content, err := s.Content(f.Name)
		if err != nil {
			// File vanished between List and read; skip it.
			continue
		}
		sections = append(sections, Section{Name: f.Name, Content: content})
	}
	return sections, nil
}

// readSidecar loads the enabled-flag record. A missing or unparseable
// sidecar degrades to "everything enabled" rather than failing the caller.
func (s *Store) readSidecar() sidecar {
	sc := sidecar{Files: map[string]fileFlags{}}
	raw, err := os.ReadFile(filepath.Join(s.dir, sidecarName))
	if err != nil {
		return sc
	}
	if err := json.Unmarshal(raw, &sc); err != nil {
		slog.Warn("contextfile: sidecar unreadable, flags reset to enabled",
			"dir", s.dir, "err", err)
		return sidecar{Files: map[string]fileFlags{}}
	}
	if sc.Files == nil {
		sc.Files = map[string]fileFlags{}
	}
	return sc
}

func (s *Store) writeSidecar(sc sidecar) error {
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("contextfile: encode sidecar: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("contextfile: create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, sidecarName), raw, 0o644); err != nil {
		return fmt.Errorf("contextfile: write sidecar: %w", err)
	}
	return nil
}
