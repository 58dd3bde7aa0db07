// Package persona manages the persona library: one directory per persona,
// each holding one or more Markdown fragments that together form the
// assistant's system-prompt template, plus an optional config.json carrying
// a per-persona model override.
//
// The directory listing is the source of truth — personas are just files.
// The Repository wraps that so callers never touch paths directly and the
// storage mechanism stays swappable.
//
// Typical layout (relative to the personas root):
//
//	assistant/identity.md
//	pirate/identity.md
//	pirate/style.md
//	pirate/config.json
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/salinechat/saline/internal/saline/fault"
)

// DefaultID is the reserved persona id. It is created on first use, cannot
// be deleted or renamed, and is the fallback whenever a session references a
// persona that no longer exists.
const DefaultID = "assistant"

// idPattern is the set of characters allowed in a persona id.
var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Persona is a directory-backed persona summary.
type Persona struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Fragment is one Markdown file within a persona directory. Fragments are
// assembled in filename order, so the ordering here is load-bearing.
type Fragment struct {
	Name    string
	Content string
}

// personaConfig is the optional per-persona config.json.
type personaConfig struct {
	Model string `json:"model,omitempty"`
}

// Repository discovers and mutates personas under a filesystem root.
type Repository struct {
	root string
}

// NewRepository creates a Repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{root: dir}
}

// Root returns the personas root directory.
func (r *Repository) Root() string { return r.root }

// ValidateID checks that id is non-empty and uses only [a-z0-9_].
func ValidateID(id string) error {
	if id == "" {
		return fault.Validationf("persona id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fault.Validationf("persona id %q may only contain lowercase letters, digits, and underscores", id)
	}
	return nil
}

// DisplayName derives a human-readable name from a persona id:
// underscores become spaces and each word is title-cased.
func DisplayName(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// List returns every persona with at least one Markdown fragment, sorted by
// id so the ordering is stable across calls.
func (r *Repository) List() ([]Persona, error) {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persona: list %s: %w", r.root, err)
	}

	var personas []Persona
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names, err := r.fragmentNames(e.Name())
		if err != nil || len(names) == 0 {
			continue
		}
		personas = append(personas, Persona{ID: e.Name(), DisplayName: DisplayName(e.Name())})
	}
	sort.Slice(personas, func(i, j int) bool { return personas[i].ID < personas[j].ID })
	return personas, nil
}

// Exists reports whether a persona with at least one fragment exists.
func (r *Repository) Exists(id string) bool {
	names, err := r.fragmentNames(id)
	return err == nil && len(names) > 0
}

// fragmentNames returns the persona's Markdown filenames sorted ascending.
func (r *Repository) fragmentNames(id string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, id))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Fragments loads the persona's fragments in filename order.
func (r *Repository) Fragments(id string) ([]Fragment, error) {
	names, err := r.fragmentNames(id)
	if os.IsNotExist(err) {
		return nil, &fault.NotFoundError{Resource: "persona", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", id, err)
	}

	fragments := make([]Fragment, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(r.root, id, name))
		if err != nil {
			return nil, fmt.Errorf("persona: read fragment %s/%s: %w", id, name, err)
		}
		fragments = append(fragments, Fragment{Name: name, Content: string(raw)})
	}
	return fragments, nil
}

// Content returns the first fragment's content, used as the editable body in
// the settings surface.
func (r *Repository) Content(id string) (string, error) {
	fragments, err := r.Fragments(id)
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return "", &fault.NotFoundError{Resource: "persona", ID: id}
	}
	return fragments[0].Content, nil
}

// SaveContent writes content to the persona's first fragment (identity.md
// when none exist yet).
func (r *Repository) SaveContent(id, content string) error {
	if !r.dirExists(id) {
		return &fault.NotFoundError{Resource: "persona", ID: id}
	}
	names, err := r.fragmentNames(id)
	if err != nil {
		return fmt.Errorf("persona: read %s: %w", id, err)
	}
	target := "identity.md"
	if len(names) > 0 {
		target = names[0]
	}
	if err := os.WriteFile(filepath.Join(r.root, id, target), []byte(content), 0o644); err != nil {
		return fmt.Errorf("persona: write %s/%s: %w", id, target, err)
	}
	return nil
}

// Create makes a new persona directory with an identity.md fragment.
func (r *Repository) Create(id, content string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if r.dirExists(id) {
		return fault.Validationf("a persona named %q already exists", id)
	}
	dir := filepath.Join(r.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persona: create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "identity.md"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("persona: write %s/identity.md: %w", id, err)
	}
	return nil
}

// Rename moves a persona to a new id and replaces its primary fragment with
// content. It either fully succeeds or leaves the original untouched: when
// the content write fails after the move, the move is rolled back.
func (r *Repository) Rename(oldID, newID, content string) error {
	if oldID == DefaultID {
		return &fault.ProtectedResourceError{Resource: "persona", ID: oldID}
	}
	if err := ValidateID(newID); err != nil {
		return err
	}
	if !r.dirExists(oldID) {
		return &fault.NotFoundError{Resource: "persona", ID: oldID}
	}
	if r.dirExists(newID) {
		return fault.Validationf("a persona named %q already exists", newID)
	}
	oldPath := filepath.Join(r.root, oldID)
	newPath := filepath.Join(r.root, newID)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("persona: rename %s to %s: %w", oldID, newID, err)
	}
	if err := r.SaveContent(newID, content); err != nil {
		if rbErr := os.Rename(newPath, oldPath); rbErr != nil {
			return fmt.Errorf("persona: rename %s to %s: %w (rollback also failed: %v)", oldID, newID, err, rbErr)
		}
		return fmt.Errorf("persona: rename %s to %s: %w", oldID, newID, err)
	}
	return nil
}

// Delete removes a persona and everything under it.
func (r *Repository) Delete(id string) error {
	if id == DefaultID {
		return &fault.ProtectedResourceError{Resource: "persona", ID: id}
	}
	if !r.dirExists(id) {
		return &fault.NotFoundError{Resource: "persona", ID: id}
	}
	if err := os.RemoveAll(filepath.Join(r.root, id)); err != nil {
		return fmt.Errorf("persona: delete %s: %w", id, err)
	}
	return nil
}

// ModelOverride returns the persona's model override, if any. A missing
// persona, absent config.json, or unparseable file all mean "no override".
func (r *Repository) ModelOverride(id string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(r.root, id, "config.json"))
	if err != nil {
		return "", false
	}
	var cfg personaConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", false
	}
	if cfg.Model == "" {
		return "", false
	}
	return cfg.Model, true
}

// SetModelOverride writes (or, with an empty model, clears) the persona's
// model override.
func (r *Repository) SetModelOverride(id, model string) error {
	if !r.dirExists(id) {
		return &fault.NotFoundError{Resource: "persona", ID: id}
	}
	path := filepath.Join(r.root, id, "config.json")
	if model == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persona: clear model override for %s: %w", id, err)
		}
		return nil
	}
	raw, err := json.MarshalIndent(personaConfig{Model: model}, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode model override: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("persona: write model override for %s: %w", id, err)
	}
	return nil
}

// EnsureDefault creates the reserved default persona when missing, so a
// fresh installation always has a usable persona.
func (r *Repository) EnsureDefault(content string) error {
	if r.Exists(DefaultID) {
		return nil
	}
	if r.dirExists(DefaultID) {
		return r.SaveContent(DefaultID, content)
	}
	return r.Create(DefaultID, content)
}

func (r *Repository) dirExists(id string) bool {
	info, err := os.Stat(filepath.Join(r.root, id))
	return err == nil && info.IsDir()
}
