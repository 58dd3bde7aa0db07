package contextfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/salinechat/saline/internal/saline/fault"
)

func TestListEmptyDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))
	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("List() = %v, want empty", files)
	}
}

func TestAddAndList(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("notes.md", []byte("hello")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := s.Add("facts.txt", []byte("world")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d files, want 2", len(files))
	}
	if files[0].Name != "facts.txt" || files[1].Name != "notes.md" {
		t.Fatalf("List() order = %v, want facts.txt then notes.md", files)
	}
	for _, f := range files {
		if !f.Enabled {
			t.Fatalf("file %s not enabled after Add", f.Name)
		}
	}
}

func TestAddRejectsBadExtension(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("payload.exe", []byte("x")); !fault.IsValidation(err) {
		t.Fatalf("Add(payload.exe) error = %v, want validation error", err)
	}
	if _, err := s.Add("config.json", []byte("{}")); !fault.IsValidation(err) {
		t.Fatalf("Add(config.json) error = %v, want validation error", err)
	}
}

func TestAddStripsPath(t *testing.T) {
	s := NewStore(t.TempDir())
	name, err := s.Add("../../escape.md", []byte("x"))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if name != "escape.md" {
		t.Fatalf("Add() stored name = %q, want escape.md", name)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "escape.md")); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
}

func TestSidecarIgnoredInListing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("a.md", []byte("x")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	for _, f := range files {
		if f.Name == "config.json" {
			t.Fatal("config.json listed as a context file")
		}
	}
}

func TestTogglePersistsAcrossStores(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if _, err := s.Add("a.md", []byte("x")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	state, err := s.Toggle("a.md", nil)
	if err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	if state {
		t.Fatal("Toggle() from enabled should disable")
	}

	reopened := NewStore(dir)
	files, err := reopened.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if files[0].Enabled {
		t.Fatal("disabled flag did not persist")
	}
}

func TestToggleExplicitState(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("a.md", []byte("x")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	off := false
	if state, err := s.Toggle("a.md", &off); err != nil || state {
		t.Fatalf("Toggle(false) = %v, %v; want false, nil", state, err)
	}
	// Setting the same state again is a no-op, not a flip.
	if state, err := s.Toggle("a.md", &off); err != nil || state {
		t.Fatalf("repeated Toggle(false) = %v, %v; want false, nil", state, err)
	}
}

func TestToggleMissingFile(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Toggle("ghost.md", nil); !fault.IsNotFound(err) {
		t.Fatalf("Toggle(ghost.md) error = %v, want not found", err)
	}
}

func TestDeleteRemovesFileAndFlag(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("a.md", []byte("x")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Delete("a.md"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("List() = %v after delete, want empty", files)
	}
	if err := s.Delete("a.md"); !fault.IsNotFound(err) {
		t.Fatalf("second Delete() error = %v, want not found", err)
	}
}

func TestContentAndSaveContent(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("a.md", []byte("before")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.SaveContent("a.md", "after"); err != nil {
		t.Fatalf("SaveContent() error: %v", err)
	}
	got, err := s.Content("a.md")
	if err != nil {
		t.Fatalf("Content() error: %v", err)
	}
	if got != "after" {
		t.Fatalf("Content() = %q, want %q", got, "after")
	}
	if err := s.SaveContent("ghost.md", "x"); !fault.IsNotFound(err) {
		t.Fatalf("SaveContent(ghost.md) error = %v, want not found", err)
	}
}

func TestEnabledSectionsSkipsDisabled(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Add("a.md", []byte("alpha")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := s.Add("b.md", []byte("beta")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	off := false
	if _, err := s.Toggle("a.md", &off); err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}

	sections, err := s.EnabledSections()
	if err != nil {
		t.Fatalf("EnabledSections() error: %v", err)
	}
	if len(sections) != 1 || sections[0].Name != "b.md" || sections[0].Content != "beta" {
		t.Fatalf("EnabledSections() = %v, want only b.md", sections)
	}
}

func TestCorruptSidecarDefaultsToEnabled(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if _, err := s.Add("a.md", []byte("x")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write corrupt sidecar: %v", err)
	}
	files, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if !files[0].Enabled {
		t.Fatal("corrupt sidecar should fall back to enabled")
	}
}

func TestNotFoundErrorShape(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Content("ghost.md")
	var nf *fault.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Content(ghost.md) error = %v, want NotFoundError", err)
	}
	if nf.Resource != "context file" || nf.ID != "ghost.md" {
		t.Fatalf("NotFoundError = %+v, want context file/ghost.md", nf)
	}
}
