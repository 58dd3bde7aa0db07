// Package session persists conversations as individual JSON files, one per
// session, named after the creation timestamp. Files are the source of
// truth: listing re-reads the directory so external edits show up without a
// restart.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/salinechat/saline/internal/saline/fault"
)

// Roles of conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// PlaceholderTitle marks a session that has not yet earned a generated title.
const PlaceholderTitle = "New Chat"

// idLayout is the timestamp layout embedded in session ids.
const idLayout = "20060102_150405"

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the full persisted conversation state. The ID lives in the
// filename, not the file body.
type Session struct {
	ID       string    `json:"-"`
	Title    string    `json:"title"`
	Persona  string    `json:"persona"`
	Pinned   bool      `json:"pinned"`
	Messages []Message `json:"messages"`
}

// Summary is the listing view of a session, without the message bodies.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Persona      string `json:"persona"`
	Pinned       bool   `json:"pinned"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

// PersonaGroup is one sidebar section: a persona and its unpinned sessions,
// newest first.
type PersonaGroup struct {
	Persona  string    `json:"persona"`
	Sessions []Summary `json:"sessions"`
}

// Sidebar is the grouped session listing: pinned sessions on top, then one
// group per persona ordered by most recent activity.
type Sidebar struct {
	Pinned []Summary      `json:"pinned"`
	Groups []PersonaGroup `json:"groups"`
}

// NewID derives a fresh session id from the creation time.
func NewID(now time.Time) string {
	return "session_" + now.Format(idLayout)
}

// Store reads and writes session files under a single directory.
type Store struct {
	dir string

	// personaExists guards against sessions referencing deleted personas;
	// such sessions load with defaultPersona instead of failing.
	personaExists  func(id string) bool
	defaultPersona string
}

// NewStore creates a Store over dir. personaExists may be nil, in which case
// every persona reference is trusted.
func NewStore(dir string, personaExists func(id string) bool, defaultPersona string) *Store {
	return &Store{dir: dir, personaExists: personaExists, defaultPersona: defaultPersona}
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

// Load reads one session. A reference to a persona that no longer exists is
// rewritten to the default persona so old sessions keep working after a
// persona is deleted.
func (s *Store) Load(id string) (*Session, error) {
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, &fault.NotFoundError{Resource: "session", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, &fault.CorruptDataError{Path: s.path(id), Err: err}
	}
	sess.ID = filepath.Base(id)

	if sess.Persona == "" {
		sess.Persona = s.defaultPersona
	} else if s.personaExists != nil && !s.personaExists(sess.Persona) {
		slog.Warn("session: persona missing, falling back to default",
			"session", sess.ID, "persona", sess.Persona, "default", s.defaultPersona)
		sess.Persona = s.defaultPersona
	}
	return &sess, nil
}

// Save writes the session atomically.
func (s *Store) Save(sess *Session) error {
	if sess.ID == "" {
		return fault.Validationf("session id is empty")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("session: create %s: %w", s.dir, err)
	}
	raw, err := json.MarshalIndent(sess, "", "    ")
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}

	path := s.path(sess.ID)
	tmp, err := os.CreateTemp(s.dir, "."+sess.ID+"-*")
	if err != nil {
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes a session file. Deleting a session that is already gone is
// not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// List returns summaries of every session, newest first. Files that fail to
// parse still show up, flagged as unreadable, so they can be deleted from
// the UI instead of silently vanishing.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list %s: %w", s.dir, err)
	}

	var summaries []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		sess, err := s.Load(id)
		if err != nil {
			slog.Warn("session: unreadable file in listing", "session", id, "err", err)
			summaries = append(summaries, Summary{
				ID:      id,
				Title:   "Error Loading",
				Persona: s.defaultPersona,
			})
			continue
		}
		summaries = append(summaries, summarize(sess))
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID > summaries[j].ID })
	return summaries, nil
}

// SidebarView groups the listing for display: pinned sessions first, then a
// section per persona ordered by each persona's most recent session.
func (s *Store) SidebarView() (*Sidebar, error) {
	summaries, err := s.List()
	if err != nil {
		return nil, err
	}

	sb := &Sidebar{}
	byPersona := map[string][]Summary{}
	var order []string
	for _, sum := range summaries {
		if sum.Pinned {
			sb.Pinned = append(sb.Pinned, sum)
			continue
		}
		if _, seen := byPersona[sum.Persona]; !seen {
			order = append(order, sum.Persona)
		}
		byPersona[sum.Persona] = append(byPersona[sum.Persona], sum)
	}
	// summaries are newest first, so first appearance order is already
	// most-recent-activity order.
	for _, p := range order {
		sb.Groups = append(sb.Groups, PersonaGroup{Persona: p, Sessions: byPersona[p]})
	}
	return sb, nil
}

// TogglePin flips the pinned flag and returns the new state.
func (s *Store) TogglePin(id string) (bool, error) {
	sess, err := s.Load(id)
	if err != nil {
		return false, err
	}
	sess.Pinned = !sess.Pinned
	if err := s.Save(sess); err != nil {
		return false, err
	}
	return sess.Pinned, nil
}

// Rename sets the session title.
func (s *Store) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fault.Validationf("session title is empty")
	}
	sess, err := s.Load(id)
	if err != nil {
		return err
	}
	sess.Title = title
	return s.Save(sess)
}

// AllMessages concatenates the transcripts of every session, oldest session
// first. Unreadable files are skipped with a warning: one corrupt session
// must not block a memory update drawing on all the others.
func (s *Store) AllMessages() ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list %s: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	var all []Message
	for _, id := range ids {
		sess, err := s.Load(id)
		if err != nil {
			slog.Warn("session: skipping unreadable file in aggregation", "session", id, "err", err)
			continue
		}
		all = append(all, sess.Messages...)
	}
	return all, nil
}

// ReassignPersona rewrites every session referencing oldID to newID. Used
// when a persona is renamed so its history follows it.
func (s *Store) ReassignPersona(oldID, newID string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("session: list %s: %w", s.dir, err)
	}

	changed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		raw, err := os.ReadFile(s.path(id))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue
		}
		if sess.Persona != oldID {
			continue
		}
		sess.ID = id
		sess.Persona = newID
		if err := s.Save(&sess); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func summarize(sess *Session) Summary {
	sum := Summary{
		ID:           sess.ID,
		Title:        sess.Title,
		Persona:      sess.Persona,
		Pinned:       sess.Pinned,
		MessageCount: len(sess.Messages),
	}
	if sum.Title == "" {
		sum.Title = PlaceholderTitle
	}
	// The id encodes the creation time, which is the recency signal the
	// sidebar sorts on.
	if t, err := time.Parse(idLayout, strings.TrimPrefix(sess.ID, "session_")); err == nil {
		sum.LastActivity = t.UTC().Format(time.RFC3339)
	}
	return sum
}
