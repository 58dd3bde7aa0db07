// Package app wires the stores, the gateway client, and the conversation
// engine into one façade the HTTP handlers and the CLI both call. All
// cross-component orchestration lives here: sending a message end to end,
// the session title tiers, persona rename cascades, and memory updates.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/salinechat/saline/internal/saline/config"
	"github.com/salinechat/saline/internal/saline/contextfile"
	"github.com/salinechat/saline/internal/saline/engine"
	"github.com/salinechat/saline/internal/saline/fault"
	"github.com/salinechat/saline/internal/saline/gateway"
	"github.com/salinechat/saline/internal/saline/memory"
	"github.com/salinechat/saline/internal/saline/persona"
	"github.com/salinechat/saline/internal/saline/prompt"
	"github.com/salinechat/saline/internal/saline/session"
	"github.com/salinechat/saline/internal/saline/summarizer"
)

// defaultPersonaContent seeds the reserved assistant persona on first run.
const defaultPersonaContent = `You are a helpful, knowledgeable assistant. Answer clearly and concisely. When you are unsure, say so instead of guessing.`

// Completer abstracts the gateway for tests.
type Completer interface {
	Complete(ctx context.Context, model string, messages []gateway.Message) (string, error)
	ListModels(ctx context.Context) ([]gateway.Model, error)
}

// components is everything derived from the settings, built as one immutable
// bundle. A settings change builds a fresh bundle and swaps the pointer, so
// a request that snapshotted the old bundle keeps a consistent view for its
// whole lifetime.
type components struct {
	personas   *persona.Repository
	sessions   *session.Store
	global     *contextfile.Store
	memory     *memory.Store
	gateway    Completer
	engine     *engine.Engine
	summarizer *summarizer.Summarizer
	assembler  *prompt.Assembler
}

// App is the assembled application. Safe for concurrent use: handlers read
// the component bundle through parts(), and UpdateSettings swaps a complete
// replacement under the lock.
type App struct {
	server       config.Server
	settingsPath string

	mu       sync.RWMutex
	settings config.Settings
	comp     *components

	// newGateway builds a Completer from settings; tests swap it for a fake.
	newGateway func(config.Server, config.Settings) Completer

	clock func() time.Time
}

// New assembles an App from the server config and the loaded settings.
func New(server config.Server, settings config.Settings, settingsPath string) (*App, error) {
	return newApp(server, settings, settingsPath, buildGateway)
}

// NewWithGateway assembles an App around a fixed gateway client instead of
// one derived from the settings. Tests use this to inject fakes.
func NewWithGateway(server config.Server, settings config.Settings, settingsPath string, g Completer) (*App, error) {
	return newApp(server, settings, settingsPath,
		func(config.Server, config.Settings) Completer { return g })
}

func newApp(server config.Server, settings config.Settings, settingsPath string, newGateway func(config.Server, config.Settings) Completer) (*App, error) {
	a := &App{
		server:       server,
		settingsPath: settingsPath,
		settings:     settings,
		newGateway:   newGateway,
		clock:        time.Now,
	}
	if err := a.rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

func buildGateway(server config.Server, settings config.Settings) Completer {
	return gateway.New(gateway.Config{
		APIKey:   settings.APIKey,
		BaseURL:  server.Gateway.BaseURL,
		SiteURL:  settings.SiteURL,
		SiteName: settings.SiteName,
		Timeout:  server.GatewayTimeout(),
	})
}

// rebuild constructs a fresh component bundle from the current settings and
// swaps it in. Called at startup and after each settings change; the caller
// must hold mu when the App is already shared.
func (a *App) rebuild() error {
	s := a.settings

	personas := persona.NewRepository(a.resolve(s.PersonasDir))
	if err := personas.EnsureDefault(defaultPersonaContent); err != nil {
		return fmt.Errorf("app: ensure default persona: %w", err)
	}

	c := &components{
		personas: personas,
		sessions: session.NewStore(a.resolve(s.SessionsDir), personas.Exists, s.DefaultPersona),
		global:   contextfile.NewStore(a.resolve("user_context")),
		memory:   memory.NewStore(a.resolve(s.MemoryFile)),
	}
	c.gateway = a.newGateway(a.server, s)
	c.engine = engine.New(c.gateway, engine.Options{
		WindowSize:        s.MaxHistory,
		MaxAttempts:       s.RetryAttempts,
		RetryDelay:        s.RetryDelay(),
		UserTimezone:      s.UserTimezone,
		AssistantTimezone: s.AssistantTimezone,
	})
	c.summarizer = summarizer.New(c.gateway, s.Model)
	c.assembler = &prompt.Assembler{
		Personas:     personas,
		Global:       c.global,
		PersonaFiles: a.PersonaFiles,
		Memory:       c.memory,
	}
	a.comp = c
	return nil
}

// parts snapshots the current component bundle. Each request takes one
// snapshot and works against it, so a concurrent settings change never swaps
// components out from under an exchange in flight.
func (a *App) parts() *components {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.comp
}

// Personas returns the current persona repository.
func (a *App) Personas() *persona.Repository { return a.parts().personas }

// Sessions returns the current session store.
func (a *App) Sessions() *session.Store { return a.parts().sessions }

// Global returns the global context-file store.
func (a *App) Global() *contextfile.Store { return a.parts().global }

// Memory returns the long-term memory store.
func (a *App) Memory() *memory.Store { return a.parts().memory }

// resolve anchors a relative data path under the configured data directory.
func (a *App) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.server.DataDir, path)
}

// PersonaFiles returns the context-file store scoped to one persona.
func (a *App) PersonaFiles(personaID string) *contextfile.Store {
	return contextfile.NewStore(filepath.Join(a.resolve("user_context"), "personas", personaID))
}

// Settings returns a copy of the current settings.
func (a *App) Settings() config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// UpdateSettings persists new settings and rebuilds the derived components.
func (a *App) UpdateSettings(s config.Settings) error {
	if strings.TrimSpace(s.APIKey) == "" {
		return fault.Validationf("OPENROUTER_API_KEY must not be empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := config.Save(a.settingsPath, s); err != nil {
		return err
	}
	a.settings = s
	return a.rebuild()
}

// NewSession creates and persists an empty session for personaID.
func (a *App) NewSession(personaID string) (*session.Session, error) {
	p := a.parts()
	if personaID == "" {
		personaID = a.Settings().DefaultPersona
	}
	if !p.personas.Exists(personaID) {
		return nil, &fault.NotFoundError{Resource: "persona", ID: personaID}
	}

	sess := &session.Session{
		ID:      a.freshSessionID(p.sessions),
		Title:   session.PlaceholderTitle,
		Persona: personaID,
	}
	if err := p.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// freshSessionID returns an unused timestamp-derived id, bumping by a second
// when two sessions are created inside the same clock tick.
func (a *App) freshSessionID(sessions *session.Store) string {
	now := a.clock()
	for {
		id := session.NewID(now)
		if _, err := sessions.Load(id); fault.IsNotFound(err) {
			return id
		}
		now = now.Add(time.Second)
	}
}

// SendMessage runs one full exchange against the session: assemble the
// system prompt for the session's persona, call the model, persist the
// updated transcript, and settle the title. A session whose file is corrupt
// restarts empty rather than blocking the conversation.
func (a *App) SendMessage(ctx context.Context, sessionID, userText string) (string, *session.Session, error) {
	p := a.parts()
	sess, err := p.sessions.Load(sessionID)
	if fault.IsCorruptData(err) {
		slog.Warn("app: session file corrupt, starting over", "session", sessionID, "err", err)
		sess = &session.Session{
			ID:      sessionID,
			Title:   session.PlaceholderTitle,
			Persona: a.Settings().DefaultPersona,
		}
	} else if err != nil {
		return "", nil, err
	}

	systemPrompt, err := p.assembler.Assemble(sess.Persona)
	if err != nil {
		return "", nil, err
	}

	reply, err := p.engine.Send(ctx, sess, systemPrompt, a.modelFor(p, sess.Persona), userText)
	if err != nil {
		return "", nil, err
	}
	if err := p.sessions.Save(sess); err != nil {
		return "", nil, err
	}

	a.settleTitle(ctx, p, sess)
	return reply, sess, nil
}

// modelFor returns the persona's model override when set, otherwise the
// configured default model.
func (a *App) modelFor(p *components, personaID string) string {
	if model, ok := p.personas.ModelOverride(personaID); ok {
		return model
	}
	return a.Settings().Model
}

// settleTitle generates a real title for sessions still carrying the
// placeholder. Runs after every exchange, so a failed first attempt gets
// retried on the next message. Title failures never fail the exchange.
func (a *App) settleTitle(ctx context.Context, p *components, sess *session.Session) {
	if sess.Title != "" && sess.Title != session.PlaceholderTitle {
		return
	}
	var userMsg, assistantMsg string
	for _, m := range sess.Messages {
		if m.Role == session.RoleUser && userMsg == "" {
			userMsg = m.Content
		}
		if m.Role == session.RoleAssistant && assistantMsg == "" {
			assistantMsg = m.Content
		}
	}
	if userMsg == "" {
		return
	}

	title := p.summarizer.GenerateTitle(ctx, userMsg, assistantMsg)
	if title == "" || title == session.PlaceholderTitle {
		return
	}
	sess.Title = title
	if err := p.sessions.Save(sess); err != nil {
		slog.Warn("app: saving generated title failed", "session", sess.ID, "err", err)
	}
}

// UpdateMemory regenerates the long-term memory from the user messages of
// every session on disk, so facts mentioned in any conversation make it into
// the profile.
func (a *App) UpdateMemory(ctx context.Context) (bool, error) {
	p := a.parts()
	msgs, err := p.sessions.AllMessages()
	if err != nil {
		return false, err
	}
	return p.summarizer.UpdateMemory(ctx, p.memory, msgs)
}

// ModifyMemory applies a free-form instruction to the memory document.
func (a *App) ModifyMemory(ctx context.Context, command string) (bool, error) {
	p := a.parts()
	return p.summarizer.ModifyMemory(ctx, p.memory, command)
}

// RenamePersona renames a persona and cascades the change: sessions keep
// pointing at the renamed persona, and the configured default follows it.
func (a *App) RenamePersona(oldID, newID, content string) error {
	p := a.parts()
	if err := p.personas.Rename(oldID, newID, content); err != nil {
		return err
	}
	if n, err := p.sessions.ReassignPersona(oldID, newID); err != nil {
		return fmt.Errorf("app: reassign sessions after rename: %w", err)
	} else if n > 0 {
		slog.Info("app: sessions reassigned after persona rename",
			"from", oldID, "to", newID, "count", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings.DefaultPersona == oldID {
		a.settings.DefaultPersona = newID
		if err := config.Save(a.settingsPath, a.settings); err != nil {
			return fmt.Errorf("app: update default persona after rename: %w", err)
		}
		return a.rebuild()
	}
	return nil
}

// DeletePersona removes a persona and reassigns any sessions that referenced
// it to the configured default. The persona's scoped context files go with it.
func (a *App) DeletePersona(id string) error {
	p := a.parts()
	if err := p.personas.Delete(id); err != nil {
		return err
	}

	def := a.Settings().DefaultPersona
	if n, err := p.sessions.ReassignPersona(id, def); err != nil {
		return fmt.Errorf("app: reassign sessions after delete: %w", err)
	} else if n > 0 {
		slog.Info("app: sessions reassigned after persona delete",
			"from", id, "to", def, "count", n)
	}
	if err := os.RemoveAll(filepath.Join(a.resolve("user_context"), "personas", id)); err != nil {
		slog.Warn("app: removing persona context files failed", "persona", id, "err", err)
	}
	return nil
}

// ListModels proxies the gateway model catalogue.
func (a *App) ListModels(ctx context.Context) ([]gateway.Model, error) {
	return a.parts().gateway.ListModels(ctx)
}
