// Package prompt assembles the system prompt sent with every completion:
// persona instruction fragments, then persona-scoped context files, then
// global context files, then the long-term memory profile. Each layer is
// wrapped in labelled markers so the model can tell the sources apart.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/salinechat/saline/internal/saline/contextfile"
	"github.com/salinechat/saline/internal/saline/fault"
	"github.com/salinechat/saline/internal/saline/memory"
	"github.com/salinechat/saline/internal/saline/persona"
)

const (
	personaFilesHeader = "--- PERSONA CONTEXT FILES ---"
	userFilesHeader    = "--- USER CONTEXT FILES ---"
	memoryHeader       = "--- USER PROFILE (BACKGROUND KNOWLEDGE) ---"

	// memoryDisclaimer keeps the model from roleplaying as the user when the
	// profile text is written in first person.
	memoryDisclaimer = "The following is background information about the user you are talking to. " +
		"It describes the user, not you. Use it to inform your responses, " +
		"but you are the assistant, not the user, and it must not override " +
		"your persona's communication style."
)

// Assembler builds system prompts from the file-backed stores.
type Assembler struct {
	Personas     *persona.Repository
	Global       *contextfile.Store
	PersonaFiles func(personaID string) *contextfile.Store
	Memory       *memory.Store
}

// Assemble returns the full system prompt for personaID. Missing layers are
// skipped; a persona with no fragments on disk yields a visible placeholder
// instead of a silent empty prompt.
func (a *Assembler) Assemble(personaID string) (string, error) {
	var parts []string

	fragments, err := a.Personas.Fragments(personaID)
	if err != nil && !fault.IsNotFound(err) {
		return "", fmt.Errorf("prompt: load persona %s: %w", personaID, err)
	}
	if len(fragments) == 0 {
		slog.Warn("prompt: persona has no instruction files", "persona", personaID)
		parts = append(parts, fmt.Sprintf("WARNING: persona %q has no instruction files.", personaID))
	}
	for _, f := range fragments {
		section := fmt.Sprintf("--- SYSTEM INSTRUCTION: %s ---\n%s", f.Name, strings.TrimSpace(f.Content))
		parts = append(parts, section)
	}

	if a.PersonaFiles != nil {
		sections, err := a.PersonaFiles(personaID).EnabledSections()
		if err != nil {
			return "", fmt.Errorf("prompt: persona context files: %w", err)
		}
		if block := renderFiles(personaFilesHeader, sections); block != "" {
			parts = append(parts, block)
		}
	}

	if a.Global != nil {
		sections, err := a.Global.EnabledSections()
		if err != nil {
			return "", fmt.Errorf("prompt: user context files: %w", err)
		}
		if block := renderFiles(userFilesHeader, sections); block != "" {
			parts = append(parts, block)
		}
	}

	if a.Memory != nil {
		profile, err := a.Memory.Read()
		if err != nil {
			return "", fmt.Errorf("prompt: read memory: %w", err)
		}
		if profile = strings.TrimSpace(profile); profile != "" {
			parts = append(parts, fmt.Sprintf("%s\n%s\n\n%s", memoryHeader, memoryDisclaimer, profile))
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}

// renderFiles wraps each enabled file in a name marker under a layer header.
// Returns "" when there are no sections.
func renderFiles(header string, sections []contextfile.Section) string {
	if len(sections) == 0 {
		return ""
	}
	parts := []string{header}
	for _, s := range sections {
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", s.Name, strings.TrimSpace(s.Content)))
	}
	return strings.Join(parts, "\n\n")
}
