// Package summarizer drives the auxiliary LLM tasks around a conversation:
// short session titles and the long-term memory profile. Both go through the
// same gateway as chat but with purpose-built prompts and strict output
// validation, because small models routinely leak prompt scaffolding into
// these answers.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/salinechat/saline/internal/saline/gateway"
	"github.com/salinechat/saline/internal/saline/memory"
	"github.com/salinechat/saline/internal/saline/session"
)

const (
	titleMinLen = 3
	titleMaxLen = 50

	// fallbackTruncateLen bounds the fallback title taken from the first user
	// message.
	fallbackTruncateLen = 50
)

// Completer is the slice of the gateway the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, model string, messages []gateway.Message) (string, error)
}

// Summarizer generates titles and memory updates via model.
type Summarizer struct {
	completer Completer
	model     string
}

// New returns a Summarizer using model for all auxiliary calls.
func New(completer Completer, model string) *Summarizer {
	return &Summarizer{completer: completer, model: model}
}

const titlePromptBoth = `Generate a very short title (3 to 6 words) for a conversation that starts like this:

User: %s
Assistant: %s

Respond with ONLY the title. No quotes, no punctuation at the end, no explanation.`

const titlePromptUserOnly = `Generate a very short title (3 to 6 words) for a conversation that starts with this user message:

%s

Respond with ONLY the title. No quotes, no punctuation at the end, no explanation.`

// GenerateTitle produces a session title from the opening exchange. When the
// model's answer fails validation, the first user message is truncated as a
// fallback so the session never keeps its placeholder title for want of a
// cooperative model.
func (s *Summarizer) GenerateTitle(ctx context.Context, userMsg, assistantMsg string) string {
	prompt := fmt.Sprintf(titlePromptUserOnly, userMsg)
	if strings.TrimSpace(assistantMsg) != "" && !strings.HasPrefix(assistantMsg, "ERROR: ") {
		prompt = fmt.Sprintf(titlePromptBoth, userMsg, assistantMsg)
	}

	raw, err := s.completer.Complete(ctx, s.model, []gateway.Message{
		{Role: session.RoleUser, Content: prompt},
	})
	if err != nil {
		slog.Warn("summarizer: title generation failed", "err", err)
		return FallbackTitle(userMsg)
	}

	title := CleanTitle(raw)
	if len(title) < titleMinLen || len(title) > titleMaxLen {
		slog.Warn("summarizer: generated title rejected", "raw", raw)
		return FallbackTitle(userMsg)
	}
	// Interior artifacts after cleaning are cosmetic, not fatal: surface the
	// title anyway rather than block the exchange.
	if TitleHasArtifacts(title) {
		slog.Warn("summarizer: generated title retains artifacts", "title", title)
	}
	return title
}

// artifactMarkers are instruction-format fragments that invalidate a title
// outright even after cleaning.
var artifactMarkers = []string{"[", "]", "<", ">", "#", "\n", "Prompt", "INST", "SYS"}

// strippableTokens are scaffolding fragments removed from a candidate title
// before validation.
var strippableTokens = []string{"[INST]", "[/INST]", "</s>", "<s>", "<<SYS>>", "<</SYS>>", "###", "Title:", "Prompt:"}

// CleanTitle strips quoting, scaffolding tokens, wrapping brackets, and
// trailing punctuation from a model-generated title.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	for _, tok := range strippableTokens {
		title = strings.ReplaceAll(title, tok, "")
	}
	title = strings.Trim(title, "\"'` ")
	title = strings.Trim(title, "[]<># ")
	title = strings.TrimRight(title, ".!:;,?")
	return strings.Join(strings.Fields(title), " ")
}

// TitleHasArtifacts reports whether a cleaned title still carries
// instruction-format debris.
func TitleHasArtifacts(title string) bool {
	for _, m := range artifactMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// FallbackTitle derives a title from the first user message when generation
// fails: truncated with an ellipsis marker when over length.
func FallbackTitle(userMsg string) string {
	title := strings.TrimSpace(userMsg)
	title = strings.ReplaceAll(title, "\n", " ")
	if title == "" {
		return session.PlaceholderTitle
	}
	if len(title) > fallbackTruncateLen {
		title = strings.TrimSpace(title[:fallbackTruncateLen]) + "..."
	}
	return title
}

const memoryUpdatePrompt = `You maintain a living profile of a single user, written as background knowledge for an assistant.

CURRENT PROFILE:
%s

CONVERSATION HISTORY (user messages only, across all sessions):
%s

Rewrite the profile to incorporate anything new and lasting from the conversations. Keep these three sections, each as a short narrative paragraph:

## Identity & Background
## Preferences & Style
## Ongoing Projects & Interests

Keep existing facts unless contradicted. Drop nothing that still holds. Respond with ONLY the updated profile in Markdown.`

// UpdateMemory regenerates the long-term memory profile from the user-role
// messages of msgs — the concatenated transcripts of every session — and
// applies the result through the store's shrinkage guard. Returns whether
// the store accepted the update.
func (s *Summarizer) UpdateMemory(ctx context.Context, store *memory.Store, msgs []session.Message) (bool, error) {
	transcript := userTranscript(msgs)
	if transcript == "" {
		return false, nil
	}

	existing, err := store.Read()
	if err != nil {
		return false, fmt.Errorf("summarizer: read memory: %w", err)
	}
	if strings.TrimSpace(existing) == "" {
		existing = "(empty)"
	}

	raw, err := s.completer.Complete(ctx, s.model, []gateway.Message{
		{Role: session.RoleUser, Content: fmt.Sprintf(memoryUpdatePrompt, existing, transcript)},
	})
	if err != nil {
		return false, fmt.Errorf("summarizer: memory update: %w", err)
	}

	candidate := cleanOutput(raw)
	accepted, err := store.ApplyUpdate(candidate)
	if err != nil {
		return false, fmt.Errorf("summarizer: apply memory update: %w", err)
	}
	if !accepted {
		slog.Warn("summarizer: memory update rejected by shrinkage guard",
			"existing_len", len(existing), "candidate_len", len(candidate))
	}
	return accepted, nil
}

const memoryModifyPrompt = `You maintain a living profile of a single user, written as background knowledge for an assistant.

CURRENT PROFILE:
%s

INSTRUCTION FROM THE USER:
%s

Apply the instruction to the profile. Keep the three sections (## Identity & Background, ## Preferences & Style, ## Ongoing Projects & Interests) as short narrative paragraphs. Respond with ONLY the updated profile in Markdown.`

// ModifyMemory rewrites the profile per a free-form user instruction
// ("forget my old job", "note that I moved to Porto"). The shrinkage guard
// still applies: deliberate forgetting of most of the profile needs a wipe
// instead.
func (s *Summarizer) ModifyMemory(ctx context.Context, store *memory.Store, command string) (bool, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return false, fmt.Errorf("summarizer: empty memory command")
	}

	existing, err := store.Read()
	if err != nil {
		return false, fmt.Errorf("summarizer: read memory: %w", err)
	}
	if strings.TrimSpace(existing) == "" {
		existing = "(empty)"
	}

	raw, err := s.completer.Complete(ctx, s.model, []gateway.Message{
		{Role: session.RoleUser, Content: fmt.Sprintf(memoryModifyPrompt, existing, command)},
	})
	if err != nil {
		return false, fmt.Errorf("summarizer: memory modify: %w", err)
	}

	accepted, err := store.ApplyUpdate(cleanOutput(raw))
	if err != nil {
		return false, fmt.Errorf("summarizer: apply memory modify: %w", err)
	}
	return accepted, nil
}

// userTranscript joins the user-role messages of msgs. Assistant messages
// are excluded on purpose: the profile records what the user said, not what
// the model guessed.
func userTranscript(msgs []session.Message) string {
	var lines []string
	for _, m := range msgs {
		if m.Role != session.RoleUser {
			continue
		}
		if content := strings.TrimSpace(m.Content); content != "" {
			lines = append(lines, "- "+content)
		}
	}
	return strings.Join(lines, "\n")
}

func cleanOutput(raw string) string {
	out := strings.ReplaceAll(raw, "<s>", "")
	out = strings.ReplaceAll(out, "</s>", "")
	return strings.TrimSpace(out)
}
