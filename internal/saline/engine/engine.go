// Package engine runs a single conversation exchange: it assembles the
// completion payload from the system prompt and the recent history window,
// calls the gateway with bounded retries, and appends the outcome to the
// session. Failed exchanges still produce an assistant message, prefixed
// with ErrorPrefix, so the conversation record is never silently missing a
// turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/salinechat/saline/common/retry"
	"github.com/salinechat/saline/internal/saline/gateway"
	"github.com/salinechat/saline/internal/saline/session"
)

// ErrorPrefix marks assistant messages that record a failed exchange.
const ErrorPrefix = "ERROR: "

const (
	// DefaultWindowSize is how many prior messages accompany a new user
	// message. Counted in messages, not exchange pairs.
	DefaultWindowSize = 100

	// DefaultMaxAttempts bounds gateway calls per exchange, first try
	// included.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 2 * time.Second
)

// Completer is the slice of the gateway the engine needs.
type Completer interface {
	Complete(ctx context.Context, model string, messages []gateway.Message) (string, error)
}

// Options tunes an Engine. Zero values fall back to the defaults above.
type Options struct {
	WindowSize  int
	MaxAttempts int
	RetryDelay  time.Duration

	// UserTimezone and AssistantTimezone are IANA zone names rendered into
	// the time context line. Empty values omit the respective clock.
	UserTimezone      string
	AssistantTimezone string

	// Clock and Sleep are injection points for tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine produces one assistant reply per Send call. Safe for concurrent use
// as long as callers do not share a Session across calls.
type Engine struct {
	completer Completer
	opts      Options
}

// New returns an Engine over completer.
func New(completer Completer, opts Options) *Engine {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{completer: completer, opts: opts}
}

// Send runs one exchange: userText is appended to sess, the gateway is
// called, and the reply (or an ERROR-prefixed record of the failure) is
// appended after it. The caller persists sess. Returns the assistant message
// content.
func (e *Engine) Send(ctx context.Context, sess *session.Session, systemPrompt, model, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", fmt.Errorf("engine: empty user message")
	}

	now := e.opts.Clock()
	payload := e.buildPayload(sess.Messages, systemPrompt, userText, now)

	reply, callErr := e.complete(ctx, model, payload)

	sess.Messages = append(sess.Messages, session.Message{
		Role:    session.RoleUser,
		Content: userText,
	})

	if callErr != nil {
		slog.Error("engine: exchange failed", "session", sess.ID, "model", model, "err", callErr)
		reply = ErrorPrefix + callErr.Error()
	}
	sess.Messages = append(sess.Messages, session.Message{
		Role:    session.RoleAssistant,
		Content: reply,
	})
	return reply, nil
}

// buildPayload assembles system prompt + history window + new user message.
func (e *Engine) buildPayload(history []session.Message, systemPrompt, userText string, now time.Time) []gateway.Message {
	payload := []gateway.Message{{
		Role:    session.RoleSystem,
		Content: strings.TrimSpace(timeContext(now, e.opts.UserTimezone, e.opts.AssistantTimezone) + "\n\n" + systemPrompt),
	}}

	window := history
	if len(window) > e.opts.WindowSize {
		window = window[len(window)-e.opts.WindowSize:]
	}
	for _, m := range window {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		payload = append(payload, gateway.Message{Role: m.Role, Content: m.Content})
	}

	return append(payload, gateway.Message{Role: session.RoleUser, Content: userText})
}

// complete calls the gateway, retrying only on empty responses. Transport
// and API errors are terminal; retrying them just burns the rate limit.
func (e *Engine) complete(ctx context.Context, model string, payload []gateway.Message) (string, error) {
	var reply string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: e.opts.MaxAttempts,
		Delay:       e.opts.RetryDelay,
		ShouldRetry: func(err error) bool { return errors.Is(err, gateway.ErrEmptyResponse) },
		Sleep:       e.opts.Sleep,
	}, func() error {
		var err error
		reply, err = e.completer.Complete(ctx, model, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	return StripArtifacts(reply), nil
}

// StripArtifacts removes instruction-tuning tokens some models leak into
// their output.
func StripArtifacts(s string) string {
	s = strings.ReplaceAll(s, "<s>", "")
	s = strings.ReplaceAll(s, "</s>", "")
	return strings.TrimSpace(s)
}

// timeContext renders the current wall-clock time in the configured zones so
// the model can answer "what time is it" style questions. Unresolvable zones
// are skipped.
func timeContext(now time.Time, userTZ, assistantTZ string) string {
	var lines []string
	if loc, err := loadZone(userTZ); err == nil {
		lines = append(lines, "Current time for the user: "+now.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"))
	}
	if loc, err := loadZone(assistantTZ); err == nil {
		lines = append(lines, "Current time for you: "+now.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"))
	}
	return strings.Join(lines, "\n")
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("engine: no timezone")
	}
	return time.LoadLocation(name)
}
