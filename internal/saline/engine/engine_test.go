package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/salinechat/saline/internal/saline/gateway"
	"github.com/salinechat/saline/internal/saline/session"
)

// scriptedCompleter returns canned results per call and records payloads.
type scriptedCompleter struct {
	replies  []string
	errs     []error
	calls    int
	payloads [][]gateway.Message
}

func (c *scriptedCompleter) Complete(_ context.Context, _ string, msgs []gateway.Message) (string, error) {
	i := c.calls
	c.calls++
	c.payloads = append(c.payloads, msgs)
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var reply string
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

func instant() (func(ctx context.Context, d time.Duration) error, *[]time.Duration) {
	var waits []time.Duration
	return func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}, &waits
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	}
}

func TestSendAppendsExchange(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"hello there"}}
	e := New(c, Options{Clock: fixedClock()})
	sess := &session.Session{ID: "session_20260829_120000"}

	reply, err := e.Send(context.Background(), sess, "be kind", "test/model", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("Send() = %q, want hello there", reply)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != session.RoleUser || sess.Messages[0].Content != "hi" {
		t.Fatalf("user message = %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != session.RoleAssistant || sess.Messages[1].Content != "hello there" {
		t.Fatalf("assistant message = %+v", sess.Messages[1])
	}
}

func TestSendPayloadShape(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"ok"}}
	e := New(c, Options{Clock: fixedClock()})
	sess := &session.Session{
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "earlier question"},
			{Role: session.RoleAssistant, Content: "earlier answer"},
		},
	}
	if _, err := e.Send(context.Background(), sess, "system text", "m", "new question"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	payload := c.payloads[0]
	if len(payload) != 4 {
		t.Fatalf("payload has %d messages, want 4", len(payload))
	}
	if payload[0].Role != "system" || !strings.Contains(payload[0].Content, "system text") {
		t.Fatalf("payload[0] = %+v, want system prompt", payload[0])
	}
	if payload[3].Role != "user" || payload[3].Content != "new question" {
		t.Fatalf("payload tail = %+v, want the new user message", payload[3])
	}
}

func TestSendWindowTruncation(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"ok"}}
	e := New(c, Options{WindowSize: 100, Clock: fixedClock()})
	sess := &session.Session{}
	for i := 0; i < 150; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		sess.Messages = append(sess.Messages, session.Message{Role: role, Content: fmt.Sprintf("msg %d", i)})
	}
	if _, err := e.Send(context.Background(), sess, "sys", "m", "latest"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	// system + last 100 history + new user message
	payload := c.payloads[0]
	if len(payload) != 102 {
		t.Fatalf("payload has %d messages, want 102", len(payload))
	}
	if payload[1].Content != "msg 50" {
		t.Fatalf("window starts at %q, want msg 50", payload[1].Content)
	}
}

func TestSendRetriesEmptyResponse(t *testing.T) {
	sleep, waits := instant()
	c := &scriptedCompleter{
		replies: []string{"", "", "third time lucky"},
		errs:    []error{gateway.ErrEmptyResponse, gateway.ErrEmptyResponse, nil},
	}
	e := New(c, Options{MaxAttempts: 3, RetryDelay: 2 * time.Second, Sleep: sleep, Clock: fixedClock()})
	sess := &session.Session{}

	reply, err := e.Send(context.Background(), sess, "sys", "m", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if reply != "third time lucky" {
		t.Fatalf("Send() = %q", reply)
	}
	if c.calls != 3 {
		t.Fatalf("completer called %d times, want 3", c.calls)
	}
	if len(*waits) != 2 || (*waits)[0] != 2*time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("waits = %v, want two fixed 2s delays", *waits)
	}
}

func TestSendExhaustedRetriesRecordsError(t *testing.T) {
	sleep, _ := instant()
	c := &scriptedCompleter{
		errs: []error{gateway.ErrEmptyResponse, gateway.ErrEmptyResponse, gateway.ErrEmptyResponse},
	}
	e := New(c, Options{MaxAttempts: 3, Sleep: sleep, Clock: fixedClock()})
	sess := &session.Session{}

	reply, err := e.Send(context.Background(), sess, "sys", "m", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.HasPrefix(reply, ErrorPrefix) {
		t.Fatalf("reply = %q, want %s prefix", reply, ErrorPrefix)
	}
	if c.calls != 3 {
		t.Fatalf("completer called %d times, want exactly 3", c.calls)
	}
	// Both turns still recorded.
	if len(sess.Messages) != 2 || !strings.HasPrefix(sess.Messages[1].Content, ErrorPrefix) {
		t.Fatalf("session messages = %+v", sess.Messages)
	}
}

func TestSendTransportErrorNotRetried(t *testing.T) {
	sleep, waits := instant()
	c := &scriptedCompleter{
		errs: []error{fmt.Errorf("gateway: connection refused")},
	}
	e := New(c, Options{MaxAttempts: 3, Sleep: sleep, Clock: fixedClock()})
	sess := &session.Session{}

	reply, err := e.Send(context.Background(), sess, "sys", "m", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.HasPrefix(reply, ErrorPrefix) {
		t.Fatalf("reply = %q, want error record", reply)
	}
	if c.calls != 1 {
		t.Fatalf("completer called %d times, want 1 (no retry on transport errors)", c.calls)
	}
	if len(*waits) != 0 {
		t.Fatalf("waits = %v, want none", *waits)
	}
}

func TestSendStripsArtifacts(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"<s> clean reply </s>"}}
	e := New(c, Options{Clock: fixedClock()})
	sess := &session.Session{}

	reply, err := e.Send(context.Background(), sess, "sys", "m", "hi")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if reply != "clean reply" {
		t.Fatalf("Send() = %q, want clean reply", reply)
	}
}

func TestSendRejectsBlankInput(t *testing.T) {
	c := &scriptedCompleter{}
	e := New(c, Options{Clock: fixedClock()})
	if _, err := e.Send(context.Background(), &session.Session{}, "sys", "m", "   "); err == nil {
		t.Fatal("Send(blank) succeeded, want error")
	}
	if c.calls != 0 {
		t.Fatal("gateway called for blank input")
	}
}

func TestTimeContextInSystemPrompt(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"ok"}}
	e := New(c, Options{Clock: fixedClock(), UserTimezone: "UTC"})
	if _, err := e.Send(context.Background(), &session.Session{}, "persona prompt", "m", "hi"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	sys := c.payloads[0][0].Content
	if !strings.Contains(sys, "Current time for the user:") {
		t.Fatalf("system prompt missing time context:\n%s", sys)
	}
	if !strings.Contains(sys, "Saturday, August 29, 2026") {
		t.Fatalf("time context wrong:\n%s", sys)
	}
	if !strings.HasSuffix(sys, "persona prompt") {
		t.Fatalf("persona prompt not at end of system message:\n%s", sys)
	}
}

func TestSkippedRolesExcludedFromPayload(t *testing.T) {
	c := &scriptedCompleter{replies: []string{"ok"}}
	e := New(c, Options{Clock: fixedClock()})
	sess := &session.Session{
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: "stale system turn"},
			{Role: session.RoleUser, Content: "q"},
		},
	}
	if _, err := e.Send(context.Background(), sess, "sys", "m", "hi"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	for _, m := range c.payloads[0][1:] {
		if m.Role == "system" {
			t.Fatalf("stale system message leaked into payload: %+v", c.payloads[0])
		}
	}
}
