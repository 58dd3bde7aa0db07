package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/salinechat/saline/internal/saline/app"
	"github.com/salinechat/saline/internal/saline/config"
	"github.com/salinechat/saline/internal/saline/gateway"
)

type fakeGateway struct {
	replies []string
	calls   int
}

func (f *fakeGateway) Complete(context.Context, string, []gateway.Message) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "stub reply", nil
}

func (f *fakeGateway) ListModels(context.Context) ([]gateway.Model, error) {
	return []gateway.Model{
		{ID: "alpha/a1", Name: "A One", PromptPrice: "0.000002", CompletePrice: "0"},
		{ID: "alpha/a2", Name: "A Two"},
		{ID: "beta/b1", Name: "B One"},
	}, nil
}

func newTestRouter(t *testing.T, fg *fakeGateway) (*gin.Engine, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	server := config.DefaultServer()
	server.DataDir = dir

	settings := config.Defaults()
	settings.APIKey = "sk-test"
	settings.Model = "test/model"
	settingsPath := filepath.Join(dir, "config.json")
	if err := config.Save(settingsPath, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	a, err := app.NewWithGateway(server, settings, settingsPath, fg)
	if err != nil {
		t.Fatalf("app.NewWithGateway() error: %v", err)
	}

	router := gin.New()
	NewHandler(a).RegisterRoutes(router)
	return router, a
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	fg := &fakeGateway{replies: []string{"hello!", "Friendly Greeting"}}
	router, _ := newTestRouter(t, fg)

	// Create.
	w := doJSON(t, router, http.MethodPost, "/api/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["id"].(string)

	// Send a message.
	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/messages",
		gin.H{"message": "hi there"})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["reply"] != "hello!" {
		t.Fatalf("reply = %v", resp["reply"])
	}
	if resp["title"] != "Friendly Greeting" {
		t.Fatalf("title = %v, want generated title", resp["title"])
	}

	// Fetch the transcript.
	w = doJSON(t, router, http.MethodGet, "/api/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	msgs := decode(t, w)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2", msgs)
	}

	// Rename, pin, delete.
	w = doJSON(t, router, http.MethodPut, "/api/sessions/"+id+"/title", gin.H{"title": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/pin", nil)
	if w.Code != http.StatusOK || decode(t, w)["pinned"] != true {
		t.Fatalf("pin failed: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
}

func TestGetMissingSession404(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodGet, "/api/sessions/session_19990101_000000", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateSessionUnknownPersona404(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodPost, "/api/sessions", gin.H{"persona": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPersonaEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})

	w := doJSON(t, router, http.MethodPost, "/api/personas",
		gin.H{"id": "coder", "content": "You write code."})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	// Invalid id rejected.
	w = doJSON(t, router, http.MethodPost, "/api/personas",
		gin.H{"id": "Bad Name!", "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d, want 400", w.Code)
	}

	// The reserved default cannot be deleted.
	w = doJSON(t, router, http.MethodDelete, "/api/personas/assistant", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("delete default status = %d, want 403", w.Code)
	}

	// Content round trip and model override.
	w = doJSON(t, router, http.MethodPut, "/api/personas/coder/content",
		gin.H{"content": "You write Go."})
	if w.Code != http.StatusNoContent {
		t.Fatalf("save content status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPut, "/api/personas/coder/model",
		gin.H{"model": "special/model"})
	if w.Code != http.StatusOK {
		t.Fatalf("set model status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/personas/coder/content", nil)
	resp := decode(t, w)
	if resp["content"] != "You write Go." || resp["model"] != "special/model" {
		t.Fatalf("content response = %v", resp)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/personas/coder", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
}

func TestContextFileEndpointsGlobalAndPersonaScopes(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})

	w := doJSON(t, router, http.MethodPost, "/api/context-files",
		gin.H{"name": "bio.md", "content": "Lives in Lisbon."})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodPost, "/api/context-files?persona=assistant",
		gin.H{"name": "project.md", "content": "Building saline."})
	if w.Code != http.StatusCreated {
		t.Fatalf("persona upload status = %d", w.Code)
	}

	// Scopes are independent.
	w = doJSON(t, router, http.MethodGet, "/api/context-files", nil)
	if got := decode(t, w)["files"].([]any); len(got) != 1 {
		t.Fatalf("global files = %v, want 1", got)
	}
	w = doJSON(t, router, http.MethodGet, "/api/context-files?persona=assistant", nil)
	if got := decode(t, w)["files"].([]any); len(got) != 1 {
		t.Fatalf("persona files = %v, want 1", got)
	}

	// Toggle then delete.
	w = doJSON(t, router, http.MethodPost, "/api/context-files/bio.md/toggle", nil)
	if w.Code != http.StatusOK || decode(t, w)["enabled"] != false {
		t.Fatalf("toggle failed: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodDelete, "/api/context-files/bio.md", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodDelete, "/api/context-files/bio.md", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}

	// Bad extension rejected.
	w = doJSON(t, router, http.MethodPost, "/api/context-files",
		gin.H{"name": "evil.exe", "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad extension status = %d, want 400", w.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	fg := &fakeGateway{replies: []string{"The user is a gardener."}}
	router, a := newTestRouter(t, fg)

	// Empty at first.
	w := doJSON(t, router, http.MethodGet, "/api/memory", nil)
	if w.Code != http.StatusOK || decode(t, w)["content"] != "" {
		t.Fatalf("empty memory response: %d %s", w.Code, w.Body.String())
	}

	if err := a.Memory().Write("The user works at Acme."); err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, router, http.MethodPost, "/api/memory/modify",
		gin.H{"command": "note the user is a gardener"})
	if w.Code != http.StatusOK || decode(t, w)["accepted"] != true {
		t.Fatalf("modify response: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/memory", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("wipe status = %d", w.Code)
	}
	got, err := a.Memory().Read()
	if err != nil || got != "" {
		t.Fatalf("memory after wipe = %q, %v", got, err)
	}
}

func TestModelsEndpointGroups(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodGet, "/api/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	providers := resp["providers"].([]any)
	if len(providers) != 2 || providers[0] != "alpha" || providers[1] != "beta" {
		t.Fatalf("providers = %v", providers)
	}

	// Prices come back rendered per million tokens.
	alpha := resp["models"].(map[string]any)["alpha"].([]any)
	first := alpha[0].(map[string]any)
	if first["prompt_price"] != "$2.00/M" || first["complete_price"] != "free" {
		t.Fatalf("pricing = %v / %v", first["prompt_price"], first["complete_price"])
	}
}

func TestMemoryUpdateDrawsOnEverySession(t *testing.T) {
	fg := &fakeGateway{replies: []string{
		"hi!", "Greeting",
		"sure", "Planning",
		"The user gardens and paints.",
	}}
	router, a := newTestRouter(t, fg)

	for _, msg := range []string{"I like gardening", "I also paint"} {
		w := doJSON(t, router, http.MethodPost, "/api/sessions", nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
		id := decode(t, w)["id"].(string)
		if w = doJSON(t, router, http.MethodPost, "/api/sessions/"+id+"/messages",
			gin.H{"message": msg}); w.Code != http.StatusOK {
			t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
		}
	}

	w := doJSON(t, router, http.MethodPost, "/api/memory/update", nil)
	if w.Code != http.StatusOK || decode(t, w)["accepted"] != true {
		t.Fatalf("update response: %d %s", w.Code, w.Body.String())
	}
	got, err := a.Memory().Read()
	if err != nil || got != "The user gardens and paints." {
		t.Fatalf("profile = %q, %v", got, err)
	}
}

func TestConfigEndpointRedactsKey(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodGet, "/api/config", nil)
	resp := decode(t, w)
	if resp["api_key_set"] != true {
		t.Fatalf("api_key_set = %v", resp["api_key_set"])
	}
	if _, leaked := resp["OPENROUTER_API_KEY"]; leaked {
		t.Fatal("raw API key field leaked in config response")
	}
}

func TestConfigPartialUpdate(t *testing.T) {
	router, a := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodPut, "/api/config", gin.H{"model": "new/model"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	s := a.Settings()
	if s.Model != "new/model" {
		t.Fatalf("model = %q", s.Model)
	}
	if s.APIKey != "sk-test" {
		t.Fatalf("unrelated field changed: %q", s.APIKey)
	}
}

func TestConfigUnknownDefaultPersona404(t *testing.T) {
	router, _ := newTestRouter(t, &fakeGateway{})
	w := doJSON(t, router, http.MethodPut, "/api/config", gin.H{"default_persona": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
