// Package gateway is the HTTP client for the hosted LLM gateway. It speaks
// the OpenRouter dialect of the OpenAI chat completions API: bearer auth plus
// the HTTP-Referer and X-Title attribution headers, /chat/completions for
// replies and /models for the catalogue.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/salinechat/saline/internal/saline/fault"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
)

// ErrEmptyResponse marks a completion that came back without usable content.
// Callers retry on this; transport and API errors are terminal.
var ErrEmptyResponse = fmt.Errorf("gateway: empty response")

// Message is one chat turn in gateway wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model is one catalogue entry from /models.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	PromptPrice   string `json:"prompt_price"`
	CompletePrice string `json:"completion_price"`
}

// Config configures the gateway client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the gateway.
	APIKey string

	// BaseURL overrides the gateway endpoint. Useful for local
	// OpenAI-compatible servers. Defaults to the OpenRouter API when empty.
	BaseURL string

	// SiteURL and SiteName populate the HTTP-Referer and X-Title headers
	// OpenRouter uses for app attribution. Optional.
	SiteURL  string
	SiteName string

	// Timeout is the HTTP request timeout. Defaults to 120 s; completions on
	// large models routinely take over a minute.
	Timeout time.Duration
}

// Client is the gateway client. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types ---

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteName != "" {
		req.Header.Set("X-Title", c.cfg.SiteName)
	}
	return req, nil
}

// Complete sends messages to model and returns the assistant reply text.
// An answer with no choices or blank content returns ErrEmptyResponse.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	data, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", &fault.GatewayError{Op: "complete", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", &fault.GatewayError{Op: "complete", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &fault.GatewayError{Op: "complete", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &fault.GatewayError{Op: "complete", Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &fault.GatewayError{Op: "complete", Err: fmt.Errorf("rate limited (HTTP 429)")}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &fault.GatewayError{Op: "complete",
			Err: fmt.Errorf("decode API response (HTTP %d): %w", resp.StatusCode, err)}
	}
	if parsed.Error != nil {
		return "", &fault.GatewayError{Op: "complete",
			Err: fmt.Errorf("API error: %s", parsed.Error.Message)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &fault.GatewayError{Op: "complete",
			Err: fmt.Errorf("HTTP %d: %.200s", resp.StatusCode, respBody)}
	}

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// ListModels returns the gateway's model catalogue sorted by id.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, &fault.GatewayError{Op: "list models", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fault.GatewayError{Op: "list models", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &fault.GatewayError{Op: "list models",
			Err: fmt.Errorf("HTTP %d: %.200s", resp.StatusCode, body)}
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &fault.GatewayError{Op: "list models", Err: fmt.Errorf("decode catalogue: %w", err)}
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, Model{
			ID:            m.ID,
			Name:          m.Name,
			ContextLength: m.ContextLength,
			PromptPrice:   m.Pricing.Prompt,
			CompletePrice: m.Pricing.Completion,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// GroupByProvider splits a catalogue by the provider prefix of each model id
// ("anthropic/claude-..." groups under "anthropic"). Returns provider names
// sorted ascending alongside the grouping.
func GroupByProvider(models []Model) ([]string, map[string][]Model) {
	groups := map[string][]Model{}
	for _, m := range models {
		provider := m.ID
		if i := strings.IndexByte(m.ID, '/'); i > 0 {
			provider = m.ID[:i]
		}
		groups[provider] = append(groups[provider], m)
	}
	providers := make([]string, 0, len(groups))
	for p := range groups {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers, groups
}

// FormatPricing renders a per-token price string as dollars per million
// tokens, the unit model catalogues are usually read in.
func FormatPricing(perToken string) string {
	v, err := strconv.ParseFloat(perToken, 64)
	if err != nil {
		return perToken
	}
	if v == 0 {
		return "free"
	}
	return fmt.Sprintf("$%.2f/M", v*1_000_000)
}
