// Package config loads and persists saline's configuration.
//
// Two layers exist. Settings (config.json) holds the user-tunable chat
// configuration — API key, model, default persona, history window — in the
// same flat JSON shape the web UI edits. Server (saline.yaml) holds
// operator-level knobs such as the listen address and log level; see
// server.go.
//
// Settings are validated once at load time against an embedded JSON schema
// so that a malformed or incomplete file fails fast instead of surfacing as
// a confusing runtime error mid-conversation.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/salinechat/saline/internal/saline/fault"
)

// DefaultPersona is the reserved persona id every installation ships with.
// It cannot be deleted or renamed.
const DefaultPersona = "assistant"

// Settings is the user-facing configuration stored in config.json.
type Settings struct {
	APIKey            string `json:"OPENROUTER_API_KEY"`
	Model             string `json:"MODEL"`
	SiteURL           string `json:"SITE_URL"`
	SiteName          string `json:"SITE_NAME"`
	DefaultPersona    string `json:"DEFAULT_PERSONA"`
	PersonasDir       string `json:"PERSONAS_DIR"`
	MaxHistory        int    `json:"MAX_HISTORY"`
	RetryAttempts     int    `json:"RETRY_ATTEMPTS"`
	RetryDelaySeconds int    `json:"RETRY_DELAY_SECONDS"`
	SessionsDir       string `json:"SESSIONS_DIR"`
	MemoryFile        string `json:"LTM_FILE"`
	UserTimezone      string `json:"USER_TIMEZONE"`
	AssistantTimezone string `json:"ASSISTANT_TIMEZONE"`
}

// settingsSchema constrains the recognized config.json fields. Unknown keys
// are tolerated so older or hand-edited files keep loading.
const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "OPENROUTER_API_KEY": {"type": "string", "minLength": 1},
    "MODEL": {"type": "string"},
    "SITE_URL": {"type": "string"},
    "SITE_NAME": {"type": "string"},
    "DEFAULT_PERSONA": {"type": "string"},
    "PERSONAS_DIR": {"type": "string"},
    "MAX_HISTORY": {"type": "integer", "minimum": 1},
    "RETRY_ATTEMPTS": {"type": "integer", "minimum": 1, "maximum": 10},
    "RETRY_DELAY_SECONDS": {"type": "integer", "minimum": 0},
    "SESSIONS_DIR": {"type": "string"},
    "LTM_FILE": {"type": "string"},
    "USER_TIMEZONE": {"type": "string"},
    "ASSISTANT_TIMEZONE": {"type": "string"}
  },
  "required": ["OPENROUTER_API_KEY"]
}`

var compiledSchema = jsonschema.MustCompileString("config.json", settingsSchema)

// Defaults returns a Settings populated with the documented defaults.
// The API key and model have no default; setup must provide them.
func Defaults() Settings {
	return Settings{
		DefaultPersona:    DefaultPersona,
		PersonasDir:       "personas",
		MaxHistory:        100,
		RetryAttempts:     3,
		RetryDelaySeconds: 2,
		SessionsDir:       "sessions",
		MemoryFile:        "long_term_memory.md",
		UserTimezone:      "UTC",
	}
}

// RetryDelay returns the configured delay between empty-response retries.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// Load reads, validates, and defaults the settings file at path.
//
// A missing file returns a NotFoundError so callers can route the user to
// first-time setup. A file that fails to parse or violates the schema
// returns a ValidationError naming the offending field.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, &fault.NotFoundError{Resource: "settings file", ID: path}
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode once for schema validation (interface form) and once into the
	// struct. jsonschema validates the generic form.
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Settings{}, fault.Validationf("config file %s is not valid JSON: %v", path, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Settings{}, fault.Validationf("config file %s: %v", path, schemaFailure(err))
	}

	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fault.Validationf("config file %s: %v", path, err)
	}
	return s, nil
}

// Save writes the settings atomically (temp file + rename) with the same
// four-space indentation the reference files use.
func Save(path string, s Settings) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	return atomicWrite(path, buf.Bytes())
}

// atomicWrite replaces path with data via a temp file in the same directory,
// so a crash mid-write never leaves a truncated file behind.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

// schemaFailure flattens a jsonschema validation error into the single most
// specific cause, which reads better than the full tree.
func schemaFailure(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}
