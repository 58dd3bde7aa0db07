package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/salinechat/saline/common/environment"
)

// Server holds operator-level settings loaded from saline.yaml. Every field
// has a working default and an environment override, so the file itself is
// optional.
type Server struct {
	// Listen is the HTTP listen address for the API server.
	Listen string `yaml:"listen"`

	// DataDir is the root under which relative data paths (sessions,
	// personas, memory, context files) are resolved.
	DataDir string `yaml:"data_dir"`

	Log struct {
		// Level is one of debug, info, warn, error.
		Level string `yaml:"level"`
		// Format is "text" or "json".
		Format string `yaml:"format"`
	} `yaml:"log"`

	Gateway struct {
		// BaseURL overrides the LLM gateway endpoint. Defaults to the
		// OpenRouter public API.
		BaseURL string `yaml:"base_url"`
		// TimeoutSeconds is the per-request HTTP timeout for completions.
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"gateway"`
}

// GatewayTimeout returns the configured completion timeout.
func (s Server) GatewayTimeout() time.Duration {
	return time.Duration(s.Gateway.TimeoutSeconds) * time.Second
}

// DefaultServer returns a Server with the documented defaults.
func DefaultServer() Server {
	var s Server
	s.Listen = ":8160"
	s.DataDir = "."
	s.Log.Level = "info"
	s.Log.Format = "text"
	s.Gateway.TimeoutSeconds = 120
	return s
}

// LoadServer reads saline.yaml from path (a missing file is not an error),
// then applies SALINE_* environment overrides.
func LoadServer(path string) (Server, error) {
	s := DefaultServer()

	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	s.Listen = environment.StringOr("SALINE_LISTEN", s.Listen)
	s.DataDir = environment.StringOr("SALINE_DATA_DIR", s.DataDir)
	s.Log.Level = environment.StringOr("SALINE_LOG_LEVEL", s.Log.Level)
	s.Log.Format = environment.StringOr("SALINE_LOG_FORMAT", s.Log.Format)
	s.Gateway.BaseURL = environment.StringOr("SALINE_GATEWAY_URL", s.Gateway.BaseURL)
	s.Gateway.TimeoutSeconds = environment.IntOr("SALINE_GATEWAY_TIMEOUT", s.Gateway.TimeoutSeconds)

	return s, nil
}
