// Package config loads promoagent configuration from JSON or YAML files and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"promoagent/internal/domain"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "promoagent.yaml"

// marshalIndent, yamlMarshal, readFile and writeFile are used by Load,
// WriteDefault and Save; tests may replace them to force errors.
var (
	marshalIndent = json.MarshalIndent
	yamlMarshal   = yaml.Marshal
	readFile      = os.ReadFile
	writeFile     = os.WriteFile
	lookupEnv     = os.LookupEnv
)

// Defaults returns the configuration used when a field is left unset.
func Defaults() *domain.Config {
	return &domain.Config{
		Source: domain.SourceConfig{Kind: "memory"},
		Tools: domain.ToolsConfig{
			MaxLimit:     100,
			DefaultLimit: 50,
			Timeout:      domain.Duration(5 * time.Second),
			MaxRetries:   1,
			MaxToolCalls: 3,
		},
		Agent:   domain.AgentConfig{Provider: "local", Model: "gpt-4o-mini"},
		Gateway: domain.GatewayConfig{Port: 8080},
		Log:     domain.LogConfig{Format: "text", Level: "info"},
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// WriteDefault writes the default Config to path (e.g. promoagent.yaml).
// Parent directories are not created.
func WriteDefault(path string) error {
	data, err := encode(path, Defaults())
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path, applies environment overrides and defaults, and validates
// the result. An empty path reads nothing and starts from the defaults.
func Load(path string) (*domain.Config, error) {
	var c domain.Config
	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if isYAML(path) {
			err = yaml.Unmarshal(data, &c)
		} else {
			err = json.Unmarshal(data, &c)
		}
		if err != nil {
			return nil, fmt.Errorf("config parse: %w", err)
		}
	}
	if err := ApplyEnv(&c); err != nil {
		return nil, err
	}
	ApplyDefaults(&c)
	CleanPaths(&c)
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyEnv overrides fields from PROMOAGENT_* environment variables.
func ApplyEnv(c *domain.Config) error {
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PROMOAGENT_SOURCE_KIND", &c.Source.Kind)
	str("PROMOAGENT_SOURCE_PATH", &c.Source.Path)
	str("PROMOAGENT_SOURCE_URL", &c.Source.URL)
	str("PROMOAGENT_PROVIDER", &c.Agent.Provider)
	str("PROMOAGENT_MODEL", &c.Agent.Model)
	str("PROMOAGENT_LLM_BASE_URL", &c.Agent.BaseURL)
	str("PROMOAGENT_LOG_LEVEL", &c.Log.Level)
	str("PROMOAGENT_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookupEnv("PROMOAGENT_SOURCE_WATCH"); ok && v != "" {
		watch, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config env PROMOAGENT_SOURCE_WATCH: %w", err)
		}
		c.Source.Watch = watch
	}
	if v, ok := lookupEnv("PROMOAGENT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config env PROMOAGENT_PORT: %w", err)
		}
		c.Gateway.Port = port
	}
	return nil
}

// ApplyDefaults fills every zero field from Defaults.
func ApplyDefaults(c *domain.Config) {
	d := Defaults()
	if c.Source.Kind == "" {
		c.Source.Kind = d.Source.Kind
	}
	if c.Tools.MaxLimit == 0 {
		c.Tools.MaxLimit = d.Tools.MaxLimit
	}
	if c.Tools.DefaultLimit == 0 {
		c.Tools.DefaultLimit = min(d.Tools.DefaultLimit, c.Tools.MaxLimit)
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = d.Tools.Timeout
	}
	if c.Tools.MaxToolCalls == 0 {
		c.Tools.MaxToolCalls = d.Tools.MaxToolCalls
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = d.Agent.Provider
	}
	if c.Agent.Model == "" {
		c.Agent.Model = d.Agent.Model
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = d.Gateway.Port
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// CleanPaths applies filepath.Clean to local file paths in cfg to prevent
// path traversal. Database URLs are left alone.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil || cfg.Source.Path == "" || strings.Contains(cfg.Source.Path, "://") || strings.HasPrefix(cfg.Source.Path, "file:") {
		return
	}
	cfg.Source.Path = filepath.Clean(cfg.Source.Path)
}

// Validate reports every invalid field in c.
func Validate(c *domain.Config) error {
	var errs []error
	switch c.Source.Kind {
	case "memory":
		if c.Source.Watch && c.Source.Path == "" {
			errs = append(errs, errors.New("source.watch needs source.path (the built-in seed cannot change)"))
		}
	case "sqlite":
	case "remote":
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source.url is required when source.kind is remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind %q is not one of memory, sqlite, remote", c.Source.Kind))
	}
	if c.Tools.MaxLimit < 1 {
		errs = append(errs, fmt.Errorf("tools.maxLimit must be at least 1, got %d", c.Tools.MaxLimit))
	}
	if c.Tools.DefaultLimit < 1 || c.Tools.DefaultLimit > c.Tools.MaxLimit {
		errs = append(errs, fmt.Errorf("tools.defaultLimit must be between 1 and tools.maxLimit, got %d", c.Tools.DefaultLimit))
	}
	if c.Tools.Timeout < 0 {
		errs = append(errs, errors.New("tools.timeout must not be negative"))
	}
	if c.Tools.MaxRetries < 0 || c.Tools.MaxRetries > 1 {
		errs = append(errs, fmt.Errorf("tools.maxRetries must be 0 or 1, got %d", c.Tools.MaxRetries))
	}
	if c.Tools.MaxToolCalls < 1 {
		errs = append(errs, fmt.Errorf("tools.maxToolCalls must be at least 1, got %d", c.Tools.MaxToolCalls))
	}
	switch c.Agent.Provider {
	case "local", "openai":
	default:
		errs = append(errs, fmt.Errorf("agent.provider %q is not one of local, openai", c.Agent.Provider))
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes cfg to path, as YAML or JSON by extension.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}

func encode(path string, cfg *domain.Config) ([]byte, error) {
	if isYAML(path) {
		return yamlMarshal(cfg)
	}
	return marshalIndent(cfg, "", "  ")
}
