package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "config.yml"

// Environment variables that fill settings left empty in the file.
const (
	EnvDiscordToken = "DISCORD_TOKEN"
	EnvPersona      = "OOBABOT_PERSONA"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// LoadEnv loads a .env file next to the config file and one in the
// working directory. Variables already set in the environment win.
func LoadEnv(configPath string) {
	seen := map[string]bool{}
	for _, p := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Could not load .env file", "path", abs, "err", err)
		}
	}
}

// LoadFrom reads configuration from path, falling back to defaults when
// the file does not exist. The result is not validated.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg, err = Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds a Config from YAML bytes. Unknown keys are logged.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(expanded, &generic); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	for _, key := range CheckUnknownFields(generic) {
		slog.Warn("Unknown config key", "key", key)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// applyDefaults fills zero values the file may have cleared.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Persona.AIName == "" {
		c.Persona.AIName = d.Persona.AIName
	}
	if c.Discord.HistoryLines == 0 {
		c.Discord.HistoryLines = d.Discord.HistoryLines
	}
	if c.Discord.LogLevel == "" {
		c.Discord.LogLevel = d.Discord.LogLevel
	}
	if c.Discord.RepetitionThreshold == 0 {
		c.Discord.RepetitionThreshold = d.Discord.RepetitionThreshold
	}
	if len(c.Discord.TimeVsResponseChance) == 0 {
		c.Discord.TimeVsResponseChance = d.Discord.TimeVsResponseChance
	}
	if c.Oobabooga.API == "" {
		c.Oobabooga.API = d.Oobabooga.API
	}
	if c.Oobabooga.BaseURL == "" {
		c.Oobabooga.BaseURL = d.Oobabooga.BaseURL
	}
	if c.Oobabooga.RequestParams == nil {
		c.Oobabooga.RequestParams = d.Oobabooga.RequestParams
	}
	if c.StableDiffusion.RequestParams == nil {
		c.StableDiffusion.RequestParams = d.StableDiffusion.RequestParams
	}
	if c.StableDiffusion.TimeoutSeconds == 0 {
		c.StableDiffusion.TimeoutSeconds = d.StableDiffusion.TimeoutSeconds
	}
	if c.Template == nil {
		c.Template = map[string]string{}
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = d.Metrics.Listen
	}
}

func (c *Config) applyEnv() {
	if c.Discord.Token == "" {
		c.Discord.Token = os.Getenv(EnvDiscordToken)
	}
	if c.Persona.Persona == "" {
		c.Persona.Persona = os.Getenv(EnvPersona)
	}
}

// SaveTo writes cfg as YAML, creating parent directories. The token is
// written only when includeToken is set.
func SaveTo(cfg *Config, path string, includeToken bool) error {
	out := *cfg
	if !includeToken {
		out.Discord.Token = ""
	}

	var buf bytes.Buffer
	buf.WriteString("# oobabot configuration.\n")
	buf.WriteString("# String values may read environment variables, with an optional :- default.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
