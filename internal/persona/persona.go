// Package persona holds the bot's name, character description and the
// words that summon it.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys that may hold the name or the description in character files,
// tried in order.
var (
	nameKeys    = []string{"char_name", "name"}
	personaKeys = []string{"char_persona", "description", "context", "personality"}
)

// Persona describes who the bot is.
type Persona struct {
	AIName    string
	Text      string
	Wakewords []string
}

// Load builds a Persona from settings, then applies file when set.
// A missing file is logged and ignored; a malformed one is an error.
func Load(aiName, text string, wakewords []string, file string) (*Persona, error) {
	p := &Persona{
		AIName:    aiName,
		Text:      text,
		Wakewords: slices.Clone(wakewords),
	}
	if file == "" {
		return p, nil
	}
	if err := p.LoadFile(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Persona file not found", "path", file)
			return p, nil
		}
		return nil, err
	}
	return p, nil
}

// LoadFile reads a .json, .yaml/.yml or .txt character file into p.
func (p *Persona) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		p.Text = string(data)
		return nil
	case ".json":
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse persona %s: %w", path, err)
		}
		p.apply(m)
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse persona %s: %w", path, err)
		}
		p.apply(m)
	default:
		slog.Warn("Unknown persona file extension, expected .json, .yaml or .txt", "path", path)
	}
	return nil
}

func (p *Persona) apply(m map[string]any) {
	if name := firstString(m, nameKeys); name != "" {
		p.AIName = name
	}
	if text := firstString(m, personaKeys); text != "" {
		p.Text = p.Substitute(text)
	}
	if p.AIName != "" && !slices.Contains(p.Wakewords, p.AIName) {
		p.Wakewords = append(p.Wakewords, p.AIName)
	}
}

// Substitute replaces the {{char}} placeholder used by character cards
// with the AI name.
func (p *Persona) Substitute(text string) string {
	return strings.ReplaceAll(text, "{{char}}", p.AIName)
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
