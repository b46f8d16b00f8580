package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWithoutFile(t *testing.T) {
	p, err := Load("oobabot", "a helpful bot", []string{"oobabot"}, "")
	require.NoError(t, err)
	assert.Equal(t, "oobabot", p.AIName)
	assert.Equal(t, "a helpful bot", p.Text)
	assert.Equal(t, []string{"oobabot"}, p.Wakewords)
}

func TestLoadFileFormats(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		wantName  string
		wantText  string
		wantWords []string
	}{
		{
			name:      "json char card",
			file:      "card.json",
			content:   `{"char_name": "Rosie", "char_persona": "{{char}} loves gardening."}`,
			wantName:  "Rosie",
			wantText:  "Rosie loves gardening.",
			wantWords: []string{"oobabot", "Rosie"},
		},
		{
			name:      "json falls through empty keys",
			file:      "card.json",
			content:   `{"char_name": "", "name": "Ada", "char_persona": "", "description": "counts things"}`,
			wantName:  "Ada",
			wantText:  "counts things",
			wantWords: []string{"oobabot", "Ada"},
		},
		{
			name:      "yaml",
			file:      "card.yaml",
			content:   "name: Sam\ncontext: |\n  {{char}} is a pirate.\n",
			wantName:  "Sam",
			wantText:  "Sam is a pirate.\n",
			wantWords: []string{"oobabot", "Sam"},
		},
		{
			name:      "text replaces persona only",
			file:      "persona.txt",
			content:   "plain persona",
			wantName:  "oobabot",
			wantText:  "plain persona",
			wantWords: []string{"oobabot"},
		},
		{
			name:      "unknown extension is ignored",
			file:      "persona.md",
			content:   "ignored",
			wantName:  "oobabot",
			wantText:  "default",
			wantWords: []string{"oobabot"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			p, err := Load("oobabot", "default", []string{"oobabot"}, path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.AIName)
			assert.Equal(t, tt.wantText, p.Text)
			assert.Equal(t, tt.wantWords, p.Wakewords)
		})
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	p, err := Load("oobabot", "default", nil, filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "default", p.Text)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "bad.json", "{not json")
	_, err := Load("oobabot", "default", nil, path)
	assert.Error(t, err)
}

func TestLoadDoesNotAliasWakewords(t *testing.T) {
	words := []string{"oobabot"}
	path := writeFile(t, "card.json", `{"name": "Rosie"}`)
	_, err := Load("oobabot", "", words, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"oobabot"}, words)
}
