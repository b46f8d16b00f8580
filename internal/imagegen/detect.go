// Package imagegen generates images with a Stable Diffusion server and
// spots image requests in chat messages.
package imagegen

import (
	"log/slog"
	"regexp"
	"strings"
)

// MinPromptLength is the shortest text after an image word that counts
// as an image request.
const MinPromptLength = 3

// DefaultImageWords are the phrases that mark a message as an image
// request.
var DefaultImageWords = []string{
	"draw me",
	"drawing",
	"photo",
	"pic",
	"picture",
	"image",
	"sketch",
}

// Detector extracts image prompts from message text.
type Detector struct {
	words    []string
	patterns []*regexp.Regexp
}

// NewDetector builds one pattern per image word. A word matches as a
// whole word in any script, case-insensitively, optionally followed by
// "of", "with" or a colon. Whatever follows is the image prompt.
func NewDetector(words []string) *Detector {
	d := &Detector{words: words}
	for _, w := range words {
		d.patterns = append(d.patterns, regexp.MustCompile(
			`(?i)^.*(?:^|[^\p{L}\p{N}_])`+regexp.QuoteMeta(w)+`(?:$|[^\p{L}\p{N}_])\s*(of|with)?\s*:?(.*)$`,
		))
	}
	return d
}

// Words returns the configured image words.
func (d *Detector) Words() []string { return d.words }

// Detect returns the image prompt in text, trying each image word in
// order and skipping matches whose prompt is too short. The returned
// prompt is trimmed.
func (d *Detector) Detect(text string) (string, bool) {
	for _, p := range d.patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m[2]) < MinPromptLength {
			continue
		}
		prompt := strings.TrimSpace(m[2])
		slog.Debug("Found image prompt", "prompt", prompt)
		return prompt, true
	}
	return "", false
}
