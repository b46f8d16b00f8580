package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/templates"
)

// Defaults from the oobabooga request parameters and Discord settings.
const (
	DefaultTokenSpace   = 730
	DefaultHistoryLines = 7
)

// Options configures a Compositor.
type Options struct {
	AIName    string
	Persona   string
	Templates *templates.Store
	// TokenSpace is the model's context size in tokens.
	TokenSpace         int
	HistoryLines       int
	DontSplitResponses bool
}

// Compositor renders prompts. It holds no mutable state and is safe for
// concurrent use.
type Compositor struct {
	aiName      string
	persona     string
	tmpl        *templates.Store
	budget      Budget
	cueLine     string
	imageNotice string
	sentinel    string
	example     string
	separator   string
}

// New creates a Compositor and logs a warning when the configured token
// space leaves too little room for the requested history.
func New(opts Options) *Compositor {
	if opts.TokenSpace <= 0 {
		opts.TokenSpace = DefaultTokenSpace
	}
	if opts.HistoryLines <= 0 {
		opts.HistoryLines = DefaultHistoryLines
	}
	if opts.Templates == nil {
		opts.Templates, _ = templates.NewStore(nil)
	}

	c := &Compositor{
		aiName:  opts.AIName,
		persona: opts.Persona,
		tmpl:    opts.Templates,
	}
	c.cueLine = strings.TrimSpace(c.tmpl.Format(templates.PromptHistoryLine, map[templates.Token]string{
		templates.UserName:    opts.AIName,
		templates.UserMessage: "",
	}))
	c.imageNotice = c.tmpl.Format(templates.PromptImageComing, map[templates.Token]string{
		templates.AIName: opts.AIName,
	})
	c.sentinel = strings.TrimSpace(c.imageNotice)
	names := map[templates.Token]string{templates.AIName: opts.AIName}
	c.example = c.tmpl.Format(templates.ExampleDialogue, names)
	c.separator = c.tmpl.Format(templates.SectionSeparator, names)

	c.budget = NewBudget(opts.TokenSpace, opts.HistoryLines, opts.DontSplitResponses, c.render("", true))
	if c.budget.UnderProvisioned() {
		slog.Warn("Token space is too small for the persona and history, history context may be lost",
			"short_by_chars", c.budget.Required()-c.budget.MaxHistoryChars,
			"max_history_chars", c.budget.MaxHistoryChars)
	}
	return c
}

// Budget returns the history allowance computed at construction.
func (c *Compositor) Budget() Budget { return c.budget }

// CueLine is the final prompt line that hands the turn to the AI, such
// as "oobabot says:".
func (c *Compositor) CueLine() string { return c.cueLine }

// ImageNotice is the rendered line telling the model an image is on its
// way.
func (c *Compositor) ImageNotice() string { return c.imageNotice }

// Generate builds a prompt from history, which must yield messages
// newest first. Reading stops at throttleID when it is set, and at the
// first line that no longer fits the budget. History lines left unused
// are filled from the end of the example dialogue.
func (c *Compositor) Generate(ctx context.Context, ownID string, history chat.HistoryIterator, imageRequested bool, throttleID string) (string, error) {
	remaining := c.budget.MaxHistoryChars
	var lines []string

	for {
		msg, err := history.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read history: %w", err)
		}
		if throttleID != "" && msg.ID == throttleID {
			break
		}

		author := msg.AuthorName
		if ownID != "" && msg.AuthorID == ownID {
			if msg.Internal || (c.sentinel != "" && strings.Contains(msg.Body, c.sentinel)) {
				continue
			}
			author = c.aiName
		}
		if strings.TrimSpace(msg.Body) == "" {
			continue
		}

		line := c.tmpl.Format(templates.PromptHistoryLine, map[templates.Token]string{
			templates.UserName:    author,
			templates.UserMessage: msg.Body,
		})
		n := utf8.RuneCountInString(line)
		if n > remaining {
			discarded := max(c.budget.HistoryLines-len(lines), 1)
			slog.Warn("Ran out of prompt space, discarding chat history",
				"kept", len(lines), "discarded", discarded)
			remaining = 0
			break
		}
		remaining -= n
		lines = append(lines, line)
	}

	lines = c.appendExamples(lines, remaining)
	slices.Reverse(lines)
	transcript := strings.TrimRight(strings.Join(lines, ""), "\n")
	return c.render(transcript, imageRequested), nil
}

// appendExamples adds the section separator and then example dialogue
// lines, last line first, to lines, which are newest first. Each line
// must fit the remaining space along with the separator.
func (c *Compositor) appendExamples(lines []string, remaining int) []string {
	sepLen := utf8.RuneCountInString(c.separator)
	quota := c.budget.HistoryLines - len(lines)
	if c.example == "" || remaining <= sepLen || quota <= 0 {
		return lines
	}
	lines = append(lines, c.separator+"\n")
	remaining -= sepLen

	examples := strings.Split(c.example, "\n")
	for i := len(examples) - 1; i >= 0 && quota > 0; i-- {
		line := examples[i] + "\n"
		n := utf8.RuneCountInString(line)
		if n+sepLen > remaining {
			break
		}
		remaining -= n
		lines = append(lines, line)
		quota--
	}
	return lines
}

func (c *Compositor) render(history string, imageRequested bool) string {
	notice := ""
	if imageRequested {
		notice = c.imageNotice
	}
	prompt := c.tmpl.Format(templates.Prompt, map[templates.Token]string{
		templates.AIName:         c.aiName,
		templates.Persona:        c.persona,
		templates.MessageHistory: history,
		templates.ImageComing:    notice,
	})
	return prompt + c.cueLine
}
