package prompt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/templates"
)

const ownID = "999"

// compactStore renders every history line as exactly 10 characters for
// "ab" authors with six-character bodies.
func compactStore(t *testing.T) *templates.Store {
	t.Helper()
	s, err := templates.NewStore(map[string]string{
		"prompt":              "<{MESSAGE_HISTORY}>{IMAGE_COMING}",
		"prompt_history_line": "{USER_NAME}:{USER_MESSAGE}\n",
		"prompt_image_coming": "{AI_NAME} draws",
	})
	require.NoError(t, err)
	return s
}

func newCompact(t *testing.T, tokenSpace int) *Compositor {
	return New(Options{
		AIName:       "ai",
		Templates:    compactStore(t),
		TokenSpace:   tokenSpace,
		HistoryLines: 4,
	})
}

// synthetic returns n messages, newest first, with ids n..1.
func synthetic(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := n; i >= 1; i-- {
		msgs = append(msgs, chat.Message{
			ID:         strconv.Itoa(i),
			AuthorID:   "1",
			AuthorName: "ab",
			Body:       fmt.Sprintf("msg%03d", i),
		})
	}
	return msgs
}

func transcript(ids ...int) string {
	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, "ab:msg%03d\n", id)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func TestBudget(t *testing.T) {
	c := newCompact(t, 15)
	b := c.Budget()
	// "<>ai draws" plus the "ai:" cue is 13 characters.
	assert.Equal(t, 45-13, b.MaxHistoryChars)
	assert.Equal(t, 4*CharsPerHistoryLine, b.Required())
	assert.True(t, b.UnderProvisioned())
	assert.Equal(t, "ai:", c.CueLine())
}

func TestBudgetUnsplit(t *testing.T) {
	b := NewBudget(730, 7, true, "")
	assert.Equal(t, 2190, b.MaxHistoryChars)
	assert.Equal(t, 7*180, b.Required())
	assert.False(t, b.UnderProvisioned())
}

func TestGenerateDropsOldestFirst(t *testing.T) {
	tests := []struct {
		name       string
		tokenSpace int
		want       []int
	}{
		// 3*tokenSpace-13 characters of history, 10 per line.
		{"exact fit of four", 18, []int{7, 8, 9, 10}},
		{"one short of four", 17, []int{8, 9, 10}},
		{"everything", 100, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"nothing", 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCompact(t, tt.tokenSpace)
			got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(synthetic(10)), false, "")
			require.NoError(t, err)
			assert.Equal(t, "<"+transcript(tt.want...)+">ai:", got)

			history := strings.TrimSuffix(strings.TrimPrefix(got, "<"), ">ai:")
			assert.LessOrEqual(t, len(history), c.Budget().MaxHistoryChars)
		})
	}
}

func TestGenerateStopsAtFirstLineThatDoesNotFit(t *testing.T) {
	msgs := synthetic(3)
	msgs[1].Body = strings.Repeat("x", 100)
	c := newCompact(t, 40)

	got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(msgs), false, "")
	require.NoError(t, err)
	assert.Equal(t, "<"+transcript(3)+">ai:", got)
}

func TestGenerateThrottleBoundary(t *testing.T) {
	c := newCompact(t, 100)
	tests := []struct {
		throttle string
		want     []int
	}{
		{"7", []int{8, 9, 10}},
		{"10", nil},
		{"1", []int{2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"42", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.throttle, func(t *testing.T) {
			got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(synthetic(10)), false, tt.throttle)
			require.NoError(t, err)
			assert.Equal(t, "<"+transcript(tt.want...)+">ai:", got)
		})
	}
}

func TestGenerateOwnMessages(t *testing.T) {
	c := newCompact(t, 100)
	msgs := []chat.Message{
		{ID: "6", AuthorID: "1", AuthorName: "ab", Body: "thanks"},
		{ID: "5", AuthorID: ownID, AuthorName: "Some Bot#1234", Body: "ai draws"},
		{ID: "4", AuthorID: ownID, AuthorName: "Some Bot#1234", Body: "here", Internal: true},
		{ID: "3", AuthorID: ownID, AuthorName: "Some Bot#1234", Body: "hello!"},
		{ID: "2", AuthorID: "1", AuthorName: "ab", Body: "   "},
		{ID: "1", AuthorID: "1", AuthorName: "ab", Body: "hi"},
	}
	got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(msgs), false, "")
	require.NoError(t, err)
	assert.Equal(t, "<ab:hi\nai:hello!\nab:thanks>ai:", got)
}

func TestGenerateImageNotice(t *testing.T) {
	c := newCompact(t, 100)
	got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(synthetic(1)), true, "")
	require.NoError(t, err)
	assert.Equal(t, "<ab:msg001>ai drawsai:", got)
}

func TestGenerateHistoryError(t *testing.T) {
	boom := errors.New("boom")
	c := newCompact(t, 100)
	_, err := c.Generate(context.Background(), ownID, chat.HistoryFunc(func(context.Context) (chat.Message, error) {
		return chat.Message{}, boom
	}), false, "")
	assert.ErrorIs(t, err, boom)
}

func TestGenerateDefaultTemplates(t *testing.T) {
	c := New(Options{AIName: "oobabot", Persona: "A cheerful robot."})
	msgs := []chat.Message{
		{ID: "2", AuthorID: ownID, AuthorName: "bot", Body: "Hi alice!"},
		{ID: "1", AuthorID: "1", AuthorName: "alice", Body: "hey oobabot"},
	}
	got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(msgs), false, "")
	require.NoError(t, err)

	assert.Contains(t, got, "A cheerful robot.")
	assert.Contains(t, got, "### Transcript:\nalice says:\nhey oobabot\n\noobabot says:\nHi alice!\n")
	assert.True(t, strings.HasSuffix(got, "\noobabot says:"), got)
	assert.Equal(t, DefaultTokenSpace*CharsPerToken-len(c.render("", true)), c.Budget().MaxHistoryChars)
}

func newWithExamples(t *testing.T, tokenSpace int) *Compositor {
	t.Helper()
	s, err := templates.NewStore(map[string]string{
		"prompt":              "<{MESSAGE_HISTORY}>{IMAGE_COMING}",
		"prompt_history_line": "{USER_NAME}:{USER_MESSAGE}\n",
		"prompt_image_coming": "{AI_NAME} draws",
		"example_dialogue":    "ab:ex1\n{AI_NAME}:ex2\nab:ex3",
		"section_separator":   "--",
	})
	require.NoError(t, err)
	return New(Options{AIName: "ai", Templates: s, TokenSpace: tokenSpace, HistoryLines: 4})
}

func TestGenerateExampleDialogueFillsUnusedLines(t *testing.T) {
	tests := []struct {
		name       string
		tokenSpace int
		msgs       []chat.Message
		want       string
	}{
		{"whole example", 100, synthetic(1), "<ab:ex1\nai:ex2\nab:ex3\n--\nab:msg001>ai:"},
		{"pushed out by history", 100, synthetic(2), "<ai:ex2\nab:ex3\n--\nab:msg001\nab:msg002>ai:"},
		{"history uses every line", 100, synthetic(4), "<" + transcript(1, 2, 3, 4) + ">ai:"},
		{"separator only when examples do not fit", 10, synthetic(1), "<--\nab:msg001>ai:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newWithExamples(t, tt.tokenSpace)
			got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(tt.msgs), false, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateNoExamplesAfterRunningOutOfSpace(t *testing.T) {
	msgs := synthetic(3)
	msgs[1].Body = strings.Repeat("x", 100)
	c := newWithExamples(t, 40)

	got, err := c.Generate(context.Background(), ownID, chat.SliceHistory(msgs), false, "")
	require.NoError(t, err)
	assert.Equal(t, "<"+transcript(3)+">ai:", got)
}
