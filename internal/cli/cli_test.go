package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/config"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		in   string
		kind inputKind
		name string
		text string
	}{
		{"", inputNone, "", ""},
		{"   ", inputNone, "", ""},
		{"quit", inputExit, "", ""},
		{"/EXIT", inputExit, "", ""},
		{":q", inputExit, "", ""},
		{"hello Rosie", inputMessage, "", "hello Rosie"},
		{"/lobotomize", inputCommand, "lobotomize", ""},
		{"/say  good morning ", inputCommand, "say", "good morning"},
		{"/Stop", inputCommand, "stop", ""},
	}
	for _, tt := range tests {
		kind, name, text := parseInput(tt.in)
		assert.Equal(t, tt.kind, kind, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.text, text, tt.in)
	}
}

func TestRunStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persona.AIName = "Rosie"
	cfg.Persona.WakeWords = []string{"rosie", "robot"}

	var buf bytes.Buffer
	RunStatus(&buf, cfg, filepath.Join(t.TempDir(), "missing.yml"))

	out := buf.String()
	assert.Contains(t, out, "Rosie")
	assert.Contains(t, out, "rosie, robot")
	assert.Contains(t, out, "Text generation")
	assert.Contains(t, out, "ws://localhost:5005")
}

func TestApplyInitOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yml")

	done, err := applyInit(path, choiceOverwrite)
	require.NoError(t, err)
	assert.Equal(t, "Wrote default config", done)

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Persona.AIName, cfg.Persona.AIName)
}

func TestApplyInitUpgradeKeepsValues(t *testing.T) {
	t.Setenv(config.EnvDiscordToken, "")
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("persona:\n  ai_name: Rosie\n"), 0o600))

	done, err := applyInit(path, choiceUpgrade)
	require.NoError(t, err)
	assert.Equal(t, "Upgraded config", done)

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "Rosie", cfg.Persona.AIName)
	assert.Equal(t, config.DefaultConfig().Discord.HistoryLines, cfg.Discord.HistoryLines)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "history_lines")
}

func TestApplyInitUpgradeLeavesEnvTokenOut(t *testing.T) {
	t.Setenv(config.EnvDiscordToken, "secret-token")
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("persona:\n  ai_name: Rosie\n"), 0o600))

	_, err := applyInit(path, choiceUpgrade)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
}

func TestApplyInitSkip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("persona:\n  ai_name: Rosie\n"), 0o600))

	done, err := applyInit(path, choiceSkip)
	require.NoError(t, err)
	assert.Empty(t, done)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "persona:\n  ai_name: Rosie\n", string(raw))
}

func TestInitModelSelection(t *testing.T) {
	var m tea.Model = newInitModel("config.yml")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	im := m.(initModel)
	assert.True(t, im.chosen)
	assert.Equal(t, choiceOverwrite, im.choice)
	assert.Empty(t, im.View())
}

type replyHandler struct {
	reply channel.CommandReply
	got   []channel.Command
}

func (h *replyHandler) HandleCommand(_ context.Context, cmd channel.Command) channel.CommandReply {
	h.got = append(h.got, cmd)
	return h.reply
}

func newTestConsoleModel(t *testing.T) (consoleModel, *channel.Console) {
	t.Helper()
	console := channel.NewConsole(nil, "Rosie")
	m := newConsoleModel(context.Background(), console, ConsoleConfig{AIName: "Rosie", Provider: "oobabooga"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(consoleModel), console
}

func TestConsoleShowsBotPosts(t *testing.T) {
	m, _ := newTestConsoleModel(t)
	m.waiting = true

	next, cmd := m.Update(postedMsg(chat.Message{Body: "Hello there!"}))
	m = next.(consoleModel)
	assert.NotNil(t, cmd)
	assert.False(t, m.waiting)
	require.Len(t, m.history, 1)
	assert.Equal(t, consoleEntry{role: "bot", content: "Hello there!"}, m.history[0])

	next, _ = m.Update(postedMsg(chat.Message{Body: "notice", Internal: true}))
	m = next.(consoleModel)
	assert.Equal(t, "notice", m.history[1].role)
	assert.Contains(t, m.View(), "Hello there!")
}

func TestConsoleSendsMessage(t *testing.T) {
	m, _ := newTestConsoleModel(t)
	m.input.SetValue("hi Rosie")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(consoleModel)
	assert.NotNil(t, cmd)
	assert.True(t, m.waiting)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.history, 1)
	assert.Equal(t, consoleEntry{role: "user", content: "hi Rosie"}, m.history[0])
}

func TestConsoleExit(t *testing.T) {
	m, _ := newTestConsoleModel(t)
	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestConsolePublicCommandReplyIsPosted(t *testing.T) {
	m, console := newTestConsoleModel(t)
	h := &replyHandler{reply: channel.CommandReply{Text: "good morning"}}
	console.SetCommandHandler(h)

	msg := m.runCommand(channel.CommandSay, "good morning")()
	done, ok := msg.(commandDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)

	require.Len(t, h.got, 1)
	assert.Equal(t, "good morning", h.got[0].Text)

	msgs := console.Messages("console")
	require.Len(t, msgs, 1)
	assert.Equal(t, "good morning", msgs[0].Body)

	next, _ := m.Update(done)
	assert.Empty(t, next.(consoleModel).history)
}

func TestConsolePrivateCommandReplyIsNotice(t *testing.T) {
	m, console := newTestConsoleModel(t)
	console.SetCommandHandler(&replyHandler{reply: channel.CommandReply{Text: "Nothing to say.", Private: true}})

	done := m.runCommand(channel.CommandSay, "")().(commandDoneMsg)
	assert.Empty(t, console.Messages("console"))

	next, _ := m.Update(done)
	history := next.(consoleModel).history
	require.Len(t, history, 1)
	assert.Equal(t, consoleEntry{role: "notice", content: "Nothing to say."}, history[0])
}

func TestConsoleEditReplacesEntry(t *testing.T) {
	m, _ := newTestConsoleModel(t)

	next, _ := m.Update(postedMsg(chat.Message{ID: "7", Body: "Hello"}))
	next, _ = next.(consoleModel).Update(postedMsg(chat.Message{ID: "7", Body: "Hello there!"}))
	m = next.(consoleModel)

	require.Len(t, m.history, 1)
	assert.Equal(t, "Hello there!", m.history[0].content)
}

type buttonRecorder struct {
	got []channel.ButtonPress
}

func (h *buttonRecorder) HandleButton(_ context.Context, press channel.ButtonPress) channel.CommandReply {
	h.got = append(h.got, press)
	return channel.CommandReply{}
}

func TestConsolePressButton(t *testing.T) {
	m, console := newTestConsoleModel(t)
	h := &buttonRecorder{}
	console.SetButtonHandler(h)

	posted, err := console.SendImage(context.Background(), "console", []byte("png"), "", channel.SendOptions{
		Buttons: []channel.Button{{ID: "accept", Label: "Accept"}},
	})
	require.NoError(t, err)

	next, _ := m.Update(postedMsg(posted))
	m = next.(consoleModel)
	require.Len(t, m.history, 1)
	assert.Equal(t, []string{"Accept"}, m.history[0].buttons)
	assert.Contains(t, m.View(), "[Accept]")

	done := m.runCommand(pressCommand, "accept")().(commandDoneMsg)
	require.NoError(t, done.err)
	require.Len(t, h.got, 1)
	assert.Equal(t, "accept", h.got[0].ButtonID)
	assert.Equal(t, posted.ID, h.got[0].MessageID)

	done = m.runCommand(pressCommand, "delete")().(commandDoneMsg)
	assert.True(t, done.reply.Private)
	assert.Len(t, h.got, 1)
}
