package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/chat"
)

// --- message types ---

type postedMsg chat.Message

type commandDoneMsg struct {
	reply channel.CommandReply
	err   error
}

type consoleClosedMsg struct{}

// ConsoleConfig holds display metadata for the console TUI.
type ConsoleConfig struct {
	AIName    string
	UserName  string
	Provider  string
	ChannelID string
}

// --- input parsing ---

type inputKind int

const (
	inputNone inputKind = iota
	inputExit
	inputCommand
	inputMessage
)

// parseInput classifies a line typed into the console. Slash commands
// return their name and argument text.
func parseInput(raw string) (kind inputKind, name, text string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return inputNone, "", ""
	}
	if isExitCmd(s) {
		return inputExit, "", ""
	}
	if !strings.HasPrefix(s, "/") {
		return inputMessage, "", s
	}
	name, text, _ = strings.Cut(s[1:], " ")
	return inputCommand, strings.ToLower(name), strings.TrimSpace(text)
}

func isExitCmd(s string) bool {
	s = strings.ToLower(s)
	return s == "exit" || s == "quit" || s == "/exit" || s == "/quit" || s == ":q"
}

// --- console entry ---

type consoleEntry struct {
	id      string // set for bot posts, which may later be edited
	role    string // "user", "bot", "notice", "error"
	content string
	buttons []string
}

// pressCommand presses a button under the newest bot post that has it.
const pressCommand = "press"

// --- interactive console model ---

type consoleModel struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history []consoleEntry
	waiting bool

	console *channel.Console
	ctx     context.Context
	cfg     ConsoleConfig

	ready  bool
	width  int
	height int
}

func newConsoleModel(ctx context.Context, console *channel.Console, cfg ConsoleConfig) consoleModel {
	if cfg.UserName == "" {
		cfg.UserName = "you"
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "console"
	}

	ti := textinput.New()
	ti.Placeholder = fmt.Sprintf("Say something to %s...", cfg.AIName)
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	return consoleModel{
		input:   ti,
		spinner: sp,
		console: console,
		ctx:     ctx,
		cfg:     cfg,
	}
}

// waitForPost delivers the bot's next message in the console.
func waitForPost(ctx context.Context, sent <-chan chat.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return consoleClosedMsg{}
		case m := <-sent:
			return postedMsg(m)
		}
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForPost(m.ctx, m.console.Sent()))
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// header + divider + viewport + divider + input + status
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			kind, name, text := parseInput(m.input.Value())
			m.input.SetValue("")
			switch kind {
			case inputNone:
				return m, nil
			case inputExit:
				return m, tea.Quit
			case inputCommand:
				m.history = append(m.history, consoleEntry{role: "user", content: "/" + strings.TrimSpace(name+" "+text)})
				m.refresh()
				return m, m.runCommand(name, text)
			default:
				m.history = append(m.history, consoleEntry{role: "user", content: text})
				m.waiting = true
				m.refresh()
				return m, tea.Batch(m.post(text), m.spinner.Tick)
			}
		case tea.KeyEsc:
			if m.waiting {
				return m, m.runCommand(channel.CommandStop, "")
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case postedMsg:
		m.waiting = false
		role := "bot"
		if msg.Internal {
			role = "notice"
		}
		m.upsert(consoleEntry{id: msg.ID, role: role, content: msg.Body, buttons: m.buttonLabels(msg.ID)})
		m.refresh()
		return m, waitForPost(m.ctx, m.console.Sent())

	case commandDoneMsg:
		switch {
		case msg.err != nil:
			m.history = append(m.history, consoleEntry{role: "error", content: msg.err.Error()})
		case msg.reply.Private:
			m.history = append(m.history, consoleEntry{role: "notice", content: msg.reply.Text})
		}
		m.refresh()
		return m, nil

	case consoleClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// upsert replaces the entry of an edited post, or appends a new one.
func (m *consoleModel) upsert(e consoleEntry) {
	if e.id != "" {
		for i := range m.history {
			if m.history[i].id == e.id {
				m.history[i] = e
				return
			}
		}
	}
	m.history = append(m.history, e)
}

func (m consoleModel) buttonLabels(messageID string) []string {
	if messageID == "" {
		return nil
	}
	var labels []string
	for _, b := range m.console.Buttons(messageID) {
		if !b.Disabled {
			labels = append(labels, b.Label)
		}
	}
	return labels
}

func (m consoleModel) post(text string) tea.Cmd {
	return func() tea.Msg {
		m.console.Post(m.ctx, m.cfg.ChannelID, m.cfg.UserName, text)
		return nil
	}
}

// runCommand runs a slash command. Public replies are posted to the
// channel so they show up in history like they would on Discord.
func (m consoleModel) runCommand(name, text string) tea.Cmd {
	return func() tea.Msg {
		var reply channel.CommandReply
		if name == pressCommand {
			reply = m.console.PressLabel(m.ctx, m.cfg.ChannelID, text)
		} else {
			reply = m.console.Command(m.ctx, m.cfg.ChannelID, name, text)
		}
		if !reply.Private && reply.Text != "" {
			if _, err := m.console.Send(m.ctx, m.cfg.ChannelID, reply.Text, channel.SendOptions{}); err != nil {
				return commandDoneMsg{reply: reply, err: err}
			}
		}
		return commandDoneMsg{reply: reply}
	}
}

func (m consoleModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := TitleStyle.Render(fmt.Sprintf(" %s %s", Logo, m.cfg.AIName))
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	inputLine := " " + m.input.View()
	if m.waiting {
		inputLine = fmt.Sprintf(" %s %s is typing... (Esc to stop)", m.spinner.View(), m.cfg.AIName)
	}

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		inputLine + "\n" +
		m.renderStatusBar()
}

func (m consoleModel) renderHistory() string {
	if len(m.history) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, entry := range m.history {
		sb.WriteString("\n")
		switch entry.role {
		case "user":
			sb.WriteString("  " + UserLabel.Render(m.cfg.UserName) + "\n")
			writeIndented(&sb, entry.content)
		case "bot":
			sb.WriteString("  " + BotLabel.Render(m.cfg.AIName) + "\n")
			writeIndented(&sb, entry.content)
		case "notice":
			sb.WriteString("  " + NoticeStyle.Render(strings.TrimSpace(entry.content)) + "\n")
			if len(entry.buttons) > 0 {
				sb.WriteString("  " + DimStyle.Render("["+strings.Join(entry.buttons, "] [")+"]  /press <label>") + "\n")
			}
		case "error":
			sb.WriteString("  " + ErrStyle.Render("Error: "+entry.content) + "\n")
		}
	}
	return sb.String()
}

func writeIndented(sb *strings.Builder, content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		sb.WriteString("  " + line + "\n")
	}
}

func (m consoleModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(RenderBanner(m.cfg.AIName))
	sb.WriteString("\n")
	sb.WriteString("  " + BoldStyle.Render("Commands:") + "\n")
	sb.WriteString(DimStyle.Render("  /lobotomize  make the bot forget the conversation so far") + "\n")
	sb.WriteString(DimStyle.Render("  /say <text>  speak as the bot") + "\n")
	sb.WriteString(DimStyle.Render("  /stop        stop the current response") + "\n")
	sb.WriteString(DimStyle.Render("  /press <btn> press a button under an image") + "\n")
	sb.WriteString(DimStyle.Render("  /quit        leave the console") + "\n")
	return sb.String()
}

func (m consoleModel) renderStatusBar() string {
	left := DimStyle.Render(" " + m.cfg.ChannelID)
	right := DimStyle.Render(m.cfg.Provider + " ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

// RunConsole starts the interactive console TUI. It returns when the
// user quits or ctx is cancelled.
func RunConsole(ctx context.Context, console *channel.Console, cfg ConsoleConfig) error {
	m := newConsoleModel(ctx, console, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
