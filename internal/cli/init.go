package cli

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joebot/oobabot/internal/config"
)

// --- init selection model ---

type initChoice int

const (
	choiceUpgrade initChoice = iota
	choiceOverwrite
	choiceSkip
)

type initModel struct {
	path    string
	choices []string
	cursor  int
	chosen  bool
	choice  initChoice
}

func newInitModel(path string) initModel {
	return initModel{
		path: path,
		choices: []string{
			"Upgrade: add new settings, keep existing values",
			"Overwrite: replace with fresh defaults",
			"Skip: leave the file alone",
		},
	}
}

func (m initModel) Init() tea.Cmd { return nil }

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.choice = choiceSkip
			m.chosen = true
			return m, tea.Quit
		case tea.KeyUp, tea.KeyShiftTab:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown, tea.KeyTab:
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case tea.KeyEnter:
			m.choice = initChoice(m.cursor)
			m.chosen = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m initModel) View() string {
	if m.chosen {
		return ""
	}

	s := "\n"
	s += fmt.Sprintf("  Config already exists at %s\n\n", DimStyle.Render(m.path))
	for i, choice := range m.choices {
		cursor := "  "
		if i == m.cursor {
			cursor = BotLabel.Render("❯ ")
		}
		s += "  " + cursor + choice + "\n"
	}
	s += "\n" + DimStyle.Render("  ↑/↓ navigate · enter select · esc cancel") + "\n"
	return s
}

// applyInit carries out choice on the file at path and describes what
// happened.
func applyInit(path string, choice initChoice) (string, error) {
	switch choice {
	case choiceUpgrade:
		cfg, err := config.LoadFrom(path)
		if err != nil {
			return "", err
		}
		// A token that came from the environment stays there.
		if err := config.SaveTo(cfg, path, os.Getenv(config.EnvDiscordToken) == ""); err != nil {
			return "", err
		}
		return "Upgraded config", nil
	case choiceOverwrite:
		if err := config.SaveTo(config.DefaultConfig(), path, false); err != nil {
			return "", err
		}
		return "Wrote default config", nil
	default:
		return "", nil
	}
}

// RunInit writes a config file at path. When one already exists the
// user picks what to do, unless force is set, which overwrites it.
func RunInit(w io.Writer, path string, force bool) error {
	fmt.Fprintln(w)
	fmt.Fprintln(w, Title("init"))

	choice := choiceOverwrite
	if fileExists(path) && !force {
		final, err := tea.NewProgram(newInitModel(path)).Run()
		if err != nil {
			return err
		}
		choice = final.(initModel).choice
	}

	fmt.Fprintln(w)
	done, err := applyInit(path, choice)
	if err != nil {
		return err
	}
	if done == "" {
		fmt.Fprintln(w, "  "+DimStyle.Render("Config unchanged"))
		return nil
	}
	fmt.Fprintln(w, "  "+OkStyle.Render("✓")+" "+done+" at "+DimStyle.Render(path))

	fmt.Fprintln(w)
	fmt.Fprintln(w, DimStyle.Render("  Next steps:"))
	fmt.Fprintf(w, DimStyle.Render("  1. Set %s or add your bot token to the file")+"\n", config.EnvDiscordToken)
	fmt.Fprintln(w, DimStyle.Render("  2. Point oobabooga.base_url at your text generation server"))
	fmt.Fprintln(w, DimStyle.Render("  3. Run: oobabot invite-url, then oobabot run"))
	fmt.Fprintln(w)
	return nil
}
