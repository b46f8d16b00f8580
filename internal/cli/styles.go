// Package cli renders the terminal surfaces of oobabot: banners, the
// status view, the interactive console and the config writer.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const Logo = "🤖"

// Version is set by the build.
var Version = "0.3.0"

var (
	Accent = lipgloss.Color("#00D4FF")
	Subtle = lipgloss.Color("#555555")
	Green  = lipgloss.Color("#04B575")
	Yellow = lipgloss.Color("#E5C07B")
	Red    = lipgloss.Color("#FF4444")

	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	BotLabel    = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	UserLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
	NoticeStyle = lipgloss.NewStyle().Italic(true).Foreground(Yellow)
	ErrStyle    = lipgloss.NewStyle().Foreground(Red)
	OkStyle     = lipgloss.NewStyle().Foreground(Green).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(Subtle)
)

func StatusBadge(ok bool) string {
	if ok {
		return OkStyle.Render("✓")
	}
	return DimStyle.Render("✗")
}

// Title renders the "🤖 oobabot <suffix>" heading.
func Title(suffix string) string {
	s := fmt.Sprintf("  %s oobabot", Logo)
	if suffix != "" {
		s += " " + suffix
	}
	return TitleStyle.Render(s)
}

// RenderBanner is shown when the console starts.
func RenderBanner(aiName string) string {
	var sb strings.Builder
	sb.WriteString(Title("v"+Version) + "\n")
	sb.WriteString(DimStyle.Render(fmt.Sprintf("  You are in a private chat with %s.", aiName)) + "\n")
	return sb.String()
}
