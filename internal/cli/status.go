package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joebot/oobabot/internal/config"
)

// RunStatus displays the current configuration status with styled output.
func RunStatus(w io.Writer, cfg *config.Config, cfgPath string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, Title("Status"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-14s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Fprintf(w, "  %-14s %s\n", "AI name", cfg.Persona.AIName)
	fmt.Fprintf(w, "  %-14s %s\n", "Wakewords", strings.Join(cfg.Persona.WakeWords, ", "))
	persona := cfg.Persona.PersonaFile
	if persona == "" && cfg.Persona.Persona != "" {
		persona = "inline"
	}
	fmt.Fprintf(w, "  %-14s %s  %s\n", "Persona", StatusBadge(persona != ""), DimStyle.Render(persona))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+BoldStyle.Render("Discord"))
	fmt.Fprintf(w, "    %s  Token\n", StatusBadge(cfg.Discord.Token != ""))
	fmt.Fprintf(w, "    %s  Reply in thread\n", StatusBadge(cfg.Discord.ReplyInThread))
	fmt.Fprintf(w, "    %s  Direct messages\n", StatusBadge(!cfg.Discord.IgnoreDMs))
	fmt.Fprintf(w, "    %s  Split responses\n", StatusBadge(!cfg.Discord.DontSplitResponses))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+BoldStyle.Render("Services"))
	fmt.Fprintf(w, "    %s  Text generation %s\n", StatusBadge(cfg.Oobabooga.BaseURL != ""),
		DimStyle.Render(cfg.Oobabooga.API+" "+cfg.Oobabooga.BaseURL))
	fmt.Fprintf(w, "    %s  Stable Diffusion %s\n", StatusBadge(cfg.StableDiffusion.URL != ""),
		DimStyle.Render(cfg.StableDiffusion.URL))
	metrics := ""
	if cfg.Metrics.Enabled {
		metrics = cfg.Metrics.Listen
	}
	fmt.Fprintf(w, "    %s  Metrics %s\n", StatusBadge(cfg.Metrics.Enabled), DimStyle.Render(metrics))
	fmt.Fprintln(w)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
