package bot

import (
	"log/slog"
	"strings"
)

// immersionFilter drops generated lines that would break the illusion
// of a chat participant: the prompt's own cue line, the model starting
// to write as another speaker, and stop markers.
type immersionFilter struct {
	cueLine     string
	stopMarkers []string
}

// apply returns the text to post and whether the response must end
// after it.
func (f immersionFilter) apply(text string) (string, bool) {
	var kept []string
	prev := ""
	abort := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if f.cueLine != "" && trimmed == f.cueLine {
			slog.Warn("Filtered out cue line from response, continuing", "line", line)
			continue
		}
		if strings.HasSuffix(trimmed, " says:") {
			slog.Warn("Filtered out line from response, aborting", "line", line)
			abort = true
			break
		}
		if i := f.markerIndex(line); i >= 0 {
			slog.Warn("Filtered out stop marker from response, aborting", "removed", line[i:])
			if keep := line[:i]; strings.TrimSpace(keep) != "" {
				kept = append(kept, keep)
			}
			abort = true
			break
		}
		if trimmed == "" && prev == "" {
			continue
		}
		kept = append(kept, line)
		prev = trimmed
	}

	out := strings.Join(kept, "\n")
	if strings.TrimSpace(out) == "" {
		out = ""
	}
	return out, abort
}

// markerIndex is the position of the earliest stop marker in line, or -1.
func (f immersionFilter) markerIndex(line string) int {
	first := -1
	for _, m := range f.stopMarkers {
		if m == "" {
			continue
		}
		if i := strings.Index(line, m); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}
