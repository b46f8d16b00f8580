// Package prompt turns channel history into a bounded prompt for the
// inference server.
package prompt

import "unicode/utf8"

// Character estimates used in place of a real tokenizer.
const (
	CharsPerToken              = 3
	CharsPerHistoryLine        = 30
	CharsPerHistoryLineUnsplit = 180
)

// Budget is the character allowance for history inside a prompt.
type Budget struct {
	TokenSpace          int
	CharsPerToken       int
	HistoryLines        int
	CharsPerHistoryLine int
	MaxHistoryChars     int
}

// NewBudget derives the history allowance from the token space and the
// length of the prompt rendered without history.
func NewBudget(tokenSpace, historyLines int, dontSplitResponses bool, emptyPrompt string) Budget {
	perLine := CharsPerHistoryLine
	if dontSplitResponses {
		perLine = CharsPerHistoryLineUnsplit
	}
	return Budget{
		TokenSpace:          tokenSpace,
		CharsPerToken:       CharsPerToken,
		HistoryLines:        historyLines,
		CharsPerHistoryLine: perLine,
		MaxHistoryChars:     tokenSpace*CharsPerToken - utf8.RuneCountInString(emptyPrompt),
	}
}

// Required is the estimated space needed for the requested history.
func (b Budget) Required() int {
	return b.HistoryLines * b.CharsPerHistoryLine
}

// UnderProvisioned reports whether the requested history is unlikely
// to fit.
func (b Budget) UnderProvisioned() bool {
	return b.MaxHistoryChars < b.Required()
}
