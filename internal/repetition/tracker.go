// Package repetition detects the bot repeating itself in a channel and
// tracks where history should be cut to break the loop.
package repetition

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/joebot/oobabot/internal/chat"
)

// DefaultThreshold is the number of consecutive repeats tolerated before
// history is cut.
const DefaultThreshold = 1

// State is the repetition record for one channel.
type State struct {
	LastText    string
	ThrottleID  string
	RepeatCount int
}

// Tracker watches the bot's own messages per channel. It is safe for
// concurrent use.
type Tracker struct {
	threshold int

	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates a Tracker. A threshold below 1 uses DefaultThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		threshold: threshold,
		states:    make(map[string]State),
	}
}

// Normalize returns the canonical form used to compare messages.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// LogMessage records a message the bot sent in channelID. Messages must
// be logged in the order they were sent.
func (t *Tracker) LogMessage(channelID string, sent chat.Message) {
	text := Normalize(sent.Body)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[channelID]
	if text == st.LastText {
		st.RepeatCount++
	} else {
		st.RepeatCount = 0
	}
	st.LastText = text

	if st.RepeatCount >= t.threshold && chat.IDNewer(sent.ID, st.ThrottleID) {
		slog.Warn("Bot is repeating itself, hiding earlier history",
			"channel", channelID, "repeats", st.RepeatCount, "message", sent.ID)
		st.ThrottleID = sent.ID
	}
	t.states[channelID] = st
}

// ThrottleID returns the message at which history reading stops for
// channelID, or "" when history is not cut.
func (t *Tracker) ThrottleID(channelID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[channelID].ThrottleID
}

// HideMessagesBefore cuts history at messageID regardless of repetition.
func (t *Tracker) HideMessagesBefore(channelID, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[channelID]
	st.ThrottleID = messageID
	t.states[channelID] = st
}

// State returns a copy of the record for channelID.
func (t *Tracker) State(channelID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[channelID]
}
