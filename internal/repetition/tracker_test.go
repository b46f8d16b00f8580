package repetition

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joebot/oobabot/internal/chat"
)

func sent(id int, body string) chat.Message {
	return chat.Message{ID: strconv.Itoa(id), Body: body}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello", "hello"},
		{"  Hello There \n", "hello there"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func TestThrottleDefaultsToNone(t *testing.T) {
	tr := NewTracker(1)
	assert.Equal(t, "", tr.ThrottleID("c"))
}

func TestThresholdTwo(t *testing.T) {
	tr := NewTracker(2)

	tr.LogMessage("c", sent(101, "I am a bot."))
	assert.Equal(t, "", tr.ThrottleID("c"))
	tr.LogMessage("c", sent(102, "i am a bot. "))
	assert.Equal(t, "", tr.ThrottleID("c"))
	assert.Equal(t, 1, tr.State("c").RepeatCount)

	tr.LogMessage("c", sent(103, "I AM A BOT."))
	assert.Equal(t, 2, tr.State("c").RepeatCount)
	assert.Equal(t, "103", tr.ThrottleID("c"))

	tr.LogMessage("c", sent(104, "something else"))
	st := tr.State("c")
	assert.Equal(t, 0, st.RepeatCount)
	assert.Equal(t, "103", st.ThrottleID)
	assert.Equal(t, "something else", st.LastText)
}

func TestThresholdOne(t *testing.T) {
	tr := NewTracker(1)
	tr.LogMessage("c", sent(1, "hi"))
	assert.Equal(t, "", tr.ThrottleID("c"))
	tr.LogMessage("c", sent(2, "hi"))
	assert.Equal(t, "2", tr.ThrottleID("c"))
	tr.LogMessage("c", sent(3, "hi"))
	assert.Equal(t, "3", tr.ThrottleID("c"))
}

func TestChannelsAreIndependent(t *testing.T) {
	tr := NewTracker(1)
	tr.LogMessage("a", sent(1, "hi"))
	tr.LogMessage("b", sent(2, "hi"))
	assert.Equal(t, "", tr.ThrottleID("a"))
	assert.Equal(t, "", tr.ThrottleID("b"))
}

func TestThrottleOnlyMovesForward(t *testing.T) {
	tr := NewTracker(1)
	tr.LogMessage("c", sent(50, "loop"))
	tr.LogMessage("c", sent(60, "loop"))
	assert.Equal(t, "60", tr.ThrottleID("c"))

	// A late log for an older message must not move the cut backwards.
	tr.LogMessage("c", sent(55, "loop"))
	assert.Equal(t, "60", tr.ThrottleID("c"))
}

func TestHideMessagesBefore(t *testing.T) {
	tr := NewTracker(3)
	tr.LogMessage("c", sent(10, "hello"))
	tr.LogMessage("c", sent(11, "hello"))

	tr.HideMessagesBefore("c", "12")
	st := tr.State("c")
	assert.Equal(t, "12", st.ThrottleID)
	assert.Equal(t, "hello", st.LastText)
	assert.Equal(t, 1, st.RepeatCount)

	tr.HideMessagesBefore("c", "5")
	assert.Equal(t, "5", tr.ThrottleID("c"))
}
