package bus

import (
	"time"

	"github.com/joebot/oobabot/internal/chat"
)

// InboundMessage is a message received from a transport.
type InboundMessage struct {
	Transport string
	Message   chat.Message
	Received  time.Time
}

// SessionKey identifies the conversation the message belongs to.
// Messages sharing a key are handled one at a time.
func (m *InboundMessage) SessionKey() string {
	return m.Transport + ":" + m.Message.ChannelID
}
