// Package chat defines the message values exchanged between transports
// and the response pipeline.
package chat

import (
	"slices"
	"time"
)

// Kind distinguishes the two message variants.
type Kind int

const (
	// KindDirect is a private message between one user and the bot.
	KindDirect Kind = iota + 1
	// KindChannel is a message posted in a guild channel or thread.
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Message is an immutable chat message as seen by the bot.
type Message struct {
	Kind        Kind
	ID          string
	ChannelID   string
	ChannelName string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Body        string
	SentAt      time.Time
	Mentions    []string
	ReferenceID string

	// NSFW is set for age-restricted channels.
	NSFW bool
	// Internal marks bot-posted messages that are not conversation,
	// such as generated images.
	Internal bool
}

// IsDirect reports whether m is a direct message.
func (m Message) IsDirect() bool { return m.Kind == KindDirect }

// IsChannel reports whether m was posted in a channel.
func (m Message) IsChannel() bool { return m.Kind == KindChannel }

// HasMentions reports whether a channel message mentions anyone.
// Direct messages never carry mentions.
func (m Message) HasMentions() bool {
	return m.Kind == KindChannel && len(m.Mentions) > 0
}

// Mentioned reports whether a channel message mentions userID.
func (m Message) Mentioned(userID string) bool {
	if m.Kind != KindChannel || userID == "" {
		return false
	}
	return slices.Contains(m.Mentions, userID)
}
