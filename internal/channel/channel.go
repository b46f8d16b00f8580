// Package channel connects the bot to chat platforms.
package channel

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/joebot/oobabot/internal/chat"
)

// ErrNoThreadPermission is returned by StartThread when the author of
// the message may not create threads.
var ErrNoThreadPermission = errors.New("author may not create threads")

// SendOptions controls how a message is posted.
type SendOptions struct {
	// ReplyTo references a message in the same channel.
	ReplyTo string
	// MentionUserID is the only user the message may ping. Empty means
	// nobody.
	MentionUserID string
	// Notice marks bot posts that are not part of the conversation,
	// such as error notices. They are left out of history.
	Notice bool
	// Silent posts without notifying anyone.
	Silent bool
	// Buttons are shown under the message.
	Buttons []Button
}

// ButtonStyle is the colour of a Button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSuccess
	ButtonDanger
)

// Button is a control attached to a bot post. Pressing it calls the
// transport's ButtonHandler with ID.
type Button struct {
	ID       string
	Label    string
	Style    ButtonStyle
	Disabled bool
}

// Edit changes a bot post. Zero fields leave that part alone.
type Edit struct {
	// Text replaces the message text when not nil.
	Text *string
	// MentionUserID is the only user the new text may ping.
	MentionUserID string
	// Image replaces the attached image when not nil.
	Image       []byte
	RemoveImage bool
	// Buttons replace the buttons when not nil.
	Buttons       []Button
	RemoveButtons bool
}

// Transport is the interface for chat platform integrations.
type Transport interface {
	Name() string
	// Start connects and blocks until ctx is cancelled or the
	// connection fails for good.
	Start(ctx context.Context) error
	Stop() error
	// SelfID is the bot's own user ID, known once Start has connected.
	SelfID() string

	// History iterates a channel newest first, starting before beforeID
	// or at the latest message when beforeID is empty.
	History(channelID, beforeID string, limit int) chat.HistoryIterator
	// Message fetches a single message.
	Message(ctx context.Context, channelID, messageID string) (chat.Message, error)

	Send(ctx context.Context, channelID, text string, opts SendOptions) (chat.Message, error)
	SendImage(ctx context.Context, channelID string, png []byte, text string, opts SendOptions) (chat.Message, error)
	// Edit changes a message the bot posted and returns it as it now
	// reads.
	Edit(ctx context.Context, channelID, messageID string, e Edit) (chat.Message, error)
	// Typing shows a typing indicator until stop is called.
	Typing(ctx context.Context, channelID string) (stop func())
}

// ThreadStarter is implemented by transports that can open a thread
// from a message.
type ThreadStarter interface {
	// StartThread returns the channel ID of the new thread.
	StartThread(ctx context.Context, msg chat.Message, name string) (string, error)
}

// Command is a slash command issued by a user.
type Command struct {
	Name      string
	ChannelID string
	UserID    string
	UserName  string
	// Text is the command argument, if any.
	Text string
	// LatestMessageID is the newest message in the channel when the
	// command was issued.
	LatestMessageID string
	// PlainChannel is true for a guild text channel outside a thread.
	PlainChannel bool
	IssuedAt     time.Time
}

// CommandReply is posted back to the user who issued a command.
type CommandReply struct {
	Text string
	// Private replies are only visible to the issuing user.
	Private bool
}

// CommandHandler answers slash commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) CommandReply
}

// ButtonPress is a user pressing a Button on a bot post.
type ButtonPress struct {
	ButtonID  string
	ChannelID string
	MessageID string
	UserID    string
	UserName  string
}

// ButtonHandler answers button presses. A reply with empty text posts
// nothing.
type ButtonHandler interface {
	HandleButton(ctx context.Context, press ButtonPress) CommandReply
}

// IsAllowed checks if a sender is in the allow list.
// Empty allow list means everyone is allowed.
func IsAllowed(senderID string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	return slices.Contains(allowList, senderID)
}
