package channel

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joebot/oobabot/internal/bus"
	"github.com/joebot/oobabot/internal/chat"
)

// ConsoleUserID is the author of messages typed into the console.
const ConsoleUserID = "100000000000000001"

// firstConsoleID keeps console IDs the same width as Discord snowflakes
// so they order the same way.
const firstConsoleID = 200000000000000000

// Console is an in-memory transport. It backs the interactive console
// and stands in for Discord in tests.
type Console struct {
	bus     *bus.MessageBus
	selfID  string
	botName string

	mu       sync.Mutex
	nextID   int64
	channels map[string][]chat.Message // oldest first
	posts    map[string]*consolePost   // bot posts by message ID
	commands CommandHandler
	buttons  ButtonHandler
	now      func() time.Time

	sent chan chat.Message

	// SendErr, when set, is consulted before every send.
	SendErr func(channelID, text string) error
	// DenyThreads makes StartThread fail as if the author lacked
	// permission.
	DenyThreads bool
	// Threads makes StartThread open a new channel per call.
	Threads bool
}

// NewConsole creates a console transport. The bot posts as botName.
func NewConsole(b *bus.MessageBus, botName string) *Console {
	return &Console{
		bus:      b,
		selfID:   "100000000000000000",
		botName:  botName,
		nextID:   firstConsoleID,
		channels: make(map[string][]chat.Message),
		posts:    make(map[string]*consolePost),
		now:      time.Now,
		sent:     make(chan chat.Message, 64),
	}
}

func (c *Console) Name() string   { return "console" }
func (c *Console) SelfID() string { return c.selfID }

// Start blocks until ctx is cancelled.
func (c *Console) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *Console) Stop() error { return nil }

// SetCommandHandler routes Command calls to h.
func (c *Console) SetCommandHandler(h CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = h
}

// SetButtonHandler routes Press calls to h.
func (c *Console) SetButtonHandler(h ButtonHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buttons = h
}

// Sent yields every message the bot posts or edits. An edited message
// keeps its ID. Posts are dropped when nobody keeps up with the channel.
func (c *Console) Sent() <-chan chat.Message { return c.sent }

// Inject records msg as if a user had posted it and publishes it to the
// bus. Missing IDs and timestamps are filled in.
func (c *Console) Inject(ctx context.Context, msg chat.Message) chat.Message {
	msg = c.record(msg)
	if c.bus != nil {
		c.bus.PublishInbound(ctx, c.Name(), msg)
	}
	return msg
}

// Post injects a direct message from the console user.
func (c *Console) Post(ctx context.Context, channelID, userName, text string) chat.Message {
	return c.Inject(ctx, chat.Message{
		Kind:        chat.KindDirect,
		ChannelID:   channelID,
		ChannelName: "-DM-",
		AuthorID:    ConsoleUserID,
		AuthorName:  userName,
		Body:        Sanitize(text),
	})
}

func (c *Console) record(msg chat.Message) chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.ID == "" {
		c.nextID++
		msg.ID = strconv.FormatInt(c.nextID, 10)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = c.now()
	}
	c.channels[msg.ChannelID] = append(c.channels[msg.ChannelID], msg)
	return msg
}

// Messages returns a channel's messages, oldest first.
func (c *Console) Messages(channelID string) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.channels[channelID])
}

// History iterates a snapshot of the channel, newest first.
func (c *Console) History(channelID, beforeID string, limit int) chat.HistoryIterator {
	c.mu.Lock()
	msgs := slices.Clone(c.channels[channelID])
	c.mu.Unlock()

	slices.Reverse(msgs)
	if beforeID != "" {
		msgs = slices.DeleteFunc(msgs, func(m chat.Message) bool {
			return !chat.IDNewer(beforeID, m.ID)
		})
	}
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return chat.SliceHistory(msgs)
}

// Message looks up a message by ID.
func (c *Console) Message(_ context.Context, channelID, messageID string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.channels[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return chat.Message{}, fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
}

// consolePost is what the bot put in a message. The image is shown as
// a placeholder line with its size.
type consolePost struct {
	text    string
	image   []byte
	buttons []Button
}

func (p *consolePost) body() string {
	if p.image == nil {
		return p.text
	}
	return fmt.Sprintf("%s[image: %d bytes]", p.text, len(p.image))
}

func (c *Console) post(ctx context.Context, channelID string, p *consolePost, opts SendOptions, internal bool) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	if c.SendErr != nil {
		if err := c.SendErr(channelID, p.text); err != nil {
			return chat.Message{}, err
		}
	}
	kind := chat.KindChannel
	if prev := c.Messages(channelID); len(prev) > 0 {
		kind = prev[0].Kind
	}
	p.buttons = slices.Clone(opts.Buttons)
	m := c.record(chat.Message{
		Kind:        kind,
		ChannelID:   channelID,
		AuthorID:    c.selfID,
		AuthorName:  c.botName,
		AuthorIsBot: true,
		Body:        p.body(),
		ReferenceID: opts.ReplyTo,
		Internal:    internal,
	})
	c.mu.Lock()
	c.posts[m.ID] = p
	c.mu.Unlock()
	c.publish(m)
	return m, nil
}

func (c *Console) publish(m chat.Message) {
	select {
	case c.sent <- m:
	default:
	}
}

func (c *Console) Send(ctx context.Context, channelID, text string, opts SendOptions) (chat.Message, error) {
	return c.post(ctx, channelID, &consolePost{text: text}, opts, opts.Notice)
}

// SendImage records a placeholder line in place of the picture.
func (c *Console) SendImage(ctx context.Context, channelID string, png []byte, text string, opts SendOptions) (chat.Message, error) {
	return c.post(ctx, channelID, &consolePost{text: text, image: png}, opts, true)
}

// Edit changes a bot post in place and publishes the new version.
func (c *Console) Edit(ctx context.Context, channelID, messageID string, e Edit) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	if c.SendErr != nil && e.Text != nil {
		if err := c.SendErr(channelID, *e.Text); err != nil {
			return chat.Message{}, err
		}
	}

	c.mu.Lock()
	p, ok := c.posts[messageID]
	i := slices.IndexFunc(c.channels[channelID], func(m chat.Message) bool { return m.ID == messageID })
	if !ok || i < 0 {
		c.mu.Unlock()
		return chat.Message{}, fmt.Errorf("edit message %s: %w", messageID, chat.ErrNotFound)
	}
	if e.Text != nil {
		p.text = *e.Text
	}
	if e.Image != nil {
		p.image = e.Image
	}
	if e.RemoveImage {
		p.image = nil
	}
	if e.Buttons != nil {
		p.buttons = slices.Clone(e.Buttons)
	}
	if e.RemoveButtons {
		p.buttons = nil
	}
	c.channels[channelID][i].Body = p.body()
	m := c.channels[channelID][i]
	c.mu.Unlock()

	c.publish(m)
	return m, nil
}

// Buttons returns the buttons currently shown under a bot post.
func (c *Console) Buttons(messageID string) []Button {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[messageID]; ok {
		return slices.Clone(p.buttons)
	}
	return nil
}

// Press presses a button as press.UserID, or as the console user when
// that is empty. Missing and disabled buttons do nothing.
func (c *Console) Press(ctx context.Context, press ButtonPress) CommandReply {
	if press.UserID == "" {
		press.UserID = ConsoleUserID
		press.UserName = "you"
	}
	c.mu.Lock()
	h := c.buttons
	var live bool
	if p, ok := c.posts[press.MessageID]; ok {
		live = slices.ContainsFunc(p.buttons, func(b Button) bool {
			return b.ID == press.ButtonID && !b.Disabled
		})
	}
	c.mu.Unlock()

	if h == nil || !live {
		return CommandReply{Text: "That button is no longer available.", Private: true}
	}
	return h.HandleButton(ctx, press)
}

// PressLabel presses the button labelled label, ignoring case, on the
// newest post in channelID that shows one.
func (c *Console) PressLabel(ctx context.Context, channelID, label string) CommandReply {
	c.mu.Lock()
	var press ButtonPress
	msgs := c.channels[channelID]
	for i := len(msgs) - 1; i >= 0 && press.ButtonID == ""; i-- {
		p, ok := c.posts[msgs[i].ID]
		if !ok {
			continue
		}
		for _, b := range p.buttons {
			if strings.EqualFold(b.Label, label) {
				press = ButtonPress{ButtonID: b.ID, ChannelID: channelID, MessageID: msgs[i].ID}
				break
			}
		}
	}
	c.mu.Unlock()

	if press.ButtonID == "" {
		return CommandReply{Text: fmt.Sprintf("No %q button to press.", label), Private: true}
	}
	return c.Press(ctx, press)
}

func (c *Console) Typing(context.Context, string) (stop func()) { return func() {} }

// StartThread opens a new channel when Threads is set, and answers in
// place otherwise.
func (c *Console) StartThread(_ context.Context, msg chat.Message, _ string) (string, error) {
	if c.DenyThreads {
		return "", ErrNoThreadPermission
	}
	if !c.Threads || msg.Kind != chat.KindChannel {
		return msg.ChannelID, nil
	}
	id := "thread-" + msg.ID
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[id]; !ok {
		c.channels[id] = nil
	}
	return id, nil
}

// Command runs a slash command as the console user.
func (c *Console) Command(ctx context.Context, channelID, name, text string) CommandReply {
	c.mu.Lock()
	h := c.commands
	var latest string
	if msgs := c.channels[channelID]; len(msgs) > 0 {
		latest = msgs[len(msgs)-1].ID
	}
	c.mu.Unlock()

	if h == nil {
		return CommandReply{Text: "commands are not available", Private: true}
	}
	return h.HandleCommand(ctx, Command{
		Name:            name,
		ChannelID:       channelID,
		UserID:          ConsoleUserID,
		UserName:        "you",
		Text:            text,
		LatestMessageID: latest,
		IssuedAt:        c.now(),
	})
}
