package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/oobabot/internal/bus"
	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/config"
)

const (
	// historyPageSize is the most messages Discord returns per request.
	historyPageSize = 100
	typingInterval  = 8 * time.Second
	maxThreadName   = 100
	// threadArchiveMinutes is one day.
	threadArchiveMinutes = 1440
)

const discordIntents = discordgo.IntentGuilds |
	discordgo.IntentGuildMembers |
	discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// Discord connects the bot to Discord through discordgo.
type Discord struct {
	config   config.DiscordConfig
	aiName   string
	bus      *bus.MessageBus
	session  *discordgo.Session
	commands CommandHandler
	buttons  ButtonHandler

	mu     sync.RWMutex
	selfID string
	runCtx context.Context

	closeOnce sync.Once
	closeErr  error
}

// NewDiscord creates a Discord transport that publishes every message it
// sees to b.
func NewDiscord(cfg config.DiscordConfig, aiName string, b *bus.MessageBus) (*Discord, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord bot token not configured")
	}
	routeDiscordLogs()

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.LogLevel = discordgo.LogWarning
	s.Identify.Intents = discordIntents

	d := &Discord{
		config:  cfg,
		aiName:  aiName,
		bus:     b,
		session: s,
		runCtx:  context.Background(),
	}
	if id, err := UserIDFromToken(cfg.Token); err == nil {
		d.selfID = id
	}
	s.AddHandler(d.onReady)
	s.AddHandler(d.onMessageCreate)
	s.AddHandler(d.onInteraction)
	return d, nil
}

func (d *Discord) Name() string { return "discord" }

// SetCommandHandler routes slash commands to h. Without one, commands
// are not registered.
func (d *Discord) SetCommandHandler(h CommandHandler) { d.commands = h }

// SetButtonHandler routes presses on message buttons to h.
func (d *Discord) SetButtonHandler(h ButtonHandler) { d.buttons = h }

// SelfID is the bot's user ID.
func (d *Discord) SelfID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID
}

// Start connects to the Discord gateway and blocks until ctx is
// cancelled. discordgo reconnects on its own after transient failures.
func (d *Discord) Start(ctx context.Context) error {
	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()

	slog.Info("Connecting to Discord...")
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}
	<-ctx.Done()
	return d.Stop()
}

// Stop disconnects from Discord.
func (d *Discord) Stop() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.session.Close()
	})
	return d.closeErr
}

func (d *Discord) baseContext() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runCtx
}

func (d *Discord) onReady(s *discordgo.Session, r *discordgo.Ready) {
	d.mu.Lock()
	d.selfID = r.User.ID
	d.mu.Unlock()

	slog.Info("Connected to Discord", "user", r.User.Username, "id", r.User.ID, "servers", len(r.Guilds))
	if len(r.Guilds) == 0 {
		slog.Warn("The bot is not in any servers yet, use the invite URL to add it", "url", InviteURL(r.User.ID))
	}
	if d.commands != nil {
		d.registerCommands(s, r.User.ID)
	}
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	msg := d.convert(m.Message)
	d.bus.PublishInbound(d.baseContext(), d.Name(), msg)
}

// convert resolves the channel and names for m.
func (d *Discord) convert(m *discordgo.Message) chat.Message {
	ch := d.channel(m.ChannelID)
	mc := messageContext{
		selfID:  d.SelfID(),
		aiName:  d.aiName,
		channel: ch,
	}
	if ch != nil {
		mc.nsfw = ch.NSFW
		if ch.IsThread() {
			if parent := d.channel(ch.ParentID); parent != nil {
				mc.nsfw = parent.NSFW
			}
		}
	}
	guildID := m.GuildID
	if guildID == "" && ch != nil {
		guildID = ch.GuildID
	}
	if guildID != "" {
		mc.names = d.guildNames(guildID, m.Mentions)
	}
	return convertMessage(m, mc)
}

// channel returns the cached channel, fetching it when the cache
// misses. It returns nil when the channel cannot be read.
func (d *Discord) channel(id string) *discordgo.Channel {
	if id == "" {
		return nil
	}
	if ch, err := d.session.State.Channel(id); err == nil {
		return ch
	}
	ch, err := d.session.Channel(id, discordgo.WithContext(d.baseContext()))
	if err != nil {
		slog.Debug("Could not fetch channel", "channel", id, "err", err)
		return nil
	}
	return ch
}

func (d *Discord) guildNames(guildID string, mentioned []*discordgo.User) nameFunc {
	return func(userID string) (string, bool) {
		if mem, err := d.session.State.Member(guildID, userID); err == nil {
			return displayName(mem.User, mem), true
		}
		for _, u := range mentioned {
			if u.ID == userID {
				return displayName(u, nil), true
			}
		}
		return "", false
	}
}

// History pages backwards through a channel, newest first.
func (d *Discord) History(channelID, beforeID string, limit int) chat.HistoryIterator {
	return &discordHistory{d: d, channelID: channelID, before: beforeID, remaining: limit}
}

type discordHistory struct {
	d         *Discord
	channelID string
	before    string
	remaining int
	page      []*discordgo.Message
	done      bool
}

func (h *discordHistory) Next(ctx context.Context) (chat.Message, error) {
	if len(h.page) == 0 {
		if h.done || h.remaining <= 0 {
			return chat.Message{}, io.EOF
		}
		n := min(h.remaining, historyPageSize)
		page, err := h.d.session.ChannelMessages(h.channelID, n, h.before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return chat.Message{}, fmt.Errorf("read history of %s: %w", h.channelID, err)
		}
		if len(page) < n {
			h.done = true
		}
		if len(page) == 0 {
			return chat.Message{}, io.EOF
		}
		h.page = page
		h.before = page[len(page)-1].ID
	}
	m := h.page[0]
	h.page = h.page[1:]
	h.remaining--
	return h.d.convert(m), nil
}

// Message fetches a single message. Missing messages wrap
// chat.ErrNotFound.
func (d *Discord) Message(ctx context.Context, channelID, messageID string) (chat.Message, error) {
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
			return chat.Message{}, fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
		}
		return chat.Message{}, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return d.convert(m), nil
}

func (d *Discord) messageSend(text string, opts SendOptions, channelID string) *discordgo.MessageSend {
	ms := &discordgo.MessageSend{
		Content: text,
		// Suppressed embeds mark the post as a text reply in history.
		Flags:           discordgo.MessageFlagsSuppressEmbeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{}},
	}
	if opts.MentionUserID != "" {
		ms.AllowedMentions.Users = []string{opts.MentionUserID}
	}
	if opts.Notice {
		ms.Flags = 0
	}
	if opts.Silent {
		ms.Flags |= discordgo.MessageFlagsSuppressNotifications
	}
	if opts.ReplyTo != "" {
		ms.Reference = &discordgo.MessageReference{MessageID: opts.ReplyTo, ChannelID: channelID}
	}
	if len(opts.Buttons) > 0 {
		ms.Components = components(opts.Buttons)
	}
	return ms
}

var buttonStyles = map[ButtonStyle]discordgo.ButtonStyle{
	ButtonPrimary: discordgo.PrimaryButton,
	ButtonSuccess: discordgo.SuccessButton,
	ButtonDanger:  discordgo.DangerButton,
}

// components lays buttons out in a single row.
func components(buttons []Button) []discordgo.MessageComponent {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    buttonStyles[b.Style],
			Disabled: b.Disabled,
			CustomID: b.ID,
		})
	}
	return []discordgo.MessageComponent{row}
}

func (d *Discord) messageEdit(channelID, messageID string, e Edit) *discordgo.MessageEdit {
	me := discordgo.NewMessageEdit(channelID, messageID)
	me.Content = e.Text
	me.AllowedMentions = &discordgo.MessageAllowedMentions{Users: []string{}}
	if e.MentionUserID != "" {
		me.AllowedMentions.Users = []string{e.MentionUserID}
	}
	if e.Image != nil || e.RemoveImage {
		me.Attachments = &[]*discordgo.MessageAttachment{}
	}
	if e.Image != nil {
		me.Files = []*discordgo.File{imageFile(e.Image)}
	}
	if e.Buttons != nil {
		rows := components(e.Buttons)
		me.Components = &rows
	}
	if e.RemoveButtons {
		me.Components = &[]discordgo.MessageComponent{}
	}
	return me
}

func imageFile(png []byte) *discordgo.File {
	return &discordgo.File{
		Name:        "image.png",
		ContentType: "image/png",
		Reader:      bytes.NewReader(png),
	}
}

// Send posts text. Only opts.MentionUserID may be pinged.
func (d *Discord) Send(ctx context.Context, channelID, text string, opts SendOptions) (chat.Message, error) {
	m, err := d.session.ChannelMessageSendComplex(channelID, d.messageSend(text, opts, channelID), discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, fmt.Errorf("send discord message: %w", err)
	}
	return d.convert(m), nil
}

// SendImage posts a PNG with text. Images keep their embeds so history
// can tell them apart from text replies.
func (d *Discord) SendImage(ctx context.Context, channelID string, png []byte, text string, opts SendOptions) (chat.Message, error) {
	ms := d.messageSend(text, opts, channelID)
	ms.Flags &^= discordgo.MessageFlagsSuppressEmbeds
	ms.Files = []*discordgo.File{imageFile(png)}
	m, err := d.session.ChannelMessageSendComplex(channelID, ms, discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, fmt.Errorf("send discord image: %w", err)
	}
	return d.convert(m), nil
}

// Edit changes a message the bot posted. Only e.MentionUserID may be
// pinged by the new text.
func (d *Discord) Edit(ctx context.Context, channelID, messageID string, e Edit) (chat.Message, error) {
	m, err := d.session.ChannelMessageEditComplex(d.messageEdit(channelID, messageID, e), discordgo.WithContext(ctx))
	if err != nil {
		return chat.Message{}, fmt.Errorf("edit discord message %s: %w", messageID, err)
	}
	return d.convert(m), nil
}

// Typing refreshes the typing indicator until stop is called.
func (d *Discord) Typing(ctx context.Context, channelID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := d.session.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil && ctx.Err() == nil {
				slog.Debug("Typing indicator failed", "channel", channelID, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(typingInterval):
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// StartThread opens a public thread from msg when it was posted in a
// plain text channel, and returns the channel to reply in. Authors who
// may not create threads get ErrNoThreadPermission.
func (d *Discord) StartThread(ctx context.Context, msg chat.Message, name string) (string, error) {
	ch := d.channel(msg.ChannelID)
	if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
		return msg.ChannelID, nil
	}

	perms, err := d.session.UserChannelPermissions(msg.AuthorID, msg.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("read permissions: %w", err)
	}
	if perms&discordgo.PermissionCreatePublicThreads == 0 {
		return "", ErrNoThreadPermission
	}

	if utf8.RuneCountInString(name) > maxThreadName {
		name = string([]rune(name)[:maxThreadName])
	}
	thread, err := d.session.MessageThreadStartComplex(msg.ChannelID, msg.ID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("start thread: %w", err)
	}
	slog.Debug("Created response thread", "thread", thread.Name, "id", thread.ID, "parent", ch.Name)
	return thread.ID, nil
}

// latestMessageID is the newest message in a channel, or "" when it is
// empty.
func (d *Discord) latestMessageID(ctx context.Context, channelID string) (string, error) {
	msgs, err := d.session.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].ID, nil
}
