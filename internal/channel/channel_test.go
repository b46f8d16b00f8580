package channel

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/oobabot/internal/bus"
	"github.com/joebot/oobabot/internal/chat"
)

func TestIsAllowed(t *testing.T) {
	assert.True(t, IsAllowed("1", nil))
	assert.True(t, IsAllowed("1", []string{"2", "1"}))
	assert.False(t, IsAllowed("3", []string{"2", "1"}))
}

func TestUserIDFromToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"no padding needed", "MTIzNDU2Nzg5MDEyMzQ1Njc4.GaBcDe.secret", "123456789012345678", false},
		{"padding stripped", "MTIzNDU2Nzg5MDEyMzQ1Njc4OQ.GaBcDe.secret", "1234567890123456789", false},
		{"bot prefix", "Bot OTg3NjU0MzIxMDk4NzY1NDM.x.y", "98765432109876543", false},
		{"empty", "", "", true},
		{"not base64", "!!!.x.y", "", true},
		{"not numeric", "aGVsbG8.x.y", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInviteURL(t *testing.T) {
	assert.Equal(t,
		"https://discord.com/api/oauth2/authorize?client_id=123&permissions=309304855616&scope=bot",
		InviteURL("123"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b c d", Sanitize("a\nb\tc\rd"))
}

func TestRewriteMentions(t *testing.T) {
	names := map[string]string{
		"1111111111111111111": "alice",
		"2222222222222222222": "Bob Smith",
	}
	lookup := func(id string) (string, bool) {
		n, ok := names[id]
		return n, ok
	}
	got := RewriteMentions("hi <@1111111111111111111> and <@!2222222222222222222>, not <@3333333333333333333> or <@12>", lookup)
	assert.Equal(t, `hi @alice and @"Bob Smith", not <@3333333333333333333> or <@12>`, got)
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "-Unknown-", channelName(nil))
	assert.Equal(t, "channel #general", channelName(&discordgo.Channel{Type: discordgo.ChannelTypeGuildText, Name: "general"}))
	assert.Equal(t, "thread #chat", channelName(&discordgo.Channel{Type: discordgo.ChannelTypeGuildPublicThread, Name: "chat"}))
	assert.Equal(t, "-DM-", channelName(&discordgo.Channel{Type: discordgo.ChannelTypeDM}))
	assert.Equal(t, "-GROUP-DM-", channelName(&discordgo.Channel{Type: discordgo.ChannelTypeGroupDM}))
}

const (
	selfID  = "9999999999999999999"
	aliceID = "1111111111111111111"
)

func TestConvertGuildMessage(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "5000000000000000000",
		ChannelID: "42",
		GuildID:   "7",
		Content:   "hey <@9999999999999999999>\nwhat's up",
		Timestamp: sent,
		Author:    &discordgo.User{ID: aliceID, Username: "alice_99", GlobalName: "Alice"},
		Member:    &discordgo.Member{Nick: "Al\tice"},
		Mentions:  []*discordgo.User{{ID: selfID, Username: "oobabot"}},
		MessageReference: &discordgo.MessageReference{
			MessageID: "4000000000000000000",
		},
	}
	ch := &discordgo.Channel{ID: "42", Type: discordgo.ChannelTypeGuildText, Name: "general", NSFW: true}
	names := func(id string) (string, bool) {
		if id == selfID {
			return "Rosie Bot", true
		}
		return "", false
	}

	got := convertMessage(m, messageContext{selfID: selfID, aiName: "Rosie", channel: ch, nsfw: true, names: names})
	assert.Equal(t, chat.Message{
		Kind:        chat.KindChannel,
		ID:          "5000000000000000000",
		ChannelID:   "42",
		ChannelName: "channel #general",
		AuthorID:    aliceID,
		AuthorName:  "Al ice",
		Body:        `hey @"Rosie Bot" what's up`,
		SentAt:      sent,
		Mentions:    []string{selfID},
		ReferenceID: "4000000000000000000",
		NSFW:        true,
	}, got)
	assert.True(t, got.Mentioned(selfID))
}

func TestConvertAuthorNameFallbacks(t *testing.T) {
	ch := &discordgo.Channel{Type: discordgo.ChannelTypeGuildText, Name: "general"}
	m := &discordgo.Message{GuildID: "7", Author: &discordgo.User{ID: aliceID, Username: "alice_99", GlobalName: "Alice"}}
	assert.Equal(t, "Alice", convertMessage(m, messageContext{channel: ch}).AuthorName)

	m.Author.GlobalName = ""
	assert.Equal(t, "alice_99", convertMessage(m, messageContext{channel: ch}).AuthorName)

	names := func(string) (string, bool) { return "Server Nick", true }
	assert.Equal(t, "Server Nick", convertMessage(m, messageContext{channel: ch, names: names}).AuthorName)
}

func TestConvertDirectMessage(t *testing.T) {
	m := &discordgo.Message{
		ID:       "5",
		Content:  "<@9999999999999999999> hi <@1111111111111111111>",
		Author:   &discordgo.User{ID: aliceID, Username: "alice"},
		Mentions: []*discordgo.User{{ID: selfID}},
	}
	ch := &discordgo.Channel{Type: discordgo.ChannelTypeDM}
	got := convertMessage(m, messageContext{selfID: selfID, aiName: "Rosie", channel: ch})
	assert.Equal(t, chat.KindDirect, got.Kind)
	assert.Equal(t, "-DM-", got.ChannelName)
	assert.Equal(t, "@Rosie hi <@1111111111111111111>", got.Body)
	assert.Empty(t, got.Mentions)

	// without a channel, a missing guild means a DM
	got = convertMessage(m, messageContext{selfID: selfID, aiName: "Rosie"})
	assert.Equal(t, chat.KindDirect, got.Kind)
}

func TestConvertBotKeepsFormatting(t *testing.T) {
	ch := &discordgo.Channel{Type: discordgo.ChannelTypeGuildText}
	m := &discordgo.Message{
		GuildID: "7",
		Content: "line one\nline two",
		Author:  &discordgo.User{ID: selfID, Username: "oobabot", Bot: true},
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
	}
	got := convertMessage(m, messageContext{selfID: selfID, channel: ch})
	assert.Equal(t, "line one\nline two", got.Body)
	assert.True(t, got.AuthorIsBot)
	assert.False(t, got.Internal)

	m.Flags = 0
	assert.True(t, convertMessage(m, messageContext{selfID: selfID, channel: ch}).Internal)
}

func TestConsoleHistoryAndLookup(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	ctx := context.Background()
	a := c.Post(ctx, "dm", "you", "first")
	b := c.Post(ctx, "dm", "you", "second\nline")
	sent, err := c.Send(ctx, "dm", "reply", SendOptions{ReplyTo: b.ID})
	require.NoError(t, err)

	assert.Equal(t, "second line", b.Body)
	assert.True(t, chat.IDNewer(b.ID, a.ID))
	assert.Equal(t, chat.KindDirect, sent.Kind)
	assert.Equal(t, b.ID, sent.ReferenceID)
	assert.Equal(t, c.SelfID(), sent.AuthorID)

	msgs, err := chat.CollectHistory(ctx, c.History("dm", "", 10))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{sent.ID, b.ID, a.ID}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	msgs, err = chat.CollectHistory(ctx, c.History("dm", sent.ID, 1))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, b.ID, msgs[0].ID)

	got, err := c.Message(ctx, "dm", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Body)

	_, err = c.Message(ctx, "dm", "404")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	select {
	case m := <-c.Sent():
		assert.Equal(t, "reply", m.Body)
	default:
		t.Fatal("sent message was not announced")
	}
}

func TestConsolePublishesToBus(t *testing.T) {
	b := bus.NewMessageBus()
	c := NewConsole(b, "oobabot")
	c.Post(context.Background(), "dm", "you", "hello")

	in := <-b.Inbound
	assert.Equal(t, "console", in.Transport)
	assert.Equal(t, "hello", in.Message.Body)
	assert.Equal(t, "console:dm", in.SessionKey())
}

func TestConsoleSendFailure(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	boom := errors.New("boom")
	c.SendErr = func(string, string) error { return boom }
	_, err := c.Send(context.Background(), "dm", "x", SendOptions{})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.Messages("dm"))
}

func TestConsoleThreads(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	ctx := context.Background()
	msg := c.Inject(ctx, chat.Message{Kind: chat.KindChannel, ChannelID: "general", AuthorID: aliceID, Body: "hi"})

	id, err := c.StartThread(ctx, msg, "x")
	require.NoError(t, err)
	assert.Equal(t, "general", id)

	c.Threads = true
	id, err = c.StartThread(ctx, msg, "x")
	require.NoError(t, err)
	assert.Equal(t, "thread-"+msg.ID, id)
	_, err = c.History(id, "", 5).Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	c.DenyThreads = true
	_, err = c.StartThread(ctx, msg, "x")
	assert.ErrorIs(t, err, ErrNoThreadPermission)
}

type recordingHandler struct{ got Command }

func (h *recordingHandler) HandleCommand(_ context.Context, cmd Command) CommandReply {
	h.got = cmd
	return CommandReply{Text: "ok:" + cmd.Name}
}

func TestConsoleCommand(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	ctx := context.Background()
	assert.True(t, c.Command(ctx, "dm", CommandStop, "").Private)

	h := &recordingHandler{}
	c.SetCommandHandler(h)
	last := c.Post(ctx, "dm", "you", "hello")
	reply := c.Command(ctx, "dm", CommandSay, "words")
	assert.Equal(t, "ok:say", reply.Text)
	assert.Equal(t, "words", h.got.Text)
	assert.Equal(t, last.ID, h.got.LatestMessageID)
	assert.Equal(t, ConsoleUserID, h.got.UserID)
}

func TestCommandDefinitions(t *testing.T) {
	defs := commandDefinitions("Rosie")
	require.Len(t, defs, 3)
	assert.Equal(t, CommandLobotomize, defs[0].Name)
	assert.Contains(t, defs[0].Description, "Rosie's memory")
	require.Len(t, defs[1].Options, 1)
	assert.True(t, defs[1].Options[0].Required)
	assert.Equal(t, CommandStop, defs[2].Name)
}

func TestConsoleEdit(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	ctx := context.Background()
	c.Post(ctx, "dm", "you", "draw me a cat")
	img, err := c.SendImage(ctx, "dm", []byte("png"), "like this?\n", SendOptions{
		Buttons: []Button{{ID: "accept", Label: "Accept"}},
	})
	require.NoError(t, err)
	<-c.Sent()

	text := "streamed"
	edited, err := c.Edit(ctx, "dm", img.ID, Edit{Text: &text, Image: []byte("bigger")})
	require.NoError(t, err)
	assert.Equal(t, img.ID, edited.ID)
	assert.Equal(t, "streamed[image: 6 bytes]", edited.Body)
	assert.True(t, edited.Internal)
	assert.Equal(t, edited, <-c.Sent())

	edited, err = c.Edit(ctx, "dm", img.ID, Edit{RemoveImage: true, RemoveButtons: true})
	require.NoError(t, err)
	assert.Equal(t, "streamed", edited.Body)
	assert.Empty(t, c.Buttons(img.ID))
	assert.Equal(t, "streamed", c.Messages("dm")[1].Body)

	user := c.Messages("dm")[0]
	_, err = c.Edit(ctx, "dm", user.ID, Edit{Text: &text})
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

type pressRecorder struct{ got []ButtonPress }

func (h *pressRecorder) HandleButton(_ context.Context, p ButtonPress) CommandReply {
	h.got = append(h.got, p)
	return CommandReply{}
}

func TestConsolePress(t *testing.T) {
	c := NewConsole(nil, "oobabot")
	ctx := context.Background()
	h := &pressRecorder{}
	c.SetButtonHandler(h)

	buttons := []Button{
		{ID: "retry", Label: "Try Again"},
		{ID: "off", Label: "Drawing..", Disabled: true},
	}
	old, err := c.Send(ctx, "dm", "old", SendOptions{Buttons: buttons})
	require.NoError(t, err)
	latest, err := c.Send(ctx, "dm", "new", SendOptions{Buttons: buttons})
	require.NoError(t, err)
	_, err = c.Send(ctx, "dm", "plain", SendOptions{})
	require.NoError(t, err)

	assert.Empty(t, c.PressLabel(ctx, "dm", "try again").Text)
	require.Len(t, h.got, 1)
	assert.Equal(t, ButtonPress{
		ButtonID:  "retry",
		ChannelID: "dm",
		MessageID: latest.ID,
		UserID:    ConsoleUserID,
		UserName:  "you",
	}, h.got[0])

	c.Press(ctx, ButtonPress{ButtonID: "retry", ChannelID: "dm", MessageID: old.ID, UserID: aliceID, UserName: "alice"})
	require.Len(t, h.got, 2)
	assert.Equal(t, aliceID, h.got[1].UserID)

	assert.True(t, c.PressLabel(ctx, "dm", "Drawing..").Private)
	assert.True(t, c.PressLabel(ctx, "dm", "Accept").Private)
	assert.Len(t, h.got, 2)
}

func TestDiscordMessageSend(t *testing.T) {
	d := &Discord{}
	ms := d.messageSend("hi", SendOptions{
		ReplyTo:       "42",
		MentionUserID: aliceID,
		Silent:        true,
		Buttons:       []Button{{ID: "accept", Label: "Accept", Style: ButtonSuccess}},
	}, "chan")

	assert.Equal(t, discordgo.MessageFlagsSuppressEmbeds|discordgo.MessageFlagsSuppressNotifications, ms.Flags)
	assert.Equal(t, []string{aliceID}, ms.AllowedMentions.Users)
	assert.Equal(t, "42", ms.Reference.MessageID)
	require.Len(t, ms.Components, 1)
	row := ms.Components[0].(discordgo.ActionsRow)
	require.Len(t, row.Components, 1)
	assert.Equal(t, discordgo.Button{Label: "Accept", Style: discordgo.SuccessButton, CustomID: "accept"}, row.Components[0])

	ms = d.messageSend("oops", SendOptions{Notice: true}, "chan")
	assert.Zero(t, ms.Flags)
	assert.Nil(t, ms.Reference)
	assert.Empty(t, ms.AllowedMentions.Users)
	assert.Empty(t, ms.Components)
}

func TestDiscordMessageEdit(t *testing.T) {
	d := &Discord{}
	text := "streamed so far"
	me := d.messageEdit("chan", "7", Edit{Text: &text, MentionUserID: aliceID})
	assert.Equal(t, "chan", me.Channel)
	assert.Equal(t, "7", me.ID)
	assert.Equal(t, &text, me.Content)
	assert.Equal(t, []string{aliceID}, me.AllowedMentions.Users)
	assert.Nil(t, me.Attachments)
	assert.Nil(t, me.Components)

	me = d.messageEdit("chan", "7", Edit{Image: []byte("png")})
	assert.Nil(t, me.Content)
	require.NotNil(t, me.Attachments)
	assert.Empty(t, *me.Attachments)
	require.Len(t, me.Files, 1)
	assert.Equal(t, "image.png", me.Files[0].Name)

	empty := ""
	me = d.messageEdit("chan", "7", Edit{Text: &empty, RemoveImage: true, RemoveButtons: true})
	assert.Equal(t, "", *me.Content)
	require.NotNil(t, me.Attachments)
	assert.Empty(t, *me.Attachments)
	require.NotNil(t, me.Components)
	assert.Empty(t, *me.Components)
	assert.Empty(t, me.Files)
}
