package channel

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/oobabot/internal/chat"
)

// IDs are 17-19 digits today; leave room either way.
var mentionPattern = regexp.MustCompile(`<@!?(\d{16,20})>`)

// nameFunc resolves a user ID to a display name.
type nameFunc func(userID string) (string, bool)

// RewriteMentions replaces <@id> tokens with @name. Tokens for users
// name cannot resolve are kept as they are.
func RewriteMentions(body string, name func(userID string) (string, bool)) string {
	return mentionPattern.ReplaceAllStringFunc(body, func(tok string) string {
		id := mentionPattern.FindStringSubmatch(tok)[1]
		n, ok := name(id)
		if !ok {
			return tok
		}
		if strings.Contains(n, " ") {
			n = `"` + n + `"`
		}
		return "@" + n
	})
}

func channelName(ch *discordgo.Channel) string {
	switch {
	case ch == nil:
		return "-Unknown-"
	case ch.IsThread():
		return "thread #" + ch.Name
	case ch.Type == discordgo.ChannelTypeDM:
		return "-DM-"
	case ch.Type == discordgo.ChannelTypeGroupDM:
		return "-GROUP-DM-"
	default:
		return "channel #" + ch.Name
	}
}

func displayName(u *discordgo.User, member *discordgo.Member) string {
	switch {
	case member != nil && member.Nick != "":
		return member.Nick
	case u == nil:
		return ""
	case u.GlobalName != "":
		return u.GlobalName
	default:
		return u.Username
	}
}

// messageContext is what converting a message needs besides the message.
type messageContext struct {
	selfID  string
	aiName  string
	channel *discordgo.Channel
	// nsfw is inherited from the parent for threads.
	nsfw  bool
	names nameFunc
}

func isDM(m *discordgo.Message, ch *discordgo.Channel) bool {
	if ch == nil {
		return m.GuildID == ""
	}
	return ch.Type == discordgo.ChannelTypeDM
}

// convertMessage maps a Discord message to the bot's message value.
// Bodies from humans are flattened to one line; bots are trusted to
// keep their formatting.
func convertMessage(m *discordgo.Message, mc messageContext) chat.Message {
	author := m.Author
	if author == nil {
		author = &discordgo.User{}
	}

	body := m.Content
	if !author.Bot {
		body = Sanitize(body)
	}

	out := chat.Message{
		Kind:        chat.KindChannel,
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: channelName(mc.channel),
		AuthorID:    author.ID,
		AuthorIsBot: author.Bot,
		SentAt:      m.Timestamp,
		NSFW:        mc.nsfw,
	}
	if m.MessageReference != nil {
		out.ReferenceID = m.MessageReference.MessageID
	}

	name := displayName(author, m.Member)
	if isDM(m, mc.channel) {
		out.Kind = chat.KindDirect
		body = RewriteMentions(body, func(id string) (string, bool) {
			return mc.aiName, id == mc.selfID && mc.aiName != ""
		})
	} else {
		for _, u := range m.Mentions {
			out.Mentions = append(out.Mentions, u.ID)
		}
		if mc.names != nil {
			if (m.Member == nil || m.Member.Nick == "") && author.ID != "" {
				if n, ok := mc.names(author.ID); ok {
					name = n
				}
			}
			body = RewriteMentions(body, mc.names)
		}
	}
	out.AuthorName = Sanitize(name)
	out.Body = body

	// Text replies are posted with embeds suppressed; anything else the
	// bot posted is an image or a notice.
	if author.ID != "" && author.ID == mc.selfID && m.Flags&discordgo.MessageFlagsSuppressEmbeds == 0 {
		out.Internal = true
	}
	return out
}
