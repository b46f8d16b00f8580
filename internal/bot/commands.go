package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/templates"
)

// HandleCommand answers the bot's slash commands.
func (b *Bot) HandleCommand(ctx context.Context, cmd channel.Command) channel.CommandReply {
	if !channel.IsAllowed(cmd.UserID, b.allowFrom) {
		slog.Debug("Ignoring command from sender not in allow list", "command", cmd.Name, "sender", cmd.UserID)
		return channel.CommandReply{Text: "You are not allowed to use this command.", Private: true}
	}
	switch cmd.Name {
	case channel.CommandLobotomize:
		return b.lobotomize(cmd)
	case channel.CommandSay:
		return b.say(cmd)
	case channel.CommandStop:
		return b.stop(ctx, cmd)
	default:
		slog.Warn("Unknown command", "command", cmd.Name)
		return channel.CommandReply{Text: fmt.Sprintf("Unknown command %q.", cmd.Name), Private: true}
	}
}

// lobotomize hides everything up to the latest message in the channel
// from future prompts.
func (b *Bot) lobotomize(cmd channel.Command) channel.CommandReply {
	slog.Info("/lobotomize called", "user", cmd.UserName, "channel", cmd.ChannelID)
	if cmd.LatestMessageID != "" {
		b.tracker.HideMessagesBefore(cmd.ChannelID, cmd.LatestMessageID)
	}
	return channel.CommandReply{Text: b.templates.Format(templates.CommandLobotomizeResponse, map[templates.Token]string{
		templates.AIName:   b.aiName,
		templates.UserName: cmd.UserName,
	})}
}

// say posts text as the bot and starts watching the channel for
// follow-ups.
func (b *Bot) say(cmd channel.Command) channel.CommandReply {
	if b.replyInThread && cmd.PlainChannel {
		return channel.CommandReply{Text: fmt.Sprintf("%s may only speak in threads", b.aiName), Private: true}
	}
	if cmd.Text == "" {
		return channel.CommandReply{Text: "Nothing to say.", Private: true}
	}
	slog.Debug("/say called", "user", cmd.UserName, "channel", cmd.ChannelID)
	b.engine.LogMention(cmd.ChannelID, cmd.IssuedAt)
	return channel.CommandReply{Text: cmd.Text}
}

func (b *Bot) stop(ctx context.Context, cmd channel.Command) channel.CommandReply {
	slog.Info("/stop called", "user", cmd.UserName, "channel", cmd.ChannelID)
	if err := b.provider.Stop(ctx); err != nil {
		slog.Warn("Could not stop generation", "provider", b.provider.Name(), "err", err)
		return channel.CommandReply{Text: fmt.Sprintf("Could not stop generation: %v", err)}
	}
	return channel.CommandReply{Text: "Stopped generation."}
}
