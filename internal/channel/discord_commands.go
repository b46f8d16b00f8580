package channel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Slash command names.
const (
	CommandLobotomize = "lobotomize"
	CommandSay        = "say"
	CommandStop       = "stop"
)

const sayOption = "message"

func commandDefinitions(aiName string) []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandLobotomize,
			Description: fmt.Sprintf("Erase %s's memory of any message before now in this channel.", aiName),
		},
		{
			Name:        CommandSay,
			Description: fmt.Sprintf("Force %s to say the provided message.", aiName),
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        sayOption,
				Description: fmt.Sprintf("Message to force %s to say.", aiName),
				Required:    true,
			}},
		},
		{
			Name:        CommandStop,
			Description: fmt.Sprintf("Force %s to stop typing the current message.", aiName),
		},
	}
}

func (d *Discord) registerCommands(s *discordgo.Session, appID string) {
	slog.Debug("Registering commands, sometimes this takes a while...")
	cmds, err := s.ApplicationCommandBulkOverwrite(appID, "", commandDefinitions(d.aiName))
	if err != nil {
		slog.Warn("Could not register slash commands", "err", err)
		return
	}
	for _, c := range cmds {
		slog.Info("Registered command", "name", c.Name, "description", c.Description)
	}
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch {
	case i.Type == discordgo.InteractionApplicationCommand && d.commands != nil:
		d.onCommand(s, i)
	case i.Type == discordgo.InteractionMessageComponent && d.buttons != nil:
		d.onButton(s, i)
	}
}

func (d *Discord) onCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cmd, err := d.command(i)
	if err != nil {
		slog.Warn("Interaction failed", "err", err)
		d.respond(s, i, CommandReply{Text: "command failed", Private: true})
		return
	}
	reply := d.commands.HandleCommand(d.baseContext(), cmd)
	d.respond(s, i, reply)
}

// command translates an interaction into a Command.
func (d *Discord) command(i *discordgo.InteractionCreate) (Command, error) {
	data := i.ApplicationCommandData()
	cmd := Command{
		Name:      data.Name,
		ChannelID: i.ChannelID,
		IssuedAt:  time.Now(),
	}
	if ts, err := discordgo.SnowflakeTimestamp(i.ID); err == nil {
		cmd.IssuedAt = ts
	}

	cmd.UserID, cmd.UserName = interactionUser(i)

	for _, opt := range data.Options {
		if opt.Name == sayOption {
			cmd.Text = opt.StringValue()
		}
	}

	if cmd.ChannelID == "" {
		return cmd, fmt.Errorf("%s: interaction has no channel", cmd.Name)
	}
	if ch := d.channel(cmd.ChannelID); ch != nil {
		cmd.PlainChannel = ch.Type == discordgo.ChannelTypeGuildText
	}
	if cmd.Name == CommandLobotomize {
		latest, err := d.latestMessageID(d.baseContext(), cmd.ChannelID)
		if err != nil {
			return cmd, fmt.Errorf("%s: read latest message: %w", cmd.Name, err)
		}
		cmd.LatestMessageID = latest
	}
	return cmd, nil
}

func interactionUser(i *discordgo.InteractionCreate) (id, name string) {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID, displayName(i.Member.User, i.Member)
	case i.User != nil:
		return i.User.ID, displayName(i.User, nil)
	}
	return "", ""
}

// onButton acknowledges the press straight away, since handling it may
// outlast the interaction deadline, and sends any reply as a followup.
func (d *Discord) onButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		slog.Warn("Could not acknowledge button press", "err", err)
		return
	}
	press := ButtonPress{
		ButtonID:  i.MessageComponentData().CustomID,
		ChannelID: i.ChannelID,
	}
	if i.Message != nil {
		press.MessageID = i.Message.ID
	}
	press.UserID, press.UserName = interactionUser(i)

	reply := d.buttons.HandleButton(d.baseContext(), press)
	if reply.Text == "" {
		return
	}
	params := &discordgo.WebhookParams{
		Content:         reply.Text,
		Flags:           discordgo.MessageFlagsSuppressEmbeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if reply.Private {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := s.FollowupMessageCreate(i.Interaction, false, params); err != nil {
		slog.Warn("Could not answer button press", "button", press.ButtonID, "err", err)
	}
}

func (d *Discord) respond(s *discordgo.Session, i *discordgo.InteractionCreate, reply CommandReply) {
	data := &discordgo.InteractionResponseData{
		Content:         reply.Text,
		Flags:           discordgo.MessageFlagsSuppressEmbeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if reply.Private {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("Could not answer command", "command", i.ApplicationCommandData().Name, "err", err)
	}
}
