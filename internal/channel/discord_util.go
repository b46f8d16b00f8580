package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InvitePermissions are the permission bits requested by the invite URL.
const InvitePermissions = discordgo.PermissionChangeNickname |
	discordgo.PermissionSendMessages |
	discordgo.PermissionCreatePublicThreads |
	discordgo.PermissionSendMessagesInThreads |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionViewChannel |
	discordgo.PermissionAddReactions

var forbiddenChars = regexp.MustCompile(`[\n\r\t]`)

// Sanitize replaces characters that would break a transcript line.
func Sanitize(s string) string {
	return forbiddenChars.ReplaceAllString(s, " ")
}

// UserIDFromToken extracts the bot's user ID from a Discord token. The
// first dot-separated part of a token is the base64 encoded ID.
func UserIDFromToken(token string) (string, error) {
	part, _, _ := strings.Cut(strings.TrimPrefix(token, "Bot "), ".")
	part = strings.TrimRight(part, "=")
	if part == "" {
		return "", fmt.Errorf("malformed discord token")
	}
	raw, err := base64.RawStdEncoding.DecodeString(part)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(part)
	}
	if err != nil {
		return "", fmt.Errorf("malformed discord token: %w", err)
	}
	id := string(raw)
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("malformed discord token: user id %q is not numeric", id)
	}
	return id, nil
}

// InviteURL is the link a server admin follows to add the bot.
func InviteURL(clientID string) string {
	return fmt.Sprintf("https://discord.com/api/oauth2/authorize?client_id=%s&permissions=%d&scope=bot",
		clientID, InvitePermissions)
}

var routeLogsOnce sync.Once

// routeDiscordLogs sends discordgo's internal log lines through slog.
func routeDiscordLogs() {
	routeLogsOnce.Do(func() {
		discordgo.Logger = func(msgL, _ int, format string, a ...any) {
			level := slog.LevelDebug
			switch msgL {
			case discordgo.LogError:
				level = slog.LevelError
			case discordgo.LogWarning:
				level = slog.LevelWarn
			case discordgo.LogInformational:
				level = slog.LevelInfo
			}
			slog.Log(context.Background(), level, fmt.Sprintf(format, a...), "source", "discordgo")
		}
	})
}
