package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/llm"
	"github.com/joebot/oobabot/internal/templates"
)

// Button IDs of the image view.
const (
	buttonRetry  = "oobabot_image_retry"
	buttonAccept = "oobabot_image_accept"
	buttonDelete = "oobabot_image_delete"
)

const defaultImageViewTimeout = 2 * time.Minute

// The retry label is swapped for one of the same width while drawing so
// the buttons do not move.
const (
	labelRetry   = "Try Again"
	labelDrawing = "Drawing.."
)

func imageButtons(drawing bool) []channel.Button {
	retry := channel.Button{ID: buttonRetry, Label: labelRetry, Style: channel.ButtonPrimary}
	if drawing {
		retry.Label = labelDrawing
	}
	buttons := []channel.Button{
		retry,
		{ID: buttonAccept, Label: "Accept", Style: channel.ButtonSuccess},
		{ID: buttonDelete, Label: "Delete", Style: channel.ButtonDanger},
	}
	if drawing {
		for i := range buttons {
			buttons[i].Disabled = true
		}
	}
	return buttons
}

// imageView is a posted image its requester can still regenerate,
// accept or delete.
type imageView struct {
	channelID string
	messageID string
	userID    string
	userName  string
	prompt    string
	nsfw      bool

	// mu serialises presses and the timeout.
	mu      sync.Mutex
	pressed chan struct{}
	closed  bool
}

func (v *imageView) values() map[templates.Token]string {
	return map[templates.Token]string{
		templates.ImagePrompt: v.prompt,
		templates.UserName:    v.userName,
	}
}

// startImage posts the image for msg in the background. The job is
// tracked by Wait and ends early when ctx is cancelled.
func (b *Bot) startImage(ctx context.Context, msg chat.Message, channelID, imagePrompt string) {
	b.imageJobs.Add(1)
	go func() {
		defer b.imageJobs.Done()
		if err := b.sendImage(ctx, msg, channelID, imagePrompt); err != nil && ctx.Err() == nil {
			slog.Error("Posting image", "channel", msg.ChannelName, "message", msg.ID, "err", err)
		}
	}()
}

// sendImage generates an image for imagePrompt, posts it to channelID
// and keeps its buttons live until the requester accepts or deletes it,
// or until nobody has pressed one for the view timeout. Generation
// failures are reported in the channel.
func (b *Bot) sendImage(ctx context.Context, msg chat.Message, channelID, imagePrompt string) error {
	if b.imageKeywords {
		keywords, err := b.keywords(ctx, msg)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			slog.Warn("Could not generate image keywords, using the request text", "err", err)
		case keywords != "":
			imagePrompt = keywords
		}
	}

	slog.Info("Generating image", "user", msg.AuthorName, "prompt", imagePrompt, "nsfw", msg.NSFW)
	v := &imageView{
		channelID: channelID,
		userID:    msg.AuthorID,
		userName:  msg.AuthorName,
		prompt:    imagePrompt,
		nsfw:      msg.NSFW,
		pressed:   make(chan struct{}, 1),
	}
	opts := channel.SendOptions{MentionUserID: msg.AuthorID}
	if channelID == msg.ChannelID {
		opts.ReplyTo = msg.ID
	}

	png, err := b.generate(ctx, v)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("Image generation failed", "prompt", imagePrompt, "err", err)
		opts.Notice = true
		if _, err := b.transport.Send(ctx, channelID, b.templates.Format(templates.ImageGenerationError, v.values()), opts); err != nil {
			return fmt.Errorf("send image error notice: %w", err)
		}
		return nil
	}

	opts.Buttons = imageButtons(false)
	posted, err := b.transport.SendImage(ctx, channelID, png, b.templates.Format(templates.ImageConfirmation, v.values()), opts)
	if err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	slog.Info("Posted image", "user", msg.AuthorName, "bytes", len(png))

	v.messageID = posted.ID
	b.addView(v)
	defer b.removeView(v.messageID)
	return b.watchView(ctx, v)
}

// watchView waits until the view closes. The timeout restarts with
// every press, and expiring deletes the image.
func (b *Bot) watchView(ctx context.Context, v *imageView) error {
	timer := time.NewTimer(b.imageViewTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.pressed:
		case <-timer.C:
			v.mu.Lock()
			if len(v.pressed) > 0 {
				// A press finished while the timer fired.
				v.mu.Unlock()
				continue
			}
			defer v.mu.Unlock()
			if v.closed {
				return nil
			}
			slog.Debug("Image view timed out", "message", v.messageID)
			return b.detach(ctx, v)
		}

		v.mu.Lock()
		closed := v.closed
		v.mu.Unlock()
		if closed {
			return nil
		}
		timer.Reset(b.imageViewTimeout)
	}
}

func (b *Bot) generate(ctx context.Context, v *imageView) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.imageTimeout)
	defer cancel()
	return b.images.Generate(ctx, v.prompt, v.nsfw)
}

// keywords asks the text model to describe the image msg asks for.
// The bot's name is left out of the request so it does not end up in
// the picture.
func (b *Bot) keywords(ctx context.Context, msg chat.Message) (string, error) {
	request := strings.ReplaceAll(msg.Body, b.aiName, "")
	text := b.templates.Format(templates.PromptImageKeywords, map[templates.Token]string{
		templates.AIName:      b.aiName,
		templates.UserMessage: request,
	})
	stream, err := b.provider.Stream(ctx, text)
	if err != nil {
		return "", fmt.Errorf("request image keywords: %w", err)
	}
	keywords, _, err := llm.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("read image keywords: %w", err)
	}
	keywords = strings.TrimSpace(keywords)
	slog.Debug("AI-generated image keywords", "keywords", keywords)
	return keywords, nil
}

// detach replaces the image with the detach notice and drops the
// buttons. v.mu must be held.
func (b *Bot) detach(ctx context.Context, v *imageView) error {
	v.closed = true
	text := b.templates.Format(templates.ImageDetach, v.values())
	_, err := b.transport.Edit(ctx, v.channelID, v.messageID, channel.Edit{
		Text:          &text,
		RemoveImage:   true,
		RemoveButtons: true,
	})
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func (b *Bot) addView(v *imageView) {
	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()
	b.views[v.messageID] = v
}

func (b *Bot) removeView(messageID string) {
	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()
	delete(b.views, messageID)
}

func (b *Bot) view(messageID string) *imageView {
	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()
	return b.views[messageID]
}

// HandleButton answers presses on an image's buttons. Only the user
// who asked for the image may press them.
func (b *Bot) HandleButton(ctx context.Context, press channel.ButtonPress) channel.CommandReply {
	v := b.view(press.MessageID)
	if v == nil {
		return channel.CommandReply{Text: "This image can no longer be changed.", Private: true}
	}
	if press.UserID != v.userID {
		slog.Debug("Ignoring button press from another user", "user", press.UserName, "message", press.MessageID)
		return channel.CommandReply{Text: b.templates.Format(templates.ImageUnauthorized, v.values()), Private: true}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return channel.CommandReply{Text: "This image can no longer be changed.", Private: true}
	}
	defer func() {
		select {
		case v.pressed <- struct{}{}:
		default:
		}
	}()

	var err error
	switch press.ButtonID {
	case buttonRetry:
		err = b.regenerate(ctx, v)
	case buttonAccept:
		v.closed = true
		keep := ""
		_, err = b.transport.Edit(ctx, v.channelID, v.messageID, channel.Edit{Text: &keep, RemoveButtons: true})
	case buttonDelete:
		err = b.detach(ctx, v)
	default:
		return channel.CommandReply{Text: "Unknown button.", Private: true}
	}
	if err != nil {
		slog.Error("Image button failed", "button", press.ButtonID, "message", v.messageID, "err", err)
		return channel.CommandReply{Text: b.templates.Format(templates.ImageGenerationError, v.values()), Private: true}
	}
	return channel.CommandReply{}
}

// regenerate draws a new image for the same prompt and swaps it in.
// The buttons are disabled while drawing.
func (b *Bot) regenerate(ctx context.Context, v *imageView) error {
	slog.Info("Regenerating image", "user", v.userName, "prompt", v.prompt)
	if _, err := b.transport.Edit(ctx, v.channelID, v.messageID, channel.Edit{Buttons: imageButtons(true)}); err != nil {
		return fmt.Errorf("disable image buttons: %w", err)
	}
	png, genErr := b.generate(ctx, v)
	e := channel.Edit{Buttons: imageButtons(false), Image: png}
	if _, err := b.transport.Edit(ctx, v.channelID, v.messageID, e); err != nil {
		return fmt.Errorf("replace image: %w", err)
	}
	if genErr != nil {
		return fmt.Errorf("regenerate image: %w", genErr)
	}
	return nil
}
