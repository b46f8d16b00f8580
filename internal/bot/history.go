package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/chat"
)

// historyWalk yields up to limit messages of a channel, newest first.
// Messages newer than ignoreUntil are skipped, as are the bot's own
// internal posts. Once the channel runs out with room to spare, the
// message the oldest one replied to is added, or root when set.
type historyWalk struct {
	transport   channel.Transport
	ownID       string
	channelID   string
	raw         chat.HistoryIterator
	limit       int
	ignoreUntil string
	root        *chat.Message

	yielded  int
	last     *chat.Message
	finished bool
}

func (w *historyWalk) Next(ctx context.Context) (chat.Message, error) {
	if w.finished || w.yielded >= w.limit {
		return chat.Message{}, io.EOF
	}
	for {
		m, err := w.raw.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.Message{}, err
		}
		if w.ignoreUntil != "" {
			if m.ID != w.ignoreUntil {
				slog.Debug("Ignoring message sent after the request", "message", m.ID, "request", w.ignoreUntil)
				continue
			}
			w.ignoreUntil = ""
		}
		w.last = &m
		if w.hidden(m) {
			continue
		}
		w.yielded++
		return m, nil
	}

	w.finished = true
	return w.origin(ctx)
}

func (w *historyWalk) hidden(m chat.Message) bool {
	return m.AuthorID == w.ownID && m.Internal
}

// origin returns the message the conversation started from.
func (w *historyWalk) origin(ctx context.Context) (chat.Message, error) {
	if w.root != nil {
		return *w.root, nil
	}
	if w.last == nil || w.last.ReferenceID == "" {
		return chat.Message{}, io.EOF
	}
	m, err := w.transport.Message(ctx, w.channelID, w.last.ReferenceID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Message{}, io.EOF
	}
	if err != nil {
		slog.Debug("Could not fetch referenced message", "message", w.last.ReferenceID, "err", err)
		return chat.Message{}, io.EOF
	}
	if w.hidden(m) {
		return chat.Message{}, io.EOF
	}
	return m, nil
}
