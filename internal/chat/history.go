package chat

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by transports for messages that do not exist
// or were deleted.
var ErrNotFound = errors.New("message not found")

// HistoryIterator yields channel history newest first. Next returns
// io.EOF once the history is exhausted. Next may block while the next
// page is fetched.
type HistoryIterator interface {
	Next(ctx context.Context) (Message, error)
}

// HistoryFunc adapts a function to HistoryIterator.
type HistoryFunc func(ctx context.Context) (Message, error)

// Next calls f(ctx).
func (f HistoryFunc) Next(ctx context.Context) (Message, error) { return f(ctx) }

// SliceHistory iterates over msgs, which must already be newest first.
func SliceHistory(msgs []Message) HistoryIterator {
	i := 0
	return HistoryFunc(func(ctx context.Context) (Message, error) {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if i >= len(msgs) {
			return Message{}, io.EOF
		}
		m := msgs[i]
		i++
		return m, nil
	})
}

// FilterHistory yields only the messages of it for which keep returns true.
func FilterHistory(it HistoryIterator, keep func(Message) bool) HistoryIterator {
	return HistoryFunc(func(ctx context.Context) (Message, error) {
		for {
			m, err := it.Next(ctx)
			if err != nil {
				return Message{}, err
			}
			if keep(m) {
				return m, nil
			}
		}
	})
}

// LimitHistory stops it after n messages.
func LimitHistory(it HistoryIterator, n int) HistoryIterator {
	seen := 0
	return HistoryFunc(func(ctx context.Context) (Message, error) {
		if seen >= n {
			return Message{}, io.EOF
		}
		m, err := it.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		seen++
		return m, nil
	})
}

// CollectHistory drains it into a slice, newest first.
func CollectHistory(ctx context.Context, it HistoryIterator) ([]Message, error) {
	var out []Message
	for {
		m, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}
