package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joebot/oobabot/internal/chat"
)

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg *InboundMessage)

// MessageBus decouples transports from the bot using Go channels.
type MessageBus struct {
	Inbound chan *InboundMessage

	mu       sync.Mutex
	sessions map[string][]*InboundMessage
}

// NewMessageBus creates a new message bus with a buffered inbound queue.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		Inbound:  make(chan *InboundMessage, 64),
		sessions: make(map[string][]*InboundMessage),
	}
}

// PublishInbound queues a message from a transport. It gives up when ctx
// is done and reports whether the message was queued.
func (b *MessageBus) PublishInbound(ctx context.Context, transport string, msg chat.Message) bool {
	in := &InboundMessage{Transport: transport, Message: msg, Received: time.Now()}
	select {
	case b.Inbound <- in:
		return true
	case <-ctx.Done():
		slog.Debug("Dropped inbound message on shutdown", "transport", transport, "message", msg.ID)
		return false
	}
}

// Dispatch reads the inbound queue and runs h for every message. Messages
// in different conversations run concurrently; messages in the same
// conversation run one at a time in arrival order. Dispatch blocks until
// ctx is cancelled and every running handler has returned.
func (b *MessageBus) Dispatch(ctx context.Context, h Handler) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Inbound:
			key := msg.SessionKey()
			b.mu.Lock()
			pending, running := b.sessions[key]
			b.sessions[key] = append(pending, msg)
			b.mu.Unlock()
			if running {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.drain(ctx, key, h)
			}()
		}
	}
}

func (b *MessageBus) drain(ctx context.Context, key string, h Handler) {
	for {
		b.mu.Lock()
		queue := b.sessions[key]
		if len(queue) == 0 || ctx.Err() != nil {
			delete(b.sessions, key)
			b.mu.Unlock()
			return
		}
		msg := queue[0]
		b.sessions[key] = queue[1:]
		b.mu.Unlock()

		h(ctx, msg)
	}
}

// Sessions returns the number of conversations with queued or running
// handlers.
func (b *MessageBus) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
