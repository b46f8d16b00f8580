// Package bot ties the decision engine, prompt compositor, inference
// provider and image generator to a chat transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joebot/oobabot/internal/bus"
	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/chat"
	"github.com/joebot/oobabot/internal/decide"
	"github.com/joebot/oobabot/internal/imagegen"
	"github.com/joebot/oobabot/internal/llm"
	"github.com/joebot/oobabot/internal/prompt"
	"github.com/joebot/oobabot/internal/repetition"
	"github.com/joebot/oobabot/internal/stats"
	"github.com/joebot/oobabot/internal/templates"
)

// lookbackBonus is how many extra messages are read from a channel so
// that filtered ones do not starve the requested history.
const lookbackBonus = 20

const defaultImageTimeout = 5 * time.Minute

// defaultStreamInterval groups streamed tokens so a message is not
// edited for every one of them.
const defaultStreamInterval = 200 * time.Millisecond

// errStopResponse ends a response early without failing it.
var errStopResponse = errors.New("response stopped")

// Bot answers chat messages.
type Bot struct {
	bus        *bus.MessageBus
	transport  channel.Transport
	aiName     string
	engine     *decide.Engine
	tracker    *repetition.Tracker
	compositor *prompt.Compositor
	provider   llm.Provider
	templates  *templates.Store
	images     imagegen.Client
	detector   *imagegen.Detector
	stats      *stats.Aggregate

	allowFrom     []string
	replyInThread bool
	historyLines  int
	newSplitter   func() llm.Splitter
	imageTimeout  time.Duration
	filter        immersionFilter

	streamResponses bool
	streamInterval  time.Duration

	imageKeywords    bool
	imageViewTimeout time.Duration
	imageJobs        sync.WaitGroup
	viewsMu          sync.Mutex
	views            map[string]*imageView
}

// Config holds configuration for creating a Bot.
type Config struct {
	Bus        *bus.MessageBus
	Transport  channel.Transport
	AIName     string
	Engine     *decide.Engine
	Tracker    *repetition.Tracker
	Compositor *prompt.Compositor
	Provider   llm.Provider
	Templates  *templates.Store
	// Images is nil when image generation is disabled.
	Images   imagegen.Client
	Detector *imagegen.Detector
	Stats    *stats.Aggregate

	AllowFrom     []string
	ReplyInThread bool
	HistoryLines  int
	StopMarkers   []string
	// NewSplitter returns a fresh splitter per response. Defaults to
	// sentence splitting.
	NewSplitter  func() llm.Splitter
	ImageTimeout time.Duration

	// StreamResponses posts each response as one message that is
	// edited as tokens arrive, at most once per StreamInterval.
	StreamResponses bool
	StreamInterval  time.Duration

	// ImageKeywords has the text model write the image prompt.
	ImageKeywords bool
	// ImageViewTimeout is how long an image's buttons stay live after
	// the last press. Images not accepted by then are deleted.
	ImageViewTimeout time.Duration
}

// New creates a Bot.
func New(cfg Config) *Bot {
	if cfg.HistoryLines <= 0 {
		cfg.HistoryLines = prompt.DefaultHistoryLines
	}
	if cfg.NewSplitter == nil {
		cfg.NewSplitter = func() llm.Splitter { return llm.NewSentenceSplitter() }
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}
	if cfg.ImageViewTimeout <= 0 {
		cfg.ImageViewTimeout = defaultImageViewTimeout
	}
	if cfg.Templates == nil {
		cfg.Templates, _ = templates.NewStore(nil)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New(nil)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = repetition.NewTracker(repetition.DefaultThreshold)
	}
	if cfg.Images != nil && cfg.Detector == nil {
		cfg.Detector = imagegen.NewDetector(imagegen.DefaultImageWords)
	}

	return &Bot{
		bus:           cfg.Bus,
		transport:     cfg.Transport,
		aiName:        cfg.AIName,
		engine:        cfg.Engine,
		tracker:       cfg.Tracker,
		compositor:    cfg.Compositor,
		provider:      cfg.Provider,
		templates:     cfg.Templates,
		images:        cfg.Images,
		detector:      cfg.Detector,
		stats:         cfg.Stats,
		allowFrom:     cfg.AllowFrom,
		replyInThread: cfg.ReplyInThread,
		historyLines:  cfg.HistoryLines,
		newSplitter:   cfg.NewSplitter,
		imageTimeout:  cfg.ImageTimeout,
		filter: immersionFilter{
			cueLine:     cfg.Compositor.CueLine(),
			stopMarkers: cfg.StopMarkers,
		},
		streamResponses:  cfg.StreamResponses,
		streamInterval:   cfg.StreamInterval,
		imageKeywords:    cfg.ImageKeywords,
		imageViewTimeout: cfg.ImageViewTimeout,
		views:            make(map[string]*imageView),
	}
}

// Run handles messages from the bus until ctx is cancelled, then waits
// for image jobs to end.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("Bot started", "name", b.aiName, "transport", b.transport.Name(), "provider", b.provider.Name(),
		"streaming", b.streamResponses, "ai_image_keywords", b.imageKeywords)
	b.bus.Dispatch(ctx, func(ctx context.Context, in *bus.InboundMessage) {
		if err := b.HandleMessage(ctx, in.Message); err != nil && ctx.Err() == nil {
			slog.Error("Processing message", "channel", in.Message.ChannelName, "message", in.Message.ID, "err", err)
		}
	})
	slog.Info("Bot stopping")
	b.Wait()
}

// Wait blocks until every image job has ended. An image job lasts
// until its buttons are no longer live.
func (b *Bot) Wait() { b.imageJobs.Wait() }

// HandleMessage decides whether to answer msg and, if so, posts the
// text response. A requested image is generated and posted in the
// background under ctx, so the next message in the channel need not
// wait for it.
func (b *Bot) HandleMessage(ctx context.Context, msg chat.Message) error {
	if !channel.IsAllowed(msg.AuthorID, b.allowFrom) {
		slog.Debug("Ignoring message from sender not in allow list", "sender", msg.AuthorID)
		return nil
	}
	d := b.engine.ShouldReply(b.transport.SelfID(), msg)
	if !d.Reply {
		return nil
	}
	summonPublic := d.Direct && msg.IsChannel()

	responseChannel := msg.ChannelID
	if ts, ok := b.transport.(channel.ThreadStarter); ok && b.replyInThread && msg.IsChannel() {
		name := fmt.Sprintf("%s, replying to %s", b.aiName, msg.AuthorName)
		id, err := ts.StartThread(ctx, msg, name)
		if errors.Is(err, channel.ErrNoThreadPermission) {
			slog.Debug("User can't create threads, not responding", "user", msg.AuthorName)
			return nil
		}
		if err != nil {
			return fmt.Errorf("start thread: %w", err)
		}
		responseChannel = id
	}
	if summonPublic {
		b.engine.LogMention(responseChannel, msg.SentAt)
	}

	var imagePrompt string
	var wantImage bool
	if b.images != nil {
		imagePrompt, wantImage = b.detector.Detect(msg.Body)
	}

	stopTyping := b.transport.Typing(ctx, responseChannel)
	defer stopTyping()

	slog.Debug("Request", "from", msg.AuthorName, "channel", msg.ChannelName, "image", wantImage)
	if wantImage {
		b.startImage(ctx, msg, responseChannel, imagePrompt)
	}
	return b.respond(ctx, msg, responseChannel, summonPublic, wantImage)
}

// respond streams a text response into responseChannel.
func (b *Bot) respond(ctx context.Context, msg chat.Message, responseChannel string, summonPublic, imageRequested bool) error {
	ownID := b.transport.SelfID()
	opts := channel.SendOptions{MentionUserID: msg.AuthorID}
	walk := historyWalk{
		transport: b.transport,
		ownID:     ownID,
		channelID: responseChannel,
		raw:       b.transport.History(responseChannel, "", b.historyLines+lookbackBonus),
		limit:     b.historyLines,
	}
	switch {
	case responseChannel != msg.ChannelID:
		// A fresh thread does not list the message it was started from.
		walk.root = &msg
	case summonPublic:
		opts.ReplyTo = msg.ID
		walk.ignoreUntil = msg.ID
	}

	text, err := b.compositor.Generate(ctx, ownID, &walk, imageRequested, b.tracker.ThrottleID(responseChannel))
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	rs := b.stats.RequestArrived(uuid.NewString(), text)
	stream, err := b.provider.Stream(ctx, text)
	if err != nil {
		b.stats.Failure(rs)
		return fmt.Errorf("%s: %w", b.provider.Name(), err)
	}

	var (
		sent    int
		aborted bool
	)
	if b.streamResponses {
		var last chat.Message
		last, aborted, err = b.stream(ctx, stream, rs, responseChannel, opts)
		if last.ID != "" {
			b.tracker.LogMessage(responseChannel, last)
			sent = 1
		}
	} else {
		_, err = llm.SplitStream(countingStream{TokenStream: stream, rs: rs}, b.newSplitter(), func(part string) error {
			out, abort := b.filter.apply(part)
			if out != "" {
				m, err := b.transport.Send(ctx, responseChannel, out, opts)
				if err != nil {
					return fmt.Errorf("send response: %w", err)
				}
				b.tracker.LogMessage(responseChannel, m)
				sent++
			}
			if abort {
				aborted = true
				return errStopResponse
			}
			return nil
		})
	}
	switch {
	case errors.Is(err, errStopResponse):
		err = nil
	case err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled):
		slog.Info("Generation was stopped", "id", rs.ID, "sent", sent)
		err, aborted = nil, true
	}
	if err != nil {
		b.stats.Failure(rs)
		return err
	}

	if sent == 0 {
		if aborted {
			slog.Warn("No response sent, the generated message was filtered out", "id", rs.ID)
		} else {
			slog.Warn("Received an empty response, check that the model is running", "provider", b.provider.Name(), "id", rs.ID)
		}
		b.stats.Failure(rs)
		return nil
	}
	slog.Debug("Response done", "to", msg.AuthorName, "messages", sent, "id", rs.ID)
	b.stats.Success(rs)
	return nil
}

// stream posts the response as a single message that grows as tokens
// arrive. The first post is silent since it holds only the opening
// words. It returns the message as last posted.
func (b *Bot) stream(ctx context.Context, s llm.TokenStream, rs *stats.Response, channelID string, opts channel.SendOptions) (last chat.Message, aborted bool, err error) {
	opts.Silent = true
	shown := ""
	_, err = llm.SplitStream(countingStream{TokenStream: s, rs: rs}, llm.NewGroupingSplitter(b.streamInterval), func(text string) error {
		out, abort := b.filter.apply(text)
		if out != "" && out != shown {
			var (
				m   chat.Message
				err error
			)
			if last.ID == "" {
				m, err = b.transport.Send(ctx, channelID, out, opts)
			} else {
				m, err = b.transport.Edit(ctx, channelID, last.ID, channel.Edit{Text: &out, MentionUserID: opts.MentionUserID})
			}
			if err != nil {
				return fmt.Errorf("stream response: %w", err)
			}
			last, shown = m, out
		}
		if abort {
			aborted = true
			return errStopResponse
		}
		return nil
	})
	return last, aborted, err
}

// countingStream records a stats part for every chunk received.
type countingStream struct {
	llm.TokenStream
	rs *stats.Response
}

func (s countingStream) Recv() (string, error) {
	tok, err := s.TokenStream.Recv()
	if err == nil {
		s.rs.Part()
	}
	return tok, err
}
