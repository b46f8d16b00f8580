package decide

import (
	"cmp"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joebot/oobabot/internal/chat"
)

// ResponseChance maps a time since the last mention to the chance of
// replying without being addressed.
type ResponseChance struct {
	MaxAge time.Duration
	Chance float64
}

// DefaultResponseChances is the decay curve used when none is configured.
var DefaultResponseChances = []ResponseChance{
	{MaxAge: 60 * time.Second, Chance: 0.9},
	{MaxAge: 120 * time.Second, Chance: 0.7},
	{MaxAge: 300 * time.Second, Chance: 0.5},
}

// Options configures an Engine.
type Options struct {
	Wakewords        []string
	IgnoreDMs        bool
	InterrobangBonus float64
	ResponseChances  []ResponseChance
	// ChannelCap limits how many channels may receive unsolicited
	// replies at once. Zero means unlimited.
	ChannelCap int
	// Rand returns a uniform value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Decision is the outcome of ShouldReply.
type Decision struct {
	Reply bool
	// Direct is set when the bot was addressed by DM, mention or wakeword.
	Direct bool
}

// Engine decides whether to reply to inbound messages. It is safe for
// concurrent use.
type Engine struct {
	ignoreDMs bool
	bonus     float64
	chances   []ResponseChance
	wakewords []*regexp.Regexp
	rand      func() float64

	mu    sync.Mutex
	cache *MentionCache
}

// New creates an Engine.
func New(opts Options) *Engine {
	chances := slices.Clone(opts.ResponseChances)
	if len(chances) == 0 {
		chances = slices.Clone(DefaultResponseChances)
	}
	slices.SortStableFunc(chances, func(a, b ResponseChance) int {
		return cmp.Compare(a.MaxAge, b.MaxAge)
	})

	r := opts.Rand
	if r == nil {
		r = rand.Float64
	}

	e := &Engine{
		ignoreDMs: opts.IgnoreDMs,
		bonus:     opts.InterrobangBonus,
		chances:   chances,
		rand:      r,
		cache:     NewMentionCache(chances[len(chances)-1].MaxAge, opts.ChannelCap),
	}
	for _, w := range opts.Wakewords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		e.wakewords = append(e.wakewords, WakewordPattern(w))
	}
	return e
}

// WakewordPattern returns the whole-word, case-insensitive matcher for w.
// Word edges are any letter, digit or underscore in any script.
func WakewordPattern(w string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + notWordBefore + regexp.QuoteMeta(w) + notWordAfter)
}

const (
	notWordBefore = `(?:^|[^\p{L}\p{N}_])`
	notWordAfter  = `(?:$|[^\p{L}\p{N}_])`
)

// ShouldReply decides whether the account ownID should answer msg.
func (e *Engine) ShouldReply(ownID string, msg chat.Message) Decision {
	if msg.AuthorIsBot || msg.AuthorID == ownID {
		return Decision{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.directlyAddressed(ownID, msg) {
		if msg.IsChannel() {
			e.cache.Log(msg.ChannelID, msg.SentAt)
		}
		return Decision{Reply: true, Direct: true}
	}

	if !msg.IsChannel() {
		return Decision{}
	}
	return Decision{Reply: e.unsolicited(ownID, msg)}
}

// LogMention records that the bot was addressed in channelID at the
// given time, anchoring the unsolicited reply curve there.
func (e *Engine) LogMention(channelID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Log(channelID, at)
}

func (e *Engine) directlyAddressed(ownID string, msg chat.Message) bool {
	if msg.IsDirect() {
		return !e.ignoreDMs
	}
	if msg.Mentioned(ownID) {
		return true
	}
	for _, re := range e.wakewords {
		if re.MatchString(msg.Body) {
			return true
		}
	}
	return false
}

func (e *Engine) unsolicited(ownID string, msg chat.Message) bool {
	if msg.HasMentions() && !msg.Mentioned(ownID) {
		return false
	}
	if strings.TrimSpace(msg.Body) == "" {
		return false
	}

	age := e.cache.SinceLastMention(msg.ChannelID, msg.SentAt)
	chance := 0.0
	for _, rc := range e.chances {
		if age < rc.MaxAge {
			chance = rc.Chance
			break
		}
	}
	if chance == 0 {
		return false
	}

	// Trailing whitespace hides the punctuation.
	if strings.HasSuffix(msg.Body, "?") {
		chance += e.bonus
	}
	if strings.HasSuffix(msg.Body, "!") {
		chance += e.bonus
	}

	draw := e.rand()
	slog.Debug("Unsolicited reply check",
		"channel", msg.ChannelID, "age", age.Round(time.Second), "chance", chance, "draw", draw)
	return draw < chance
}
