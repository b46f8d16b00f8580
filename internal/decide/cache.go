// Package decide decides whether the bot should answer a message.
package decide

import (
	"sort"
	"time"
)

// MentionCache remembers when the bot was last addressed in each channel.
//
// Eviction is driven by the timestamps of the messages being processed,
// not by the wall clock, so delayed deliveries only lose entries that
// were already stale when the message was sent.
type MentionCache struct {
	window     time.Duration
	channelCap int
	last       map[string]time.Time
}

// NewMentionCache creates a cache keeping entries for window. When
// channelCap is positive, only the channelCap most recently addressed
// channels are kept after each purge.
func NewMentionCache(window time.Duration, channelCap int) *MentionCache {
	return &MentionCache{
		window:     window,
		channelCap: channelCap,
		last:       make(map[string]time.Time),
	}
}

// Log records a mention in channelID at the given time.
func (c *MentionCache) Log(channelID string, at time.Time) {
	c.last[channelID] = at
}

// Get returns the last mention time for channelID.
func (c *MentionCache) Get(channelID string) (time.Time, bool) {
	ts, ok := c.last[channelID]
	return ts, ok
}

// Len returns the number of tracked channels.
func (c *MentionCache) Len() int { return len(c.last) }

// Purge evicts entries older than the window relative to latest, then
// applies the channel cap.
func (c *MentionCache) Purge(latest time.Time) {
	oldest := latest.Add(-c.window)
	for id, ts := range c.last {
		if ts.Before(oldest) {
			delete(c.last, id)
		}
	}

	if c.channelCap <= 0 || len(c.last) <= c.channelCap {
		return
	}
	type entry struct {
		id string
		ts time.Time
	}
	entries := make([]entry, 0, len(c.last))
	for id, ts := range c.last {
		entries = append(entries, entry{id, ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts.After(entries[j].ts) })
	for _, e := range entries[c.channelCap:] {
		delete(c.last, e.id)
	}
}

// SinceLastMention purges the cache relative to at and returns how long
// before at the channel was last addressed. Channels never addressed are
// measured from the Unix epoch.
func (c *MentionCache) SinceLastMention(channelID string, at time.Time) time.Duration {
	c.Purge(at)
	ts, ok := c.last[channelID]
	if !ok {
		ts = time.Unix(0, 0)
	}
	return at.Sub(ts)
}
