// Package stats collects timing and rate statistics for the bot's
// responses.
package stats

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

// Response tracks a single response from request to last chunk. It is
// owned by one goroutine.
type Response struct {
	ID        string
	PromptLen int

	now      func() time.Time
	start    time.Time
	latency  time.Duration
	duration time.Duration
	tokens   int
}

// Part records one chunk of generated text.
func (r *Response) Part() {
	elapsed := r.now().Sub(r.start)
	if r.tokens == 0 {
		r.latency = elapsed
	}
	r.duration = elapsed
	r.tokens++
}

func (r *Response) Tokens() int             { return r.tokens }
func (r *Response) Latency() time.Duration  { return r.latency }
func (r *Response) Duration() time.Duration { return r.duration }

// TokensPerSecond is zero until a chunk has arrived after some delay.
func (r *Response) TokensPerSecond() float64 {
	if r.duration <= 0 {
		return 0
	}
	return float64(r.tokens) / r.duration.Seconds()
}

// Log writes the per-response numbers at debug level.
func (r *Response) Log() {
	slog.Debug("Response stats",
		"id", r.ID,
		"tokens", r.tokens,
		"time", r.duration.Round(10*time.Millisecond),
		"latency", r.latency.Round(10*time.Millisecond),
		"rate", roundTo(r.TokensPerSecond(), 2),
	)
}

// Aggregate accumulates statistics across all responses. Counters are
// atomic; prompt length extremes share a mutex.
type Aggregate struct {
	requests     atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	tokens       atomic.Int64
	totalTime    atomic.Int64 // nanoseconds
	totalLatency atomic.Int64 // nanoseconds

	mu          sync.Mutex
	promptSeen  bool
	promptMin   int
	promptMax   int
	promptTotal int64

	now     func() time.Time
	metrics *collectors
}

// New creates an Aggregate. When reg is non-nil the aggregate also
// exports Prometheus metrics through it.
func New(reg prometheus.Registerer) *Aggregate {
	a := &Aggregate{now: time.Now}
	if reg != nil {
		a.metrics = newCollectors(reg)
	}
	return a
}

// RequestArrived starts tracking a response to prompt. It must be
// followed by exactly one call to Success or Failure.
func (a *Aggregate) RequestArrived(id, prompt string) *Response {
	n := utf8.RuneCountInString(prompt)
	a.requests.Add(1)

	a.mu.Lock()
	if !a.promptSeen || n < a.promptMin {
		a.promptMin = n
	}
	a.promptSeen = true
	if n > a.promptMax {
		a.promptMax = n
	}
	a.promptTotal += int64(n)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.requests.Inc()
		a.metrics.promptChars.Observe(float64(n))
	}
	return &Response{ID: id, PromptLen: n, now: a.now, start: a.now()}
}

// Failure records a response that could not be delivered.
func (a *Aggregate) Failure(r *Response) {
	a.failures.Add(1)
	if a.metrics != nil {
		a.metrics.responses.WithLabelValues("failure").Inc()
	}
	if r != nil {
		r.Log()
	}
}

// Success folds a finished response into the totals.
func (a *Aggregate) Success(r *Response) {
	a.successes.Add(1)
	a.tokens.Add(int64(r.tokens))
	a.totalTime.Add(int64(r.duration))
	a.totalLatency.Add(int64(r.latency))
	if a.metrics != nil {
		a.metrics.responses.WithLabelValues("success").Inc()
		a.metrics.tokens.Add(float64(r.tokens))
		a.metrics.duration.Observe(r.duration.Seconds())
		a.metrics.latency.Observe(r.latency.Seconds())
	}
	r.Log()
}

// Snapshot is a point-in-time view of the aggregate.
type Snapshot struct {
	Requests           int64         `json:"requests"`
	Successes          int64         `json:"successes"`
	Failures           int64         `json:"failures"`
	Tokens             int64         `json:"tokens"`
	ErrorRate          float64       `json:"error_rate_percent"`
	AvgResponseTime    time.Duration `json:"avg_response_time_ns"`
	AvgLatency         time.Duration `json:"avg_latency_ns"`
	AvgTokensPerSecond float64       `json:"avg_tokens_per_second"`
	PromptMin          int           `json:"prompt_min_chars"`
	PromptMax          int           `json:"prompt_max_chars"`
	PromptAvg          float64       `json:"prompt_avg_chars"`
}

// Snapshot returns the current totals and averages.
func (a *Aggregate) Snapshot() Snapshot {
	s := Snapshot{
		Requests:  a.requests.Load(),
		Successes: a.successes.Load(),
		Failures:  a.failures.Load(),
		Tokens:    a.tokens.Load(),
	}
	totalTime := a.totalTime.Load()
	if s.Requests > 0 {
		s.ErrorRate = 100 * float64(s.Failures) / float64(s.Requests)
	}
	if s.Successes > 0 {
		s.AvgResponseTime = time.Duration(totalTime / s.Successes)
		s.AvgLatency = time.Duration(a.totalLatency.Load() / s.Successes)
		if totalTime > 0 {
			s.AvgTokensPerSecond = float64(s.Tokens) / time.Duration(totalTime).Seconds()
		}
	}

	a.mu.Lock()
	s.PromptMin, s.PromptMax = a.promptMin, a.promptMax
	if s.Requests > 0 {
		s.PromptAvg = float64(a.promptTotal) / float64(s.Requests)
	}
	a.mu.Unlock()
	return s
}

// LogSummary writes the aggregate to the log.
func (a *Aggregate) LogSummary() {
	s := a.Snapshot()
	if s.Requests == 0 {
		slog.Info("No requests handled")
		return
	}
	slog.Info("Response summary",
		"requests", s.Requests,
		"successes", s.Successes,
		"failures", s.Failures,
	)
	if s.Failures > 0 {
		slog.Error("Responses failed", "error_rate_percent", roundTo(s.ErrorRate, 2))
	}
	if s.Successes > 0 {
		slog.Debug("Response timing",
			"avg_time", s.AvgResponseTime.Round(10*time.Millisecond),
			"avg_latency", s.AvgLatency.Round(10*time.Millisecond),
			"avg_tokens_per_second", roundTo(s.AvgTokensPerSecond, 2),
		)
	}
	slog.Debug("Prompt length", "max", s.PromptMax, "min", s.PromptMin, "avg", roundTo(s.PromptAvg, 2))
}

func roundTo(f float64, places int) float64 {
	p := 1.0
	for range places {
		p *= 10
	}
	return float64(int64(f*p+0.5)) / p
}
