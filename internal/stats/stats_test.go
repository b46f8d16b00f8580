package stats

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregate(reg prometheus.Registerer) (*Aggregate, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := New(reg)
	a.now = clock.now
	return a, clock
}

func TestResponseTiming(t *testing.T) {
	a, clock := newTestAggregate(nil)
	r := a.RequestArrived("r1", "hello")
	assert.Equal(t, 5, r.PromptLen)
	assert.Zero(t, r.TokensPerSecond())

	clock.advance(500 * time.Millisecond)
	r.Part()
	clock.advance(time.Second)
	r.Part()
	clock.advance(500 * time.Millisecond)
	r.Part()

	assert.Equal(t, 3, r.Tokens())
	assert.Equal(t, 500*time.Millisecond, r.Latency())
	assert.Equal(t, 2*time.Second, r.Duration())
	assert.InDelta(t, 1.5, r.TokensPerSecond(), 1e-9)
}

func TestAggregateSnapshot(t *testing.T) {
	a, clock := newTestAggregate(nil)

	r1 := a.RequestArrived("r1", strings.Repeat("x", 100))
	clock.advance(time.Second)
	r1.Part()
	clock.advance(time.Second)
	r1.Part()
	a.Success(r1)

	r2 := a.RequestArrived("r2", strings.Repeat("x", 40))
	clock.advance(3 * time.Second)
	r2.Part()
	clock.advance(time.Second)
	r2.Part()
	a.Success(r2)

	r3 := a.RequestArrived("r3", strings.Repeat("x", 60))
	a.Failure(r3)

	s := a.Snapshot()
	assert.Equal(t, int64(3), s.Requests)
	assert.Equal(t, int64(2), s.Successes)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, int64(4), s.Tokens)
	assert.InDelta(t, 33.33, s.ErrorRate, 0.01)
	assert.Equal(t, 3*time.Second, s.AvgResponseTime)
	assert.Equal(t, 2*time.Second, s.AvgLatency)
	assert.InDelta(t, 4.0/6.0, s.AvgTokensPerSecond, 1e-9)
	assert.Equal(t, 40, s.PromptMin)
	assert.Equal(t, 100, s.PromptMax)
	assert.InDelta(t, 200.0/3.0, s.PromptAvg, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	a, _ := newTestAggregate(nil)
	assert.Equal(t, Snapshot{}, a.Snapshot())
	a.LogSummary()
}

func TestPromptMinCountsEmptyPrompt(t *testing.T) {
	a, _ := newTestAggregate(nil)
	a.RequestArrived("a", "")
	a.RequestArrived("b", "abc")
	s := a.Snapshot()
	assert.Equal(t, 0, s.PromptMin)
	assert.Equal(t, 3, s.PromptMax)
}

func TestAggregateConcurrent(t *testing.T) {
	a := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := a.RequestArrived("id", "prompt")
			r.Part()
			if i%2 == 0 {
				a.Success(r)
			} else {
				a.Failure(r)
			}
		}()
	}
	wg.Wait()
	s := a.Snapshot()
	assert.Equal(t, int64(50), s.Requests)
	assert.Equal(t, int64(25), s.Successes)
	assert.Equal(t, int64(25), s.Failures)
	assert.Equal(t, int64(25), s.Tokens)
}

func TestPrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, clock := newTestAggregate(reg)

	r := a.RequestArrived("r1", "prompt")
	clock.advance(time.Second)
	r.Part()
	r.Part()
	a.Success(r)
	a.Failure(a.RequestArrived("r2", "prompt"))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				got[name] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				got[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"oobabot_requests_total":            2,
		"oobabot_responses_total/success":   1,
		"oobabot_responses_total/failure":   1,
		"oobabot_generated_tokens_total":    2,
		"oobabot_response_duration_seconds": 1,
		"oobabot_response_latency_seconds":  1,
		"oobabot_prompt_chars":              2,
	}, got)
}
