package stats

import "github.com/prometheus/client_golang/prometheus"

const namespace = "oobabot"

type collectors struct {
	requests    prometheus.Counter
	responses   *prometheus.CounterVec
	tokens      prometheus.Counter
	duration    prometheus.Histogram
	latency     prometheus.Histogram
	promptChars prometheus.Histogram
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests the bot decided to answer.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Finished responses by result.",
		}, []string{"result"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tokens_total",
			Help:      "Chunks streamed from the inference server.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Time from request to last generated chunk.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from request to first generated chunk.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		promptChars: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_chars",
			Help:      "Length of prompts sent to the inference server.",
			Buckets:   prometheus.LinearBuckets(250, 250, 10),
		}),
	}
	reg.MustRegister(c.requests, c.responses, c.tokens, c.duration, c.latency, c.promptChars)
	return c
}
