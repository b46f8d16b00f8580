// Package llm talks to text-generation servers.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// TokenStream yields generated text chunks. Recv returns io.EOF once
// generation has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the interface for text-generation backends.
type Provider interface {
	Name() string
	// Stream starts generating a continuation of prompt.
	Stream(ctx context.Context, prompt string) (TokenStream, error)
	// Stop aborts every generation in flight.
	Stop(ctx context.Context) error
}

// Params is the opaque request parameter bag sent with each prompt,
// such as temperature, max_new_tokens and stopping_strings.
type Params map[string]any

// DefaultParams mirrors text-generation-webui's defaults for chat bots.
func DefaultParams() Params {
	return Params{
		"max_new_tokens":       250,
		"do_sample":            true,
		"temperature":          1.3,
		"top_p":                0.1,
		"typical_p":            1,
		"repetition_penalty":   1.18,
		"top_k":                40,
		"min_length":           0,
		"no_repeat_ngram_size": 0,
		"num_beams":            1,
		"penalty_alpha":        0,
		"length_penalty":       1,
		"early_stopping":       false,
		"seed":                 -1,
		"add_bos_token":        true,
		"truncation_length":    730,
		"ban_eos_token":        false,
		"skip_special_tokens":  true,
		"stopping_strings":     []any{},
	}
}

// Int returns an integer parameter, or def when unset or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Float returns a numeric parameter, or def when unset or not numeric.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Strings returns a list-of-strings parameter.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ReadAll drains s and returns the full text and number of chunks read.
func ReadAll(s TokenStream) (string, int, error) {
	defer s.Close()
	var sb strings.Builder
	n := 0
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), n, nil
		}
		if err != nil {
			return sb.String(), n, err
		}
		n++
		sb.WriteString(tok)
	}
}

// inflight tracks cancel functions of running generations so Stop can
// abort them.
type inflight struct {
	mu      sync.Mutex
	next    int
	cancels map[int]context.CancelFunc
}

func (f *inflight) add(cancel context.CancelFunc) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancels == nil {
		f.cancels = make(map[int]context.CancelFunc)
	}
	id := f.next
	f.next++
	f.cancels[id] = cancel
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.cancels, id)
	}
}

func (f *inflight) cancelAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.cancels)
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
	return n
}
