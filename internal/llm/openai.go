package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI streams completions from an OpenAI-compatible /v1/completions
// endpoint, such as text-generation-webui's openai extension, vLLM or
// llama.cpp's server.
type OpenAI struct {
	client  *openai.Client
	model   string
	params  Params
	logAll  bool
	running inflight
}

// NewOpenAI creates a client for the API rooted at baseURL, such as
// http://localhost:5000/v1.
func NewOpenAI(baseURL, apiKey, model string, params Params, logAll bool) *OpenAI {
	if params == nil {
		params = DefaultParams()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		params: params,
		logAll: logAll,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Check lists the server's models to verify it is reachable.
func (o *OpenAI) Check(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Stream requests a streamed completion of prompt.
func (o *OpenAI) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	remove := o.running.add(cancel)

	req := o.request(prompt)
	if o.logAll {
		slog.Debug("Sent prompt to completion API", "model", req.Model, "prompt", prompt)
	}
	stream, err := o.client.CreateCompletionStream(ctx, req)
	if err != nil {
		remove()
		cancel()
		return nil, fmt.Errorf("create completion stream: %w", err)
	}
	return &openaiStream{
		stream: stream,
		done: func() {
			remove()
			cancel()
		},
	}, nil
}

// Stop cancels every stream in flight. The API has no server-side stop.
func (o *OpenAI) Stop(context.Context) error {
	n := o.running.cancelAll()
	slog.Info("Stopping generation", "streams", n)
	return nil
}

func (o *OpenAI) request(prompt string) openai.CompletionRequest {
	return openai.CompletionRequest{
		Model:       o.model,
		Prompt:      prompt,
		MaxTokens:   o.params.Int("max_new_tokens", 250),
		Temperature: float32(o.params.Float("temperature", 1)),
		TopP:        float32(o.params.Float("top_p", 1)),
		Stop:        o.params.Strings("stopping_strings"),
		Stream:      true,
	}
}

type openaiStream struct {
	stream *openai.CompletionStream
	done   func()
	closed bool
}

func (s *openaiStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.Close()
			return "", io.EOF
		}
		if err != nil {
			s.Close()
			return "", fmt.Errorf("read completion stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Text == "" {
			continue
		}
		return resp.Choices[0].Text, nil
	}
}

func (s *openaiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Close()
	s.done()
	return nil
}
