package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	oobaStreamPath = "/api/v1/stream"
	oobaStopPath   = "/api/v1/stop-stream"
)

// Ooba streams completions from text-generation-webui's websocket API.
type Ooba struct {
	baseURL    string
	params     Params
	httpClient *http.Client
	logAll     bool
	running    inflight
}

// NewOoba creates a client for the server at baseURL, such as
// ws://localhost:5005.
func NewOoba(baseURL string, params Params, logAll bool) *Ooba {
	if params == nil {
		params = DefaultParams()
	}
	return &Ooba{
		baseURL:    strings.TrimRight(baseURL, "/"),
		params:     params,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logAll:     logAll,
	}
}

func (o *Ooba) Name() string { return "oobabooga" }

// Check opens and closes a streaming connection to verify the server is
// reachable.
func (o *Ooba) Check(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, o.baseURL+oobaStreamPath, nil)
	if err != nil {
		return fmt.Errorf("connect to oobabooga at %s: %w", o.baseURL, err)
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Stream sends prompt with the configured parameters and returns the
// token stream.
func (o *Ooba) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	remove := o.running.add(cancel)

	conn, _, err := websocket.Dial(ctx, o.baseURL+oobaStreamPath, nil)
	if err != nil {
		remove()
		cancel()
		return nil, fmt.Errorf("connect to oobabooga: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	req := make(map[string]any, len(o.params)+1)
	for k, v := range o.params {
		req[k] = v
	}
	req["prompt"] = prompt
	if err := wsjson.Write(ctx, conn, req); err != nil {
		conn.CloseNow()
		remove()
		cancel()
		return nil, fmt.Errorf("send prompt: %w", err)
	}
	if o.logAll {
		slog.Debug("Sent prompt to oobabooga", "prompt", prompt)
	}

	return &oobaStream{
		ctx:  ctx,
		conn: conn,
		done: func() {
			remove()
			cancel()
		},
	}, nil
}

// Stop asks the server to abort generation and cancels local streams.
func (o *Ooba) Stop(ctx context.Context) error {
	n := o.running.cancelAll()
	slog.Info("Stopping generation", "streams", n)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpBase(o.baseURL)+oobaStopPath, nil)
	if err != nil {
		return fmt.Errorf("create stop request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("stop stream: status %d", resp.StatusCode)
	}
	return nil
}

// httpBase maps a websocket URL to its HTTP equivalent.
func httpBase(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	default:
		return u
	}
}

type oobaEvent struct {
	Event      string `json:"event"`
	MessageNum int    `json:"message_num"`
	Text       string `json:"text"`
}

type oobaStream struct {
	ctx    context.Context
	conn   *websocket.Conn
	done   func()
	closed bool
}

func (s *oobaStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	for {
		var ev oobaEvent
		if err := wsjson.Read(s.ctx, s.conn, &ev); err != nil {
			s.finish(false)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "", io.EOF
			}
			return "", fmt.Errorf("read oobabooga stream: %w", err)
		}
		switch ev.Event {
		case "text_stream":
			if ev.Text == "" {
				continue
			}
			return ev.Text, nil
		case "stream_end":
			s.Close()
			return "", io.EOF
		default:
			slog.Warn("Unexpected oobabooga event", "event", ev.Event)
		}
	}
}

func (s *oobaStream) Close() error { return s.finish(true) }

func (s *oobaStream) finish(graceful bool) error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.done()
	if graceful {
		return s.conn.Close(websocket.StatusNormalClosure, "")
	}
	return s.conn.CloseNow()
}
