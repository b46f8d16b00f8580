package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
)

// Client generates PNG images from a text prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, nsfw bool) ([]byte, error)
}

const (
	apiPath         = "/sdapi/v1/"
	samplerKey      = "sampler_name"
	samplerAlias    = "sampler"
	modelKey        = "model"
	negativeKey     = "negative_prompt"
	negativeNSFWKey = "negative_prompt_nsfw"
	maxResetRetry   = 3
	resetRetryWait  = time.Second
)

// NegativePromptNSFW is used in age-restricted channels.
const NegativePromptNSFW = "animal harm, suicide, loli"

// NegativePrompt is used everywhere else.
const NegativePrompt = NegativePromptNSFW + ", nsfw"

// DefaultRequestParams are sent with every txt2img request.
func DefaultRequestParams() map[string]any {
	return map[string]any{
		"do_not_save_samples": true,
		"do_not_save_grid":    true,
		negativeKey:           NegativePrompt,
		negativeNSFWKey:       NegativePromptNSFW,
		"steps":               30,
		"width":               512,
		"height":              512,
		"cfg_scale":           7.0,
	}
}

// DefaultUserOverrideParams may be set per request with key=value words
// in the image prompt.
var DefaultUserOverrideParams = []string{
	"steps", "width", "height", samplerKey, "cfg_scale", negativeKey, modelKey,
}

// serverOptions are the global server options the bot wants. They keep
// generation parameters out of the PNG metadata and skip watermarks.
var serverOptions = map[string]any{
	"enable_pnginfo":       false,
	"do_not_add_watermark": true,
	"samples_format":       "png",
}

// Options configures a StableDiffusion client.
type Options struct {
	URL                string
	RequestParams      map[string]any
	UserOverrideParams []string
	ExtraPromptText    string
	Timeout            time.Duration
}

// StableDiffusion talks to an AUTOMATIC1111 server. Requests are
// serialized so a single GPU is never asked for two images at once.
type StableDiffusion struct {
	baseURL      string
	params       map[string]any
	negativeNSFW string
	overrides    map[string]kind
	extraPrompt  string
	client       *http.Client
	sem          *semaphore.Weighted

	models   []string
	samplers []string
}

type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
	kindFloat
)

func kindOf(v any) kind {
	switch v.(type) {
	case bool:
		return kindBool
	case int, int64:
		return kindInt
	case float32, float64:
		return kindFloat
	default:
		return kindString
	}
}

// NewStableDiffusion creates a client. Override params that have no
// default in the request params are ignored with a warning, except the
// model selector.
func NewStableDiffusion(opts Options) *StableDiffusion {
	if opts.RequestParams == nil {
		opts.RequestParams = DefaultRequestParams()
	}
	if opts.UserOverrideParams == nil {
		opts.UserOverrideParams = DefaultUserOverrideParams
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	params := make(map[string]any, len(opts.RequestParams))
	for k, v := range opts.RequestParams {
		k = strings.ToLower(k)
		if k == samplerAlias {
			k = samplerKey
		}
		if s, ok := v.(string); ok && k == samplerKey && s == "" {
			continue
		}
		params[k] = v
	}
	negNSFW, _ := params[negativeNSFWKey].(string)
	delete(params, negativeNSFWKey)

	overrides := make(map[string]kind)
	for _, p := range opts.UserOverrideParams {
		p = strings.ToLower(p)
		if p == samplerAlias {
			p = samplerKey
		}
		if p == modelKey || p == samplerKey {
			overrides[p] = kindString
			continue
		}
		v, ok := params[p]
		if !ok {
			slog.Warn("Stable Diffusion override param has no default in request_params, ignoring", "param", p)
			continue
		}
		overrides[p] = kindOf(v)
	}

	return &StableDiffusion{
		baseURL:      strings.TrimRight(opts.URL, "/"),
		params:       params,
		negativeNSFW: negNSFW,
		overrides:    overrides,
		extraPrompt:  opts.ExtraPromptText,
		client:       &http.Client{Timeout: opts.Timeout},
		sem:          semaphore.NewWeighted(1),
	}
}

// Setup applies the server options the bot relies on and caches the
// available models and samplers for per-request overrides.
func (s *StableDiffusion) Setup(ctx context.Context) error {
	if err := s.setOptions(ctx); err != nil {
		return err
	}
	models, err := s.listField(ctx, "sd-models", "model_name")
	if err != nil {
		return err
	}
	samplers, err := s.listField(ctx, "samplers", "name")
	if err != nil {
		return err
	}
	s.models, s.samplers = models, samplers
	slog.Info("Stable Diffusion ready", "url", s.baseURL, "models", strings.Join(models, ", "))
	return nil
}

// Models returns the model names cached by Setup.
func (s *StableDiffusion) Models() []string { return s.models }

// Samplers returns the sampler names cached by Setup.
func (s *StableDiffusion) Samplers() []string { return s.samplers }

func (s *StableDiffusion) setOptions(ctx context.Context) error {
	var current map[string]any
	if err := s.do(ctx, http.MethodGet, "options", nil, &current); err != nil {
		return err
	}
	changes := make(map[string]any)
	for k, want := range serverOptions {
		have, ok := current[k]
		if !ok || have == want {
			continue
		}
		slog.Info("Changing Stable Diffusion option", "option", k, "from", have, "to", want)
		changes[k] = want
	}
	if len(changes) == 0 {
		slog.Debug("Stable Diffusion options already set")
		return nil
	}
	return s.do(ctx, http.MethodPost, "options", changes, nil)
}

func (s *StableDiffusion) listField(ctx context.Context, endpoint, field string) ([]string, error) {
	var items []map[string]any
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if v, ok := it[field]; ok {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out, nil
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Generate renders prompt to a PNG. In NSFW channels the NSFW negative
// prompt replaces the default one. key=value words in the prompt set
// allowed request params and are removed from the prompt text.
func (s *StableDiffusion) Generate(ctx context.Context, prompt string, nsfw bool) ([]byte, error) {
	req := s.Request(prompt, nsfw)
	slog.Debug("Stable Diffusion image request", "nsfw", nsfw, "prompt", req["prompt"])

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	var resp txt2imgResponse
	var err error
	for try := 0; ; try++ {
		err = s.do(ctx, http.MethodPost, "txt2img", req, &resp)
		if err == nil || !errors.Is(err, syscall.ECONNRESET) || try >= maxResetRetry {
			break
		}
		slog.Warn("Stable Diffusion connection reset, retrying", "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resetRetryWait):
		}
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("stable diffusion returned no images")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	slog.Debug("Stable Diffusion image generated", "bytes", len(img), "duration", time.Since(start).Round(time.Millisecond))
	return img, nil
}

// Request builds the txt2img request body for prompt.
func (s *StableDiffusion) Request(prompt string, nsfw bool) map[string]any {
	req := maps.Clone(s.params)
	if nsfw {
		req[negativeKey] = s.negativeNSFW
	}
	text := s.applyOverrides(prompt, req)
	if s.extraPrompt != "" {
		text += ", " + s.extraPrompt
	}
	req["prompt"] = text
	return req
}

// paramWords splits a prompt into words, keeping quoted runs together.
var paramWords = regexp.MustCompile(`(?:".*?"|\S)+`)

func (s *StableDiffusion) applyOverrides(prompt string, req map[string]any) string {
	var rest []string
	for _, word := range paramWords.FindAllString(prompt, -1) {
		key, val, ok := s.keyValue(word)
		if !ok {
			rest = append(rest, word)
			continue
		}
		slog.Debug("Stable Diffusion param set by user", "param", key, "value", val)
		req[key] = val
	}
	s.resolveModelAndSampler(req)
	return strings.Join(rest, " ")
}

func (s *StableDiffusion) keyValue(word string) (string, any, bool) {
	key, val, found := strings.Cut(word, "=")
	if !found {
		return "", nil, false
	}
	key = strings.ToLower(key)
	switch key {
	case "np":
		key = negativeKey
	case samplerAlias:
		key = samplerKey
	}
	k, ok := s.overrides[key]
	if !ok {
		return "", nil, false
	}
	if len(val) >= 2 && strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
		val = val[1 : len(val)-1]
	}
	switch k {
	case kindBool:
		switch strings.ToLower(val) {
		case "true", "yes", "y":
			return key, true, true
		case "false", "no", "n":
			return key, false, true
		}
		return "", nil, false
	case kindInt:
		if n, err := strconv.Atoi(val); err == nil {
			return key, n, true
		}
		// Config files write whole floats such as cfg_scale: 7 as ints.
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", nil, false
		}
		return key, f, true
	case kindFloat:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", nil, false
		}
		return key, f, true
	default:
		return key, val, true
	}
}

// resolveModelAndSampler maps user supplied model and sampler names onto
// the ones the server offers. Unknown names are dropped.
func (s *StableDiffusion) resolveModelAndSampler(req map[string]any) {
	if want, ok := req[modelKey].(string); ok {
		delete(req, modelKey)
		if model, found := findName(want, s.models); found {
			settings, _ := req["override_settings"].(map[string]any)
			if settings == nil {
				settings = make(map[string]any)
			}
			settings["sd_model_checkpoint"] = model
			req["override_settings"] = settings
		} else {
			slog.Debug("Stable Diffusion model unavailable", "model", want)
		}
	}
	if want, ok := req[samplerKey].(string); ok && s.samplers != nil {
		if sampler, found := findName(want, s.samplers); found {
			req[samplerKey] = sampler
		} else {
			delete(req, samplerKey)
			slog.Debug("Stable Diffusion sampler unavailable", "sampler", want)
		}
	}
}

// findName returns the first known name that contains want, ignoring
// case.
func findName(want string, known []string) (string, bool) {
	want = strings.ToLower(want)
	if want == "" {
		return "", false
	}
	for _, k := range known {
		if strings.Contains(strings.ToLower(k), want) {
			return k, true
		}
	}
	return "", false
}

func (s *StableDiffusion) do(ctx context.Context, method, endpoint string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+apiPath+endpoint, rd)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stable diffusion %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stable diffusion %s: status %d: %s", endpoint, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
