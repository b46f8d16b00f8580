package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joebot/oobabot/internal/decide"
	"github.com/joebot/oobabot/internal/imagegen"
	"github.com/joebot/oobabot/internal/llm"
	"github.com/joebot/oobabot/internal/prompt"
	"github.com/joebot/oobabot/internal/repetition"
)

// API names accepted in oobabooga.api.
const (
	APIOobabooga = "oobabooga"
	APIOpenAI    = "openai"
)

// Config is the root configuration for oobabot.
type Config struct {
	Persona         PersonaConfig         `yaml:"persona"`
	Discord         DiscordConfig         `yaml:"discord"`
	Oobabooga       OobaboogaConfig       `yaml:"oobabooga"`
	StableDiffusion StableDiffusionConfig `yaml:"stable_diffusion"`
	// Template overrides the built-in message templates by name.
	Template map[string]string `yaml:"template"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// PersonaConfig describes who the bot is.
type PersonaConfig struct {
	AIName      string   `yaml:"ai_name"`
	Persona     string   `yaml:"persona"`
	PersonaFile string   `yaml:"persona_file"`
	WakeWords   []string `yaml:"wakewords"`
}

// DiscordConfig holds Discord connection and behaviour settings.
type DiscordConfig struct {
	Token              string   `yaml:"discord_token"`
	AllowFrom          []string `yaml:"allow_from"`
	IgnoreDMs          bool     `yaml:"ignore_dms"`
	ReplyInThread      bool     `yaml:"reply_in_thread"`
	DontSplitResponses bool     `yaml:"dont_split_responses"`
	StreamResponses    bool     `yaml:"stream_responses"`
	HistoryLines       int      `yaml:"history_lines"`
	StopMarkers        []string `yaml:"stop_markers"`
	LogLevel           string   `yaml:"log_level"`

	// TimeVsResponseChance holds [seconds, chance] pairs.
	TimeVsResponseChance  [][]float64 `yaml:"time_vs_response_chance"`
	InterrobangBonus      float64     `yaml:"interrobang_bonus"`
	UnsolicitedChannelCap int         `yaml:"unsolicited_channel_cap"`
	RepetitionThreshold   int         `yaml:"repetition_threshold"`
}

// OobaboogaConfig holds text-generation server settings.
type OobaboogaConfig struct {
	API             string         `yaml:"api"`
	BaseURL         string         `yaml:"base_url"`
	APIKey          string         `yaml:"api_key"`
	Model           string         `yaml:"model"`
	LogAllTheThings bool           `yaml:"log_all_the_things"`
	MessageRegex    string         `yaml:"message_regex"`
	RequestParams   map[string]any `yaml:"request_params"`
}

// StableDiffusionConfig holds image-generation settings. Image
// generation is disabled when URL is empty.
type StableDiffusionConfig struct {
	URL                string         `yaml:"stable_diffusion_url"`
	ImageWords         []string       `yaml:"image_words"`
	ExtraPromptText    string         `yaml:"extra_prompt_text"`
	RequestParams      map[string]any `yaml:"request_params"`
	UserOverrideParams []string       `yaml:"user_override_params"`
	TimeoutSeconds     int            `yaml:"timeout_seconds"`

	// UseAIGeneratedKeywords asks the text model to turn the request
	// into image keywords instead of using the text after the image word.
	UseAIGeneratedKeywords bool `yaml:"use_ai_generated_keywords"`
}

// MetricsConfig holds the health/metrics endpoint and the stats ticker.
type MetricsConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Listen               string `yaml:"listen"`
	StatsIntervalSeconds int    `yaml:"stats_interval_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{
			AIName:    "oobabot",
			Persona:   "",
			WakeWords: []string{"oobabot"},
		},
		Discord: DiscordConfig{
			HistoryLines:        prompt.DefaultHistoryLines,
			StopMarkers:         defaultStopMarkers(),
			LogLevel:            "DEBUG",
			InterrobangBonus:    0.3,
			RepetitionThreshold: repetition.DefaultThreshold,
			TimeVsResponseChance: [][]float64{
				{60, 0.9},
				{120, 0.7},
				{300, 0.5},
			},
			UnsolicitedChannelCap: 3,
		},
		Oobabooga: OobaboogaConfig{
			API:           APIOobabooga,
			BaseURL:       "ws://localhost:5005",
			RequestParams: llm.DefaultParams(),
		},
		StableDiffusion: StableDiffusionConfig{
			ImageWords:         append([]string(nil), imagegen.DefaultImageWords...),
			RequestParams:      imagegen.DefaultRequestParams(),
			UserOverrideParams: append([]string(nil), imagegen.DefaultUserOverrideParams...),
			TimeoutSeconds:     300,
		},
		Template: map[string]string{},
		Metrics: MetricsConfig{
			Listen:               "127.0.0.1:9464",
			StatsIntervalSeconds: 600,
		},
	}
}

func defaultStopMarkers() []string {
	return []string{
		"### End of Transcript ###<|endoftext|>",
		"<|endoftext|>",
	}
}

// ResponseChances converts the time/chance table for the decision engine.
func (c *Config) ResponseChances() []decide.ResponseChance {
	out := make([]decide.ResponseChance, 0, len(c.Discord.TimeVsResponseChance))
	for _, row := range c.Discord.TimeVsResponseChance {
		if len(row) != 2 {
			continue
		}
		out = append(out, decide.ResponseChance{
			MaxAge: time.Duration(row[0] * float64(time.Second)),
			Chance: row[1],
		})
	}
	return out
}

// TokenSpace is the model context size taken from the request
// parameters.
func (c *Config) TokenSpace() int {
	return llm.Params(c.Oobabooga.RequestParams).Int("truncation_length", prompt.DefaultTokenSpace)
}

// LogLevel parses discord.log_level, defaulting to debug.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToUpper(c.Discord.LogLevel) {
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// StatsInterval is how often aggregate response stats are logged.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Metrics.StatsIntervalSeconds) * time.Second
}

// ImageTimeout bounds a single image generation request.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.StableDiffusion.TimeoutSeconds) * time.Second
}
