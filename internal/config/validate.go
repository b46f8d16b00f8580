package config

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/joebot/oobabot/internal/templates"
)

var logLevels = []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL"}

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	// persona
	if strings.TrimSpace(c.Persona.AIName) == "" {
		errs = append(errs, "persona.ai_name must not be empty")
	}

	// discord
	d := c.Discord
	if d.HistoryLines < 0 {
		errs = append(errs, "discord.history_lines must be positive")
	}
	if d.InterrobangBonus < 0 {
		errs = append(errs, "discord.interrobang_bonus must be non-negative")
	}
	if d.UnsolicitedChannelCap < 0 {
		errs = append(errs, "discord.unsolicited_channel_cap must be non-negative")
	}
	if d.RepetitionThreshold < 0 {
		errs = append(errs, "discord.repetition_threshold must be positive")
	}
	if !slices.Contains(logLevels, strings.ToUpper(d.LogLevel)) {
		errs = append(errs, fmt.Sprintf("discord.log_level %q must be one of %s", d.LogLevel, strings.Join(logLevels[:5], ", ")))
	}
	for i, row := range d.TimeVsResponseChance {
		switch {
		case len(row) != 2:
			errs = append(errs, fmt.Sprintf("discord.time_vs_response_chance[%d] must be a [seconds, chance] pair", i))
		case row[0] <= 0:
			errs = append(errs, fmt.Sprintf("discord.time_vs_response_chance[%d] seconds must be positive", i))
		case row[1] < 0 || row[1] > 1:
			errs = append(errs, fmt.Sprintf("discord.time_vs_response_chance[%d] chance must be between 0 and 1", i))
		}
	}

	// oobabooga
	o := c.Oobabooga
	switch o.API {
	case APIOobabooga:
		errs = append(errs, checkURL("oobabooga.base_url", o.BaseURL, "ws", "wss", "http", "https")...)
	case APIOpenAI:
		errs = append(errs, checkURL("oobabooga.base_url", o.BaseURL, "http", "https")...)
	default:
		errs = append(errs, fmt.Sprintf("oobabooga.api %q must be %q or %q", o.API, APIOobabooga, APIOpenAI))
	}
	if o.MessageRegex != "" {
		if _, err := regexp.Compile(o.MessageRegex); err != nil {
			errs = append(errs, fmt.Sprintf("oobabooga.message_regex: %v", err))
		}
	}

	// stable_diffusion
	sd := c.StableDiffusion
	if sd.URL != "" {
		errs = append(errs, checkURL("stable_diffusion.stable_diffusion_url", sd.URL, "http", "https")...)
	}
	for _, w := range sd.ImageWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, "stable_diffusion.image_words must not contain blank words")
			break
		}
	}
	if sd.TimeoutSeconds < 0 {
		errs = append(errs, "stable_diffusion.timeout_seconds must be non-negative")
	}

	// template
	if _, err := templates.NewStore(c.Template); err != nil {
		errs = append(errs, fmt.Sprintf("template: %v", err))
	}

	// metrics
	m := c.Metrics
	if m.Enabled && m.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}
	if m.StatsIntervalSeconds < 0 {
		errs = append(errs, "metrics.stats_interval_seconds must be non-negative")
	}

	return errs
}

func checkURL(field, raw string, schemes ...string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", field, err)}
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return []string{fmt.Sprintf("%s %q must be a %s URL", field, raw, strings.Join(schemes, "/"))}
	}
	return nil
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)

	switch t.Kind() {
	case reflect.Map:
		// Map keys are user-defined (request params, template names); check values only.
		elemType := derefType(t.Elem())
		if elemType.Kind() != reflect.Struct {
			return nil
		}
		var unknown []string
		for key, val := range data {
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, elemType, joinPath(prefix, key))...)
			}
		}
		return unknown

	case reflect.Struct:
		known := yamlFieldMap(t)
		var unknown []string
		for key, val := range data {
			ft, ok := known[key]
			if !ok {
				unknown = append(unknown, joinPath(prefix, key))
				continue
			}
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
			}
		}
		return unknown

	default:
		return nil
	}
}

func yamlFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
