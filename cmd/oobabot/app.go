package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/joebot/oobabot/internal/bot"
	"github.com/joebot/oobabot/internal/bus"
	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/cli"
	"github.com/joebot/oobabot/internal/config"
	"github.com/joebot/oobabot/internal/decide"
	"github.com/joebot/oobabot/internal/heartbeat"
	"github.com/joebot/oobabot/internal/imagegen"
	"github.com/joebot/oobabot/internal/llm"
	"github.com/joebot/oobabot/internal/logging"
	"github.com/joebot/oobabot/internal/persona"
	"github.com/joebot/oobabot/internal/prompt"
	"github.com/joebot/oobabot/internal/repetition"
	"github.com/joebot/oobabot/internal/server"
	"github.com/joebot/oobabot/internal/stats"
	"github.com/joebot/oobabot/internal/templates"
)

const checkTimeout = 15 * time.Second

func loadConfig(path string) (*config.Config, error) {
	config.LoadEnv(path)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadPersona(cfg *config.Config) (*persona.Persona, error) {
	return persona.Load(cfg.Persona.AIName, cfg.Persona.Persona, cfg.Persona.WakeWords, cfg.Persona.PersonaFile)
}

func loadTemplates(cfg *config.Config) (*templates.Store, error) {
	return templates.NewStore(cfg.Template)
}

// checker is implemented by backends that can verify they are reachable.
type checker interface {
	Check(ctx context.Context) error
}

func connect(ctx context.Context, what string, c checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := c.Check(ctx); err != nil {
		return fmt.Errorf("could not reach %s: %w", what, err)
	}
	slog.Info("Connected", "service", what)
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	o := cfg.Oobabooga
	params := llm.Params(o.RequestParams)
	switch o.API {
	case config.APIOpenAI:
		p := llm.NewOpenAI(o.BaseURL, o.APIKey, o.Model, params, o.LogAllTheThings)
		return p, connect(ctx, "text generation server", p)
	default:
		p := llm.NewOoba(o.BaseURL, params, o.LogAllTheThings)
		return p, connect(ctx, "text generation server", p)
	}
}

func newSplitter(cfg *config.Config) (func() llm.Splitter, error) {
	switch {
	case cfg.Discord.DontSplitResponses:
		return func() llm.Splitter { return &llm.WholeSplitter{} }, nil
	case cfg.Oobabooga.MessageRegex != "":
		re, err := regexp.Compile(cfg.Oobabooga.MessageRegex)
		if err != nil {
			return nil, fmt.Errorf("oobabooga.message_regex: %w", err)
		}
		return func() llm.Splitter { return llm.NewRegexSplitter(re) }, nil
	default:
		return func() llm.Splitter { return llm.NewSentenceSplitter() }, nil
	}
}

func newImages(ctx context.Context, cfg *config.Config) (imagegen.Client, error) {
	sd := cfg.StableDiffusion
	if sd.URL == "" {
		slog.Info("Stable Diffusion disabled")
		return nil, nil
	}
	client := imagegen.NewStableDiffusion(imagegen.Options{
		URL:                sd.URL,
		RequestParams:      sd.RequestParams,
		UserOverrideParams: sd.UserOverrideParams,
		ExtraPromptText:    sd.ExtraPromptText,
		Timeout:            cfg.ImageTimeout(),
	})
	setupCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := client.Setup(setupCtx); err != nil {
		return nil, fmt.Errorf("could not reach Stable Diffusion: %w", err)
	}
	slog.Info("Connected", "service", "Stable Diffusion", "models", len(client.Models()), "samplers", len(client.Samplers()))
	return client, nil
}

// components are the pieces shared by every way of running the bot.
type components struct {
	bot      *bot.Bot
	stats    *stats.Aggregate
	registry *prometheus.Registry
	provider llm.Provider
}

func buildBot(ctx context.Context, cfg *config.Config, b *bus.MessageBus, transport channel.Transport) (*components, error) {
	p, err := loadPersona(cfg)
	if err != nil {
		return nil, err
	}
	tmpl, err := loadTemplates(cfg)
	if err != nil {
		return nil, err
	}
	splitter, err := newSplitter(cfg)
	if err != nil {
		return nil, err
	}

	compositor := prompt.New(prompt.Options{
		AIName:             p.AIName,
		Persona:            p.Text,
		Templates:          tmpl,
		TokenSpace:         cfg.TokenSpace(),
		HistoryLines:       cfg.Discord.HistoryLines,
		DontSplitResponses: cfg.Discord.DontSplitResponses,
	})

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	images, err := newImages(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	agg := stats.New(reg)

	botCfg := bot.Config{
		Bus:       b,
		Transport: transport,
		AIName:    p.AIName,
		Engine: decide.New(decide.Options{
			Wakewords:        p.Wakewords,
			IgnoreDMs:        cfg.Discord.IgnoreDMs,
			InterrobangBonus: cfg.Discord.InterrobangBonus,
			ResponseChances:  cfg.ResponseChances(),
			ChannelCap:       cfg.Discord.UnsolicitedChannelCap,
		}),
		Tracker:       repetition.NewTracker(cfg.Discord.RepetitionThreshold),
		Compositor:    compositor,
		Provider:      provider,
		Templates:     tmpl,
		Stats:         agg,
		AllowFrom:     cfg.Discord.AllowFrom,
		ReplyInThread: cfg.Discord.ReplyInThread,
		HistoryLines:  cfg.Discord.HistoryLines,
		StopMarkers:   cfg.Discord.StopMarkers,
		NewSplitter:   splitter,
		ImageTimeout:  cfg.ImageTimeout(),

		StreamResponses: cfg.Discord.StreamResponses,
	}
	if images != nil {
		botCfg.Images = images
		botCfg.Detector = imagegen.NewDetector(cfg.StableDiffusion.ImageWords)
		botCfg.ImageKeywords = cfg.StableDiffusion.UseAIGeneratedKeywords
	}

	return &components{
		bot:      bot.New(botCfg),
		stats:    agg,
		registry: reg,
		provider: provider,
	}, nil
}

// serve runs the bot and its supporting services until ctx is cancelled
// or one of them fails.
func serve(ctx context.Context, cfg *config.Config, b *bus.MessageBus, c *components, extra func(context.Context, *errgroup.Group)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.bot.Run(gctx)
		return nil
	})
	g.Go(func() error {
		heartbeat.NewService(cfg.StatsInterval(), c.stats).Run(gctx)
		return nil
	})
	if cfg.Metrics.Enabled {
		srv := server.New(server.Config{
			Listen:   cfg.Metrics.Listen,
			Gatherer: c.registry,
			Stats:    c.stats,
			Sessions: b.Sessions,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}
	if extra != nil {
		extra(gctx, g)
	}
	return g.Wait()
}

func runDiscord(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logging.Install(logOut, cfg.LogLevel(), logging.IsTerminal(logOut))
	fmt.Fprintln(logOut, cli.RenderBanner(cfg.Persona.AIName))

	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token: set %s or discord.discord_token in the config file", config.EnvDiscordToken)
	}

	b := bus.NewMessageBus()
	discord, err := channel.NewDiscord(cfg.Discord, cfg.Persona.AIName, b)
	if err != nil {
		return err
	}
	if id, err := channel.UserIDFromToken(cfg.Discord.Token); err == nil {
		slog.Info("Invite the bot to a server with", "url", channel.InviteURL(id))
	}

	c, err := buildBot(ctx, cfg, b, discord)
	if err != nil {
		return err
	}
	discord.SetCommandHandler(c.bot)
	discord.SetButtonHandler(c.bot)

	err = serve(ctx, cfg, b, c, func(gctx context.Context, g *errgroup.Group) {
		g.Go(func() error { return discord.Start(gctx) })
	})
	if stopErr := discord.Stop(); stopErr != nil {
		slog.Warn("Closing Discord session", "err", stopErr)
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func runConsole(ctx context.Context, cfg *config.Config, logFile string) error {
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	logging.Install(f, cfg.LogLevel(), false)

	// The console is a private chat with its only user.
	cfg.Discord.IgnoreDMs = false
	cfg.Discord.AllowFrom = nil

	b := bus.NewMessageBus()
	console := channel.NewConsole(b, cfg.Persona.AIName)

	c, err := buildBot(ctx, cfg, b, console)
	if err != nil {
		return err
	}
	console.SetCommandHandler(c.bot)
	console.SetButtonHandler(c.bot)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = serve(ctx, cfg, b, c, func(gctx context.Context, g *errgroup.Group) {
		g.Go(func() error {
			defer cancel()
			return cli.RunConsole(gctx, console, cli.ConsoleConfig{
				AIName:   cfg.Persona.AIName,
				UserName: consoleUserName(),
				Provider: c.provider.Name(),
			})
		})
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func consoleUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "you"
}
