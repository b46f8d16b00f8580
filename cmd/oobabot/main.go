// Package main is the entry point for the oobabot CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joebot/oobabot/internal/channel"
	"github.com/joebot/oobabot/internal/cli"
	"github.com/joebot/oobabot/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oobabot",
		Short:         "A Discord bot that talks through a local text generation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to configuration file")
	root.AddCommand(
		versionCmd(),
		runCmd(),
		consoleCmd(),
		initCmd(),
		statusCmd(),
		inviteURLCmd(),
		configCmd(),
	)
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultPath
	}
	return path
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cli.Title("v"+cli.Version))
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and answer messages",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath(cmd))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	err = runDiscord(ctx, cfg, os.Stderr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func consoleCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			err = runConsole(ctx, cfg, logFile)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "oobabot-console.log", "Where logs go while the console is open")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunInit(cmd.OutOrStdout(), configPath(cmd), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file without asking")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			config.LoadEnv(path)
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			cli.RunStatus(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
}

func inviteURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite-url",
		Short: "Print the link that adds the bot to a server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			config.LoadEnv(path)
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			id, err := channel.UserIDFromToken(cfg.Discord.Token)
			if err != nil {
				return fmt.Errorf("%w (set %s or discord.discord_token)", err, config.EnvDiscordToken)
			}
			fmt.Fprintln(cmd.OutOrStdout(), channel.InviteURL(id))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			if _, err := loadPersona(cfg); err != nil {
				return err
			}
			if _, err := loadTemplates(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%s)\n", path)
			return nil
		},
	})
	return cmd
}
