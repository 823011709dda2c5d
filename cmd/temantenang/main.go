package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"TemanTenang/internal/chatbot"
	"TemanTenang/internal/config"
)

type options struct {
	configPath  string
	backend     string
	debug       bool
	temperature float64
	persona     string
	ollamaModel string
	cache       bool
	telemetry   bool
	journal     string
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "temantenang",
		Short:        "TemanTenang is a terminal mental health companion chat",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, err := chatbot.NewChatBot(ctx, cfg, in, out)
			if err != nil {
				return fmt.Errorf("failed to initialize chatbot: %w", err)
			}
			return bot.Run(ctx)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML config file")
	flags.StringVar(&opts.backend, "backend", defaults.Backend, "LLM backend (ollama|anthropic|grok|openai)")
	flags.BoolVar(&opts.debug, "debug", defaults.Debug, "Enable debug logging")
	flags.Float64Var(&opts.temperature, "temperature", defaults.Temperature, "Initial reply temperature (0.0-1.0)")
	flags.StringVar(&opts.persona, "persona", defaults.Persona, "Initial predefined persona")
	flags.StringVar(&opts.ollamaModel, "ollama-model", defaults.OllamaModel, "Ollama model specification (format: model:version)")
	flags.BoolVar(&opts.cache, "cache", defaults.CacheReplies, "Cache replies for identical conversations")
	flags.BoolVar(&opts.telemetry, "telemetry", defaults.Telemetry, "Export traces and metrics to the log directory")
	flags.StringVar(&opts.journal, "journal", defaults.JournalPath, "Path to the turn journal database")

	return cmd
}

// loadConfig reads the config file and applies the flags set on the command line over it
func loadConfig(opts options, flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("temperature") {
		cfg.Temperature = opts.temperature
	}
	if flags.Changed("persona") {
		cfg.Persona = opts.persona
	}
	if flags.Changed("ollama-model") {
		cfg.OllamaModel = opts.ollamaModel
	}
	if flags.Changed("cache") {
		cfg.CacheReplies = opts.cache
	}
	if flags.Changed("telemetry") {
		cfg.Telemetry = opts.telemetry
	}
	if flags.Changed("journal") {
		cfg.JournalPath = opts.journal
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
