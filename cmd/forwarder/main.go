package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/runner"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

const usage = `usage: forwarder [flags] <command>

commands:
  run         process configured sources and forward keyword matches
  list-chats  list dialogs and forum topic ids

flags:
  -config string     path to the YAML config file (default ~/` + config.DefaultFileName + `)
  -log-level string  logging level (debug, info, warn, error)
`

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	logLevel := flag.String("log-level", "", "logging level")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	_ = godotenv.Load()
	settings := config.LoadSettings()
	level := settings.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logger.Init(level, settings.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		if err := runForwarder(ctx, settings, *configPath); err != nil {
			log.Error().Err(err).Msg("fatal error")
			os.Exit(1)
		}
	case "list-chats":
		if err := listChats(ctx, settings); err != nil {
			log.Error().Err(err).Msg("fatal error")
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runForwarder(ctx context.Context, settings *config.Settings, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, err := telegram.NewClientFromSettings(settings)
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := runner.RunSources(ctx, client, cfg)
	if err != nil {
		return err
	}

	// per-source errors are operational noise, not run failure
	log := logger.Get()
	for _, stats := range summary.Sources {
		event := log.Info().
			Int64("chat_id", stats.ChatID).
			Int("scanned", stats.Scanned).
			Int("matched", stats.Matched).
			Int("forwarded", stats.Forwarded).
			Int("errors", len(stats.Errors))
		if stats.TopicID != nil {
			event = event.Int("topic_id", *stats.TopicID)
		}
		event.Msg("source")
	}
	return nil
}

func listChats(ctx context.Context, settings *config.Settings) error {
	client, err := telegram.NewClientFromSettings(settings)
	if err != nil {
		return err
	}
	defer client.Close()

	lines, err := runner.ListChats(ctx, client)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
