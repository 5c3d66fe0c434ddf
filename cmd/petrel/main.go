package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/petrel-im/petrel"
	"github.com/petrel-im/petrel/irc"
)

const clientID = "default"

func main() {
	var configPath string
	var nickname string
	var debug bool
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.StringVar(&nickname, "nickname", "", "nick name to use")
	flag.BoolVar(&debug, "debug", false, "log raw protocol data")
	flag.Parse()

	if configPath == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to locate the configuration directory: %s\n", err)
			os.Exit(1)
		}
		configPath = path.Join(configDir, "petrel", "petrel.scfg")
	}

	cfg, err := petrel.LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load the configuration file at %q: %s\n", configPath, err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || debug
	if nickname != "" {
		cfg.Nick = nickname
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	bus := petrel.NewBus()
	registry := petrel.NewRegistry(logger, bus)
	sub := bus.Subscribe(256)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		registry.Close("leaving")
		bus.Close()
	}()

	go connectLoop(ctx, registry, cfg, logger)

	for ev := range sub.Events() {
		printEvent(logger, registry, ev)
	}
}

// connectLoop keeps one client connected, backing off between attempts so a
// flapping server is not hammered.
func connectLoop(ctx context.Context, registry *petrel.Registry, cfg petrel.Config, logger zerolog.Logger) {
	const minDelay = 5 * time.Second
	const maxDelay = 2 * time.Minute
	delay := minDelay
	for {
		client, err := registry.Connect(ctx, clientID, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("connection failed")
		} else {
			delay = minDelay
			select {
			case <-client.Done():
				registry.Disconnect(clientID, "")
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}

func printEvent(logger zerolog.Logger, registry *petrel.Registry, bev petrel.BusEvent) {
	switch ev := bev.Event.(type) {
	case irc.RegisteredEvent:
		client := registry.Get(bev.ClientID)
		if client == nil {
			return
		}
		session := client.Session()
		if session == nil {
			return
		}
		logger.Info().Str("network", session.NetworkName()).Str("nick", session.Nick()).Msg("registered")
	case irc.MessageEvent:
		logger.Info().
			Str("from", ev.User).
			Str("target", ev.Target).
			Bool("action", ev.Action).
			Msg(ev.Content)
	case irc.SelfJoinEvent:
		logger.Info().Str("channel", ev.Channel).Msg("joined")
	case irc.SelfPartEvent:
		logger.Info().Str("channel", ev.Channel).Msg("parted")
	case irc.TopicChangeEvent:
		logger.Info().Str("channel", ev.Channel).Str("topic", ev.Topic).Msg("topic changed")
	case irc.ReactionEvent:
		logger.Info().
			Str("from", ev.User).
			Str("target", ev.Target).
			Str("emoji", ev.Emoji).
			Bool("removed", ev.Removed).
			Msg("reaction")
	case irc.ErrorEvent:
		switch ev.Severity {
		case irc.SeverityFail:
			logger.Error().Str("code", ev.Code).Msg(ev.Message)
		case irc.SeverityWarn:
			logger.Warn().Str("code", ev.Code).Msg(ev.Message)
		default:
			logger.Info().Str("code", ev.Code).Msg(ev.Message)
		}
	}
}
