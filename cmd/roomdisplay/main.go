package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/farouk15160/room-display-agent/internal/agent"
	"github.com/farouk15160/room-display-agent/internal/config"
	"github.com/farouk15160/room-display-agent/internal/display"
	"github.com/farouk15160/room-display-agent/internal/display/canled"
	"github.com/farouk15160/room-display-agent/internal/display/websim"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Log.Format == config.LogConsole {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Info().
		Str("version", config.Version).
		Str("device", cfg.DeviceID).
		Str("broker", cfg.MQTT.Broker).
		Int("port", cfg.MQTT.Port).
		Msg("starting " + config.AppName)

	var (
		devices display.Multi
		web     *websim.Device
	)
	switch cfg.Display.Mode {
	case config.DisplayWeb:
		web = websim.New(websim.Config{Logger: &logger, ListenAddr: cfg.Display.WebAddr})
		devices = append(devices, web)
	default:
		devices = append(devices, display.NewConsole(&logger))
	}
	if cfg.Display.CANInterface != "" {
		led, err := canled.New(canled.Config{
			Logger:    &logger,
			Interface: cfg.Display.CANInterface,
			ID:        cfg.Display.CANID,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create can indicator")
		}
		devices = append(devices, led)
	}

	a, err := agent.New(&agent.Config{
		Logger:   &logger,
		Settings: cfg,
		Device:   devices,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create agent")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	if web != nil {
		wg.Add(1)
		go web.Run(ctx, wg, errc)
	}

	if err := a.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start agent")
	}

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	a.Stop()
	wg.Wait()
}
