// Command hub talks to objects connected to a home automation hub.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/cfg"
	"github.com/bartekpacia/homehub/highlevel"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

var config *cfg.Config

// This is set by GoReleaser, see https://goreleaser.com/cookbooks/using-main.version
var version = "dev"

func main() {
	app := &cli.App{
		Name:                 "hub",
		Usage:                "Interact with smart home devices connected to a home automation hub",
		Version:              version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output logs in JSON Lines format",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "show debug logs",
			},
			&cli.StringSliceFlag{
				Name:  "config",
				Usage: "read config from `FILE` instead of the default locations",
			},
		},
		Before: func(c *cli.Context) error {
			var level slog.Level
			if c.Bool("debug") {
				level = slog.LevelDebug
			} else {
				level = slog.LevelInfo
			}

			if c.Bool("json") {
				opts := slog.HandlerOptions{Level: level}
				handler := slog.NewJSONHandler(os.Stderr, &opts)
				slog.SetDefault(slog.New(handler))
			} else {
				opts := tint.Options{Level: level, TimeFormat: time.TimeOnly}
				handler := tint.NewHandler(os.Stderr, &opts)
				slog.SetDefault(slog.New(handler))
			}

			files := c.StringSlice("config")
			if len(files) == 0 {
				files = cfg.DefaultFiles()
			}

			var err error
			config, err = cfg.Load(files, ".env")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return nil
		},
		Commands: []*cli.Command{
			&deviceCommand,
			&thermostatCommand,
			&hubCommand,
			&eventCommand,
		},
		CommandNotFound: func(c *cli.Context, command string) {
			log.Printf("invalid command '%s'. See 'hub --help'\n", command)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("exit", slog.Any("error", err))
		os.Exit(1)
	}
}

// connect returns a client logged in to the hub and refreshes the device
// cache. Callers shut the client down.
func connect(ctx context.Context, opts ...api.Option) (*api.Client, *api.HomeIndex, error) {
	err := config.Verify()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	transport := &api.MQTTTransport{
		Username: config.Broker.Username,
		Password: config.Broker.Password,
	}

	client, home, err := highlevel.Connect(ctx, config, transport, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to hub: %w", err)
	}

	err = writeDevicesToCache(home)
	if err != nil {
		slog.Warn("failed to write devices to cache", slog.Any("error", err))
	}

	return client, home, nil
}
