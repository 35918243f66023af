// Command hubd bridges the objects of a home automation hub with HomeKit, a
// small HTTP API and, optionally, InfluxDB.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bartekpacia/homehub/cfg"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

// This is set by GoReleaser, see https://goreleaser.com/cookbooks/using-main.version
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "hubd",
		Usage:   "Bridge home automation hub objects with HomeKit",
		Version: version,
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
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "read environment variables from `FILE`",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			setUpLogging(c.Bool("json"), c.Bool("debug"))
			return nil
		},
		Action: func(c *cli.Context) error {
			files := c.StringSlice("config")
			if len(files) == 0 {
				files = cfg.DefaultFiles()
			}

			config, err := cfg.Load(files, c.String("env-file"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			err = config.Verify()
			if err != nil {
				return fmt.Errorf("verify config: %w", err)
			}
			slog.Debug("loaded config", slog.String("config", config.String()))

			return daemon(c.Context, config)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		slog.Error("exit", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func setUpLogging(json, debug bool) {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}

	slog.SetDefault(slog.New(handler))
}
