package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/cfg"
	hubapi "github.com/bartekpacia/homehub/cmd/hubd/api"
	"github.com/bartekpacia/homehub/cmd/hubd/db"
	"github.com/bartekpacia/homehub/cmd/hubd/history"
	"github.com/bartekpacia/homehub/cmd/hubd/homekit"
	"github.com/bartekpacia/homehub/highlevel"
	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

func daemon(ctx context.Context, config *cfg.Config) error {
	transport := &api.MQTTTransport{
		Username: config.Broker.Username,
		Password: config.Broker.Password,
	}

	client, home, err := highlevel.Connect(ctx, config, transport)
	if err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Shutdown(shutdownCtx)
	}()

	slog.Info("connected to hub",
		slog.String("hub_id", config.Hub.ID),
		slog.Int("lights", len(home.Lights())),
		slog.Int("blinds", len(home.Blinds())),
		slog.Int("thermostats", len(home.Thermostats())),
		slog.Int("outlets", len(home.Outlets())),
	)

	// Estimates change only after a blind is moved or its status is pushed,
	// and both start once HomeKit is set up.
	var accessories *homekit.Home
	blinds := newBlinds(client, home, config.TraverseFor, func(id string, position int, motion api.BlindMotion) {
		slog.Debug("blind position estimated",
			slog.String("object_id", id),
			slog.Int("position", position),
			slog.String("motion", string(motion)),
		)
		if accessories != nil {
			accessories.SetBlindPosition(id, position, motion)
		}
	})
	defer blinds.Close()

	// Here we listen to HomeKit events and convert them to requests to the
	// hub to keep the state in sync.
	homekitClient := &homekit.Client{
		PIN:     config.HomeKit.PIN,
		Name:    config.HomeKit.Name,
		Storage: config.HomeKit.Storage,
		OnLightbulbUpdate: func(id string, on bool) {
			logResult("OnLightbulbUpdate", id, on, client.ToggleStatus(ctx, id, on))
		},
		OnDimmerUpdate: func(id string, brightness int) {
			logResult("OnDimmerUpdate", id, brightness, client.SendAction(ctx, id, api.ActionSet, brightness))
		},
		OnOutletUpdate: func(id string, on bool) {
			logResult("OnOutletUpdate", id, on, client.ToggleStatus(ctx, id, on))
		},
		OnThermostatUpdate: func(id string, celsius float64) {
			logResult("OnThermostatUpdate", id, celsius, client.SetTemperature(ctx, id, celsius))
		},
		OnBlindUpdate: func(id string, position int) {
			logResult("OnBlindUpdate", id, position, blinds.MoveBlind(ctx, id, position))
		},
	}

	accessories, err = homekitClient.SetUp(home)
	if err != nil {
		return fmt.Errorf("set up homekit: %w", err)
	}

	httpAPI := hubapi.New(client, blinds, home, config.HTTP.PassphraseHash)

	var writer *db.Writer
	if config.Influx.URL != "" {
		writer, err = db.Connect(ctx, config.Influx.URL, config.Influx.Token, config.Influx.Org, config.Influx.Bucket)
		if err != nil {
			return fmt.Errorf("connect to influx: %w", err)
		}
		defer writer.Close()
	}

	var store *history.Store
	if config.History.Path != "" {
		store, err = history.Open(config.History.Path, config.History.Retention)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()

		httpAPI.UseHistory(store)
	}

	// Here we listen to pushes from the hub and reflect them everywhere.
	client.OnUpdate(func(id string, d api.Device) {
		slog.Debug("object changed",
			slog.String("object_id", id),
			slog.String("name", d.Base().Description),
			slog.String("status", d.Base().Status),
		)

		accessories.Apply(id, d)
		blinds.HandleUpdate(id, d)
		httpAPI.Publish(id, d)
		if writer != nil {
			writer.Record(id, d)
		}
		if store != nil {
			err := store.Record(ctx, id, d, time.Now())
			if err != nil {
				slog.Error("failed to record history", slog.String("object_id", id), slog.Any("error", err))
			}
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := accessories.ListenAndServe(ctx)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("homekit: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return httpAPI.Run(ctx, config.HTTP.Port)
	})

	g.Go(func() error {
		highlevel.KeepAlive(ctx, client, clock.New(), config.Hub.KeepAlive)
		return nil
	})

	if store != nil {
		g.Go(func() error {
			store.PruneEvery(ctx, time.Hour)
			return nil
		})
	}

	return g.Wait()
}

func logResult(callback, id string, value any, err error) {
	attrs := []slog.Attr{
		slog.String("object_id", id),
		slog.Any("value", value),
		slog.String("callback", callback),
	}

	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		slog.LogAttrs(context.TODO(), slog.LevelError, "failed to send request", attrs...)
	} else {
		slog.LogAttrs(context.TODO(), slog.LevelInfo, "sent request", attrs...)
	}
}
