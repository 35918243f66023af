// Package highlevel provides convenient wrappers around some common functionality
// in the [api] package.
package highlevel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/cfg"
	"github.com/benbjohnson/clock"
)

// LoginRetryDelay is the time between login attempts rejected by the hub.
var LoginRetryDelay = 2 * time.Second

// Connect returns a client that is logged in, with the home index fetched and
// pushes of every known object subscribed to. Without a broker URL, the broker
// is discovered with mDNS.
//
// The client is shut down if any step fails.
func Connect(ctx context.Context, config *cfg.Config, transport api.Transport, opts ...api.Option) (*api.Client, *api.HomeIndex, error) {
	opts = append([]api.Option{
		api.WithTopicPrefix(config.Hub.TopicPrefix),
		api.WithRequestTimeout(config.Hub.RequestTimeout),
	}, opts...)
	client := api.NewClient(transport, config.Hub.ID, opts...)

	address := config.Broker.URL
	if address == "" {
		var err error
		address, err = DiscoverBroker(ctx, config.Broker.Service, config.Broker.DiscoveryTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("discover broker: %w", err)
		}
	}

	creds := api.Credentials{Username: config.Hub.Username, Password: config.Hub.Password}
	err := client.Init(ctx, address, creds, config.Hub.ClientID)
	if err != nil {
		slog.Error("failed to connect to hub", slog.Any("error", err))
		return nil, nil, fmt.Errorf("init client: %w", err)
	}
	slog.Debug("initialized client", slog.String("client_id", client.ClientID()))

	err = login(ctx, client, config.Hub.LoginAttempts)
	if err != nil {
		client.Shutdown(ctx)
		return nil, nil, err
	}

	home, err := client.FetchHome(ctx)
	if err != nil {
		slog.Error("failed to fetch home", slog.Any("error", err))
		client.Shutdown(ctx)
		return nil, nil, fmt.Errorf("fetch home: %w", err)
	}
	slog.Debug("fetched home",
		slog.Int("objects", len(home.All())),
		slog.Int("lights", len(home.Lights())),
		slog.Int("blinds", len(home.Blinds())),
		slog.Int("thermostats", len(home.Thermostats())),
	)

	for id, d := range home.All() {
		if _, ok := d.(*api.Room); ok || id == api.RootID {
			continue
		}

		err := client.Subscribe(ctx, id)
		if err != nil {
			slog.Error("failed to subscribe", slog.String("object_id", id), slog.Any("error", err))
			client.Shutdown(ctx)
			return nil, nil, err
		}
	}

	slog.Debug("subscribed to objects")

	return client, home, nil
}

func login(ctx context.Context, client *api.Client, attempts int) error {
	attempts = max(attempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := client.Login(ctx)
		if err != nil {
			slog.Error("failed to log in", slog.Any("error", err))
			return fmt.Errorf("login: %w", err)
		}
		if ok {
			return nil
		}

		slog.Warn("login rejected", slog.Int("attempt", attempt), slog.Int("attempts", attempts))
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(LoginRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &api.AuthenticationError{Reason: fmt.Sprintf("login rejected %d times", attempts)}
}

// KeepAlive pings the hub every interval until ctx is done. Failed pings are
// logged. A session that expired is renewed by the ping itself. A
// non-positive interval disables pinging.
func KeepAlive(ctx context.Context, client *api.Client, clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("keep-alive disabled", slog.Duration("interval", interval))
		return
	}

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := client.Ping(ctx)
			if err != nil {
				slog.Error("failed to ping hub", slog.Any("error", err))
			} else {
				slog.Debug("pinged hub")
			}
		case <-ctx.Done():
			return
		}
	}
}
