package highlevel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// DiscoverBroker looks up an MQTT broker advertised over mDNS as service,
// e.g. "_mqtt._tcp", and returns the URL of the first one that answers.
func DiscoverBroker(ctx context.Context, service string, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entries := make(chan *mdns.ServiceEntry, 4)

	go func() {
		defer close(entries)

		params := mdns.DefaultParams(service)
		params.Entries = entries
		params.Timeout = timeout
		params.DisableIPv6 = true

		err := mdns.Query(params)
		if err != nil {
			slog.Debug("mdns query failed", slog.String("service", service), slog.Any("error", err))
		}
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return "", fmt.Errorf("no %s service found", service)
		}

		url, err := brokerURL(entry)
		if err != nil {
			return "", err
		}

		slog.Info("discovered broker", slog.String("service_name", entry.Name), slog.String("url", url))
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func brokerURL(entry *mdns.ServiceEntry) (string, error) {
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	default:
		return "", fmt.Errorf("service %s has no address", entry.Name)
	}

	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)), nil
}
