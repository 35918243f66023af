package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bartekpacia/homehub/api"
)

// cachedDevice is what the cache keeps about an object: enough to complete
// and list names without connecting to the hub.
type cachedDevice struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type api.ObjectType `json:"type"`
}

// cacheDir returns the path to the cache directory.
func cacheDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	cacheDir := filepath.Join(homeDir, ".cache", "homehub")
	err = os.MkdirAll(cacheDir, 0o755)
	if err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	return cacheDir, nil
}

func devicesCachePath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "devices.json"), nil
}

// readDevicesFromCache reads the devices saved by the last command that
// connected to the hub.
func readDevicesFromCache() ([]cachedDevice, error) {
	path, err := devicesCachePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var devices []cachedDevice
	err = json.Unmarshal(data, &devices)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache file: %w", err)
	}

	return devices, nil
}

// writeDevicesToCache saves every object of home except rooms, sorted by id.
func writeDevicesToCache(home *api.HomeIndex) error {
	path, err := devicesCachePath()
	if err != nil {
		return err
	}

	devices := make([]cachedDevice, 0)
	for id, d := range home.All() {
		if _, ok := d.(*api.Room); ok {
			continue
		}

		devices = append(devices, cachedDevice{
			ID:   id,
			Name: strings.TrimSpace(d.Base().Description),
			Type: d.Base().Type,
		})
	}
	slices.SortFunc(devices, func(a, b cachedDevice) int {
		return strings.Compare(a.ID, b.ID)
	})

	data, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("failed to marshal devices: %w", err)
	}

	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}
