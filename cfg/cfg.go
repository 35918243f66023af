// Package cfg loads configuration shared by the CLI and the daemon.
//
// Values are read, in order, from /etc/homehub/config.toml,
// ~/.config/homehub/config.toml, a .env file in the working directory and the
// environment. Later sources override earlier ones.
//
// Environment variables are prefixed with HOMEHUB_ and use a double
// underscore between sections, e.g. HOMEHUB_HUB__PASSWORD sets hub.password.
package cfg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const envPrefix = "HOMEHUB_"

type Config struct {
	Broker  Broker  `koanf:"broker"`
	Hub     Hub     `koanf:"hub"`
	Blinds  Blinds  `koanf:"blinds"`
	HomeKit HomeKit `koanf:"homekit"`
	HTTP    HTTP    `koanf:"http"`
	Influx  Influx  `koanf:"influx"`
	History History `koanf:"history"`
}

// Broker is the MQTT broker the hub is connected to. If URL is empty, the
// broker is looked up with mDNS as Service.
type Broker struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	Service          string        `koanf:"service"`
	DiscoveryTimeout time.Duration `koanf:"discovery_timeout"`
}

type Hub struct {
	ID          string `koanf:"id"`
	ClientID    string `koanf:"client_id"`
	TopicPrefix string `koanf:"topic_prefix"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`

	RequestTimeout time.Duration `koanf:"request_timeout"`
	KeepAlive      time.Duration `koanf:"keep_alive"`
	LoginAttempts  int           `koanf:"login_attempts"`
}

// Blinds configures how long blinds take to fully open or close.
type Blinds struct {
	Traverse  time.Duration            `koanf:"traverse"`
	Overrides map[string]time.Duration `koanf:"overrides"`
}

type HomeKit struct {
	Name    string `koanf:"name"`
	PIN     string `koanf:"pin"`
	Storage string `koanf:"storage"`
}

type HTTP struct {
	Port int `koanf:"port"`
	// PassphraseHash is a bcrypt hash of the passphrase API clients send.
	PassphraseHash string `koanf:"passphrase_hash"`
}

// Influx is optional. Nothing is written unless URL is set.
type Influx struct {
	URL    string `koanf:"url"`
	Token  string `koanf:"token"`
	Org    string `koanf:"org"`
	Bucket string `koanf:"bucket"`
}

// History is optional. Nothing is recorded unless Path is set.
type History struct {
	Path      string        `koanf:"path"`
	Retention time.Duration `koanf:"retention"`
}

var defaults = map[string]any{
	"broker.service":           "_mqtt._tcp",
	"broker.discovery_timeout": "5s",
	"hub.topic_prefix":         "HSrv",
	"hub.username":             "admin",
	"hub.request_timeout":      "5s",
	"hub.keep_alive":           "30s",
	"hub.login_attempts":       5,
	"blinds.traverse":          "35s",
	"homekit.name":             "homehub",
	"homekit.pin":              "00102003",
	"homekit.storage":          "./db",
	"http.port":                9001,
	"history.retention":        "720h",
}

// DefaultFiles returns the TOML files [Load] reads when given none.
func DefaultFiles() []string {
	files := []string{"/etc/homehub/config.toml"}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		files = append(files, filepath.Join(homeDir, ".config", "homehub", "config.toml"))
	}

	return files
}

// Load reads configuration from the TOML files, then from dotenvFile, then
// from the environment. Missing files are skipped.
func Load(files []string, dotenvFile string) (*Config, error) {
	k := koanf.New(".")

	err := k.Load(confmap.Provider(defaults, "."), nil)
	if err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	for _, p := range files {
		if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
			slog.Debug("failed to load config file", slog.Any("error", err))
		} else {
			slog.Debug("loaded config file", slog.String("path", p))
		}
	}

	if dotenvFile != "" {
		if err := k.Load(file.Provider(dotenvFile), dotenv.ParserEnv(envPrefix, ".", envKey)); err != nil {
			slog.Debug("failed to load dotenv file", slog.Any("error", err))
		} else {
			slog.Debug("loaded dotenv file", slog.String("path", dotenvFile))
		}
	}

	err = k.Load(env.Provider(envPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var config Config
	err = k.Unmarshal("", &config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &config, nil
}

// envKey maps HOMEHUB_HUB__CLIENT_ID to hub.client_id.
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Verify returns an error naming the first missing required value.
func (c *Config) Verify() error {
	required := []struct {
		key   string
		value string
	}{
		{"hub.id", c.Hub.ID},
		{"hub.username", c.Hub.Username},
		{"hub.password", c.Hub.Password},
	}

	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is not set", r.key)
		}
	}

	if c.Broker.URL == "" && c.Broker.Service == "" {
		return fmt.Errorf("broker.url or broker.service must be set")
	}

	if c.Hub.RequestTimeout <= 0 {
		return fmt.Errorf("hub.request_timeout must be positive")
	}

	if c.Hub.KeepAlive <= 0 {
		return fmt.Errorf("hub.keep_alive must be positive")
	}

	return nil
}

// TraverseFor returns the traverse duration of the blind with the given id.
func (c *Config) TraverseFor(id string) time.Duration {
	if d, ok := c.Blinds.Overrides[id]; ok && d > 0 {
		return d
	}

	return c.Blinds.Traverse
}

func (c Config) String() string {
	return fmt.Sprint("broker:", c.Broker.URL, " hub:", c.Hub.ID, " username:", c.Hub.Username)
}
