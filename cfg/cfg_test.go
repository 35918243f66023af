package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testTOML = `
[broker]
url = "tcp://192.168.1.2:1883"

[hub]
id = "0025291701EC"
password = "secret"
request_timeout = "3s"

[blinds]
traverse = "40s"

[blinds.overrides]
"DOM#BL#2" = "20s"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(p, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return p
}

func TestLoad(t *testing.T) {
	tomlFile := writeFile(t, "config.toml", testTOML)
	dotenvFile := writeFile(t, ".env", "HOMEHUB_HUB__CLIENT_ID=from-dotenv\nHOMEHUB_HTTP__PORT=8080\nOTHER=ignored\n")
	t.Setenv("HOMEHUB_HUB__PASSWORD", "from-env")

	config, err := Load([]string{"/nonexistent/config.toml", tomlFile}, dotenvFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "broker url from toml", got: config.Broker.URL, want: "tcp://192.168.1.2:1883"},
		{name: "hub id from toml", got: config.Hub.ID, want: "0025291701EC"},
		{name: "username default", got: config.Hub.Username, want: "admin"},
		{name: "topic prefix default", got: config.Hub.TopicPrefix, want: "HSrv"},
		{name: "password from env", got: config.Hub.Password, want: "from-env"},
		{name: "client id from dotenv", got: config.Hub.ClientID, want: "from-dotenv"},
		{name: "port from dotenv", got: config.HTTP.Port, want: 8080},
		{name: "timeout from toml", got: config.Hub.RequestTimeout, want: 3 * time.Second},
		{name: "keep alive default", got: config.Hub.KeepAlive, want: 30 * time.Second},
		{name: "traverse override", got: config.TraverseFor("DOM#BL#2"), want: 20 * time.Second},
		{name: "traverse", got: config.TraverseFor("DOM#BL#1"), want: 40 * time.Second},
		{name: "broker service default", got: config.Broker.Service, want: "_mqtt._tcp"},
		{name: "history retention default", got: config.History.Retention, want: 720 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if err := config.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify(t *testing.T) {
	config, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err = config.Verify()
	if err == nil || !strings.Contains(err.Error(), "hub.id") {
		t.Errorf("Verify() error = %v, want one naming hub.id", err)
	}

	config.Hub.ID = "hub"
	err = config.Verify()
	if err == nil || !strings.Contains(err.Error(), "hub.password") {
		t.Errorf("Verify() error = %v, want one naming hub.password", err)
	}
}

func TestVerifyIntervals(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "Defaults", env: map[string]string{}},
		{name: "ZeroKeepAlive", env: map[string]string{"HOMEHUB_HUB__KEEP_ALIVE": "0s"}, wantErr: "hub.keep_alive"},
		{name: "NegativeKeepAlive", env: map[string]string{"HOMEHUB_HUB__KEEP_ALIVE": "-1s"}, wantErr: "hub.keep_alive"},
		{name: "ZeroRequestTimeout", env: map[string]string{"HOMEHUB_HUB__REQUEST_TIMEOUT": "0s"}, wantErr: "hub.request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOMEHUB_HUB__ID", "0025291701EC")
			t.Setenv("HOMEHUB_HUB__PASSWORD", "secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			config, err := Load(nil, "")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			err = config.Verify()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Verify() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() error = %v, want one naming %s", err, tt.wantErr)
			}
		})
	}
}
