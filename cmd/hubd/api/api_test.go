package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/cmd/hubd/history"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const snapshot = `{
	"id": "GEN#17#13#1", "type": 1001, "status": "0",
	"elements": [
		{"id": "DOM#LT#1", "type": 3, "data": {"id": "DOM#LT#1", "type": 3, "descrizione": "Ceiling", "status": "1"}},
		{"id": "DOM#BL#1", "type": 2, "data": {"id": "DOM#BL#1", "type": 2, "descrizione": "Window", "status": "0"}},
		{"id": "DOM#CL#1", "type": 9, "data": {"id": "DOM#CL#1", "type": 9, "descrizione": "Living", "status": "0", "temperatura": "200"}}
	]
}`

type fakeController struct {
	mu      sync.Mutex
	toggled map[string]bool
	temps   map[string]float64
	blinds  map[string]int
}

func newFakeController() *fakeController {
	return &fakeController{
		toggled: make(map[string]bool),
		temps:   make(map[string]float64),
		blinds:  make(map[string]int),
	}
}

func (c *fakeController) ToggleStatus(_ context.Context, id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toggled[id] = on
	return nil
}

func (c *fakeController) SetTemperature(_ context.Context, id string, celsius float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.temps[id] = celsius
	return nil
}

func (c *fakeController) MoveBlind(_ context.Context, id string, position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blinds[id] = position
	return nil
}

func newTestServer(t *testing.T, passphrase string, setUp ...func(*API)) (*httptest.Server, *API, *fakeController, *api.HomeIndex) {
	t.Helper()

	home, err := api.NewHomeIndex(json.RawMessage(snapshot))
	if err != nil {
		t.Fatalf("NewHomeIndex() error = %v", err)
	}

	var hash string
	if passphrase != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("GenerateFromPassword() error = %v", err)
		}
		hash = string(h)
	}

	ctrl := newFakeController()
	a := New(ctrl, ctrl, home, hash)
	for _, fn := range setUp {
		fn(a)
	}
	server := httptest.NewServer(a.Routes())
	t.Cleanup(server.Close)

	return server, a, ctrl, home
}

func do(t *testing.T, method, url, body, passphrase string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if passphrase != "" {
		req.Header.Set("Authorization", "Passphrase: "+passphrase)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestPassphrase(t *testing.T) {
	server, _, _, _ := newTestServer(t, "open sesame")

	tests := []struct {
		name       string
		passphrase string
		want       int
	}{
		{name: "Missing", passphrase: "", want: http.StatusUnauthorized},
		{name: "Wrong", passphrase: "open barley", want: http.StatusUnauthorized},
		{name: "Correct", passphrase: "open sesame", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, server.URL+"/api/devices", "", tt.passphrase)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGetDevices(t *testing.T) {
	server, _, _, _ := newTestServer(t, "")

	resp := do(t, http.MethodGet, server.URL+"/api/devices", "", "")

	var devices []device
	err := json.NewDecoder(resp.Body).Decode(&devices)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("got %d devices, want 3", len(devices))
	}

	resp = do(t, http.MethodGet, server.URL+"/api/devices/DOM%23XX%231", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status of unknown device = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestCommands(t *testing.T) {
	server, _, ctrl, _ := newTestServer(t, "")

	resp := do(t, http.MethodPost, server.URL+"/api/devices/DOM%23LT%231/toggle", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("toggle status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = do(t, http.MethodPost, server.URL+"/api/blinds/DOM%23BL%231/position", `{"position":40}`, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("position status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = do(t, http.MethodPost, server.URL+"/api/blinds/DOM%23BL%231/position", `{"position":140}`, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid position status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = do(t, http.MethodPost, server.URL+"/api/thermostats/DOM%23CL%231/temperature", `{"temperature":21.5}`, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("temperature status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	if on, ok := ctrl.toggled["DOM#LT#1"]; !ok || on {
		t.Errorf("light toggled to %v (sent: %v), want off", on, ok)
	}
	if got := ctrl.blinds["DOM#BL#1"]; got != 40 {
		t.Errorf("blind moved to %d, want 40", got)
	}
	if got := ctrl.temps["DOM#CL#1"]; got != 21.5 {
		t.Errorf("temperature set to %v, want 21.5", got)
	}
}

func TestEvents(t *testing.T) {
	server, a, _, home := newTestServer(t, "")

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// The listener is registered after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		a.mu.Lock()
		n := len(a.listeners)
		a.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event stream was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	d, ok := home.Update("DOM#LT#1", map[string]json.RawMessage{"status": json.RawMessage(`"0"`)})
	if !ok {
		t.Fatal("Update() returned false")
	}
	a.Publish("DOM#LT#1", d)

	err = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}

	var e event
	err = conn.ReadJSON(&e)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}

	if e.ID != "DOM#LT#1" || e.Type != api.ObjectLight {
		t.Errorf("got event %+v, want one for DOM#LT#1", e)
	}

	var fields map[string]any
	err = json.Unmarshal(e.Fields, &fields)
	if err != nil {
		t.Fatalf("unmarshal fields: %v", err)
	}
	if fields["status"] != "0" || fields["descrizione"] != "Ceiling" {
		t.Errorf("got fields %v, want merged record", fields)
	}
}

type fakeHistory struct {
	mu    sync.Mutex
	id    string
	limit int
}

func (h *fakeHistory) Query(_ context.Context, id string, limit int) ([]history.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.id = id
	h.limit = limit
	return []history.Event{{ObjectID: id, Type: api.ObjectLight, Status: "1", Fields: json.RawMessage(`{}`)}}, nil
}

func TestHistory(t *testing.T) {
	server, _, _, _ := newTestServer(t, "")

	resp := do(t, http.MethodGet, server.URL+"/api/devices/DOM%23LT%231/history", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status without history = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	h := &fakeHistory{}
	server, _, _, _ = newTestServer(t, "", func(a *API) { a.UseHistory(h) })

	resp = do(t, http.MethodGet, server.URL+"/api/devices/DOM%23LT%231/history?limit=5", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var events []history.Event
	err := json.NewDecoder(resp.Body).Decode(&events)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) != 1 || events[0].ObjectID != "DOM#LT#1" {
		t.Errorf("got events %+v, want one of DOM#LT#1", events)
	}
	h.mu.Lock()
	if h.id != "DOM#LT#1" || h.limit != 5 {
		t.Errorf("queried (%s, %d), want (DOM#LT#1, 5)", h.id, h.limit)
	}
	h.mu.Unlock()

	resp = do(t, http.MethodGet, server.URL+"/api/devices/DOM%23LT%231/history?limit=zero", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status of invalid limit = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
