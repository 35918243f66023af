package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bartekpacia/homehub/api"
)

const blindsSnapshot = `{
	"id": "GEN#17#13#1", "type": 1001, "status": "0",
	"elements": [
		{"id": "DOM#BL#1", "type": 2, "data": {"id": "DOM#BL#1", "type": 2, "descrizione": "Kitchen", "status": "0"}},
		{"id": "DOM#BL#2", "type": 2, "data": {"id": "DOM#BL#2", "type": 2, "sub_type": 31, "descrizione": "Bedroom", "status": "0", "position": "255"}}
	]
}`

type fakeBlindClient struct {
	mu        sync.Mutex
	commands  []api.BlindCommand
	positions map[string]int
}

func (c *fakeBlindClient) ToggleBlind(_ context.Context, _ string, cmd api.BlindCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commands = append(c.commands, cmd)
	return nil
}

func (c *fakeBlindClient) SetBlindPosition(_ context.Context, id string, percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positions[id] = percent
	return nil
}

type change struct {
	id       string
	position int
	motion   api.BlindMotion
}

func newTestBlinds(t *testing.T) (*blinds, *fakeBlindClient, *[]change) {
	t.Helper()

	home, err := api.NewHomeIndex(json.RawMessage(blindsSnapshot))
	if err != nil {
		t.Fatalf("NewHomeIndex() error = %v", err)
	}

	client := &fakeBlindClient{positions: make(map[string]int)}
	var changes []change
	b := newBlinds(client, home, func(string) time.Duration { return time.Hour }, func(id string, position int, motion api.BlindMotion) {
		changes = append(changes, change{id, position, motion})
	})
	t.Cleanup(b.Close)

	return b, client, &changes
}

func TestBlindsEstimateOnlyWithoutFeedback(t *testing.T) {
	b, _, _ := newTestBlinds(t)

	if _, ok := b.estimators["DOM#BL#1"]; !ok {
		t.Error("no estimator for blind without position feedback")
	}
	if _, ok := b.estimators["DOM#BL#2"]; ok {
		t.Error("estimator created for blind with position feedback")
	}
}

func TestMoveBlind(t *testing.T) {
	b, client, changes := newTestBlinds(t)
	ctx := context.Background()

	err := b.MoveBlind(ctx, "DOM#BL#1", 40)
	if err != nil {
		t.Fatalf("MoveBlind(DOM#BL#1) error = %v", err)
	}

	err = b.MoveBlind(ctx, "DOM#BL#2", 25)
	if err != nil {
		t.Fatalf("MoveBlind(DOM#BL#2) error = %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if len(client.commands) != 1 || client.commands[0] != api.BlindClose {
		t.Errorf("got commands %v, want [close]", client.commands)
	}
	if got := client.positions["DOM#BL#2"]; got != 25 {
		t.Errorf("position of DOM#BL#2 = %d, want 25", got)
	}

	want := change{"DOM#BL#1", 100, api.BlindClosing}
	if len(*changes) != 1 || (*changes)[0] != want {
		t.Errorf("got changes %v, want [%v]", *changes, want)
	}
}

func TestHandleUpdate(t *testing.T) {
	b, _, changes := newTestBlinds(t)

	d, err := api.DecodeDevice(json.RawMessage(`{"id":"DOM#BL#1","type":2,"status":"1"}`))
	if err != nil {
		t.Fatalf("DecodeDevice() error = %v", err)
	}
	b.HandleUpdate("DOM#BL#1", d)

	// Lights are not blinds.
	d, err = api.DecodeDevice(json.RawMessage(`{"id":"DOM#LT#1","type":3,"status":"1"}`))
	if err != nil {
		t.Fatalf("DecodeDevice() error = %v", err)
	}
	b.HandleUpdate("DOM#LT#1", d)

	if len(*changes) != 1 || (*changes)[0].motion != api.BlindOpening {
		t.Errorf("got changes %v, want one opening", *changes)
	}
}
