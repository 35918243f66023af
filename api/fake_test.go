package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport records published requests and answers them with replies
// produced by hub, delivered asynchronously like a real broker would.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error
	hub        func(req Request) *Response

	connected    bool
	handler      MessageHandler
	inbound      string
	published    []Request
	unsubscribed []string
	closed       int

	publishes chan Request

	// held responses are delivered only once their channel is closed.
	held map[RequestType]chan struct{}
}

func newFakeTransport(hub func(req Request) *Response) *fakeTransport {
	return &fakeTransport{
		hub:       hub,
		publishes: make(chan Request, 100),
	}
}

func (f *fakeTransport) Connect(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, _ string, payload []byte) error {
	var req Request
	err := json.Unmarshal(payload, &req)
	if err != nil {
		return fmt.Errorf("fake transport: %w", err)
	}

	f.mu.Lock()
	f.published = append(f.published, req)
	hub := f.hub
	f.mu.Unlock()

	f.publishes <- req

	if hub != nil {
		if resp := hub(req); resp != nil {
			go f.deliver(*resp)
		}
	}

	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inbound = topic
	f.handler = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connected = false
	f.closed++
	return nil
}

// hold delays responses of type t until the returned function is called.
func (f *fakeTransport) hold(t RequestType) (release func()) {
	gate := make(chan struct{})

	f.mu.Lock()
	if f.held == nil {
		f.held = make(map[RequestType]chan struct{})
	}
	f.held[t] = gate
	f.mu.Unlock()

	return func() { close(gate) }
}

func (f *fakeTransport) deliver(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		panic(err)
	}

	f.mu.Lock()
	gate := f.held[resp.RequestType]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	handler, topic := f.handler, f.inbound
	f.mu.Unlock()

	handler(topic, payload)
}

// requests returns published requests of type t.
func (f *fakeTransport) requests(t RequestType) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var reqs []Request
	for _, req := range f.published {
		if req.RequestType == t {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// waitRequests waits until at least n requests of type reqType were
// published.
func (f *fakeTransport) waitRequests(t *testing.T, reqType RequestType, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.requests(reqType)) < n {
		if time.Now().After(deadline) {
			t.Fatalf("published fewer than %d %s requests", n, reqType)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitPublished returns the next published request of type t, skipping
// others.
func (f *fakeTransport) waitPublished(t *testing.T, reqType RequestType) Request {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case req := <-f.publishes:
			if req.RequestType == reqType {
				return req
			}
		case <-timeout:
			t.Fatalf("no %s request was published", reqType)
		}
	}
}

// fakeHub answers announce and login requests and accepts requests carrying
// the current session token. Other requests are answered by status, if set.
type fakeHub struct {
	mu sync.Mutex

	rejectLogin bool
	logins      int
	valid       string

	// invalidTokens makes the hub reject the next n session requests with
	// "invalid token", regardless of the token they carry.
	invalidTokens int

	// silent request types get no response at all.
	silent map[RequestType]bool

	snapshot string
}

func (h *fakeHub) handle(req Request) *Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := &Response{
		RequestType:    req.RequestType,
		SequenceID:     req.SequenceID,
		RequestSubType: req.RequestSubType,
	}

	if h.silent[req.RequestType] {
		return nil
	}

	switch req.RequestType {
	case RequestAnnounce:
		resp.OutData = []json.RawMessage{json.RawMessage(`{"agent_id":42,"descrizione":"fake hub"}`)}
		return resp
	case RequestLogin:
		if h.rejectLogin || req.AgentID != 42 {
			resp.ResultCode = 1
			resp.Message = "login failed"
			return resp
		}
		h.logins++
		h.valid = fmt.Sprintf("token-%d", h.logins)
		resp.SessionToken = h.valid
		return resp
	}

	if h.invalidTokens > 0 || req.SessionToken != h.valid {
		if h.invalidTokens > 0 {
			h.invalidTokens--
		}
		resp.ResultCode = 1
		resp.Message = "Invalid token"
		return resp
	}

	if req.RequestType == RequestStatus && h.snapshot != "" {
		resp.ObjectID = req.ObjectID
		resp.OutData = []json.RawMessage{json.RawMessage(h.snapshot)}
	}

	return resp
}

// expire invalidates the current session token.
func (h *fakeHub) expire() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.valid = "expired"
}

func (h *fakeHub) loginCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.logins
}
