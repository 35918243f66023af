// Package api implements the client side of the hub's request/response
// protocol, spoken over a publish/subscribe transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// DefaultRequestTimeout is how long a request waits for its response unless
// changed with [WithRequestTimeout].
const DefaultRequestTimeout = 5 * time.Second

// Pushes waiting for the update handler. Once full, the transport's message
// handlers block until there is room.
const updateBufferSize = 256

// UpdateHandler is called with the merged record every time the hub pushes a
// change of a known object. Calls are sequential, in arrival order.
type UpdateHandler func(id string, d Device)

// BlindCommand is the value of a set action sent to a blind.
type BlindCommand int

const (
	BlindClose BlindCommand = 0
	BlindOpen  BlindCommand = 1
	BlindStop  BlindCommand = 2
)

// ClimaMode is the operating mode of a thermostat or dehumidifier.
type ClimaMode int

const (
	ClimaAuto       ClimaMode = 1
	ClimaManual     ClimaMode = 2
	ClimaSemiAuto   ClimaMode = 3
	ClimaSemiManual ClimaMode = 4
	ClimaOffAuto    ClimaMode = 5
	ClimaOffManual  ClimaMode = 6
)

// Season selects whether a thermostat heats or cools.
type Season int

const (
	SeasonSummer Season = 0
	SeasonWinter Season = 1
)

type Option func(*Client)

// WithTopicPrefix overrides [DefaultTopicPrefix].
func WithTopicPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = prefix
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClock sets the clock used for request deadlines.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

func WithUpdateHandler(h UpdateHandler) Option {
	return func(c *Client) {
		c.onUpdate = h
	}
}

// Client talks to a single hub. It is safe for concurrent use.
type Client struct {
	transport Transport
	clock     clock.Clock
	prefix    string
	hubID     string
	timeout   time.Duration

	queue  *requestQueue
	logins singleflight.Group

	mu       sync.Mutex
	state    State
	session  Session
	creds    Credentials
	clientID string
	home     *HomeIndex
	onUpdate UpdateHandler
	updates  chan Response
	done     chan struct{}
}

// NewClient creates a client for the hub with the given id. It does not
// connect until [Client.Init] is called.
func NewClient(t Transport, hubID string, opts ...Option) *Client {
	c := &Client{
		transport: t,
		clock:     clock.New(),
		prefix:    DefaultTopicPrefix,
		hubID:     hubID,
		timeout:   DefaultRequestTimeout,
	}
	c.queue = newRequestQueue(c.enqueueUpdate)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// OnUpdate replaces the handler called for pushed changes.
func (c *Client) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onUpdate = h
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// ClientID returns the id topics are scoped to. It is empty before Init.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clientID
}

// Home returns the index installed by the last [Client.FetchHome], or nil.
func (c *Client) Home() *HomeIndex {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.home
}

// Init connects to the broker at address, subscribes to the client's inbound
// topic and announces the client to the hub. If clientID is empty, a random
// one is generated.
//
// On success the client is logged out. Call [Client.Login] next.
func (c *Client) Init(ctx context.Context, address string, creds Credentials, clientID string) error {
	if clientID == "" {
		clientID = NewClientID()
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("init: client is already %s", state)
	}
	c.state = StateConnecting
	c.creds = creds
	c.clientID = clientID
	c.updates = make(chan Response, updateBufferSize)
	c.done = make(chan struct{})
	go c.dispatchUpdates(c.updates, c.done)
	c.mu.Unlock()

	logger := slog.With(slog.String("address", address), slog.String("client_id", clientID))

	err := c.transport.Connect(ctx, address, clientID)
	if err != nil {
		c.teardown(ctx, false)
		return &ConnectionError{Op: "connect", Err: err}
	}
	logger.Debug("connected")

	err = c.transport.Subscribe(ctx, c.inboundTopic(), c.handleMessage)
	if err != nil {
		c.teardown(ctx, false)
		return &ConnectionError{Op: "subscribe", Err: err}
	}

	resp, err := c.publish(ctx, Request{
		RequestType:    RequestAnnounce,
		RequestSubType: SubTypeNone,
		AgentType:      ptr(AgentTypeClient),
	})
	if err != nil {
		c.teardown(ctx, true)
		return fmt.Errorf("announce: %w", err)
	}

	agentID := resp.AgentID
	if len(resp.OutData) > 0 {
		var data announceData
		err = json.Unmarshal(resp.OutData[0], &data)
		if err != nil {
			c.teardown(ctx, true)
			return fmt.Errorf("announce: decode agent: %w", err)
		}
		agentID = data.AgentID
	}

	c.mu.Lock()
	c.session.AgentID = agentID
	c.state = StateLoggedOut
	c.mu.Unlock()

	logger.Info("announced to hub", slog.Int("agent_id", agentID))

	return nil
}

// Login logs in with the credentials passed to [Client.Init].
//
// If the hub rejects the credentials, it returns false and no error, so that
// callers can retry. Errors are returned for failures to reach the hub.
func (c *Client) Login(ctx context.Context) (bool, error) {
	c.mu.Lock()
	state := c.state
	creds := c.creds
	agentID := c.session.AgentID
	c.mu.Unlock()

	if state == StateDisconnected || state == StateConnecting {
		return false, ErrNotConnected
	}

	req := Request{
		RequestType:    RequestLogin,
		RequestSubType: SubTypeNone,
		AgentID:        agentID,
		Username:       creds.Username,
		Password:       creds.Password,
	}
	resp, err := c.send(ctx, &req)

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		slog.Warn("hub rejected login",
			slog.String("username", creds.Username),
			slog.String("message", protoErr.Message),
		)

		c.mu.Lock()
		if c.state == StateLoggedIn {
			c.state = StateLoggedOut
		}
		c.mu.Unlock()

		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.session.Token = resp.SessionToken
	if c.state == StateLoggedOut {
		c.state = StateLoggedIn
	}
	c.mu.Unlock()

	slog.Info("logged in", slog.String("username", creds.Username))

	return true, nil
}

// publish sends req and waits for its response. If the hub reports that the
// session token is invalid, it logs in again once and resends req under a new
// sequence id. A second invalid token is an [AuthenticationError].
func (c *Client) publish(ctx context.Context, req Request) (*Response, error) {
	attempt := req
	resp, err := c.send(ctx, &attempt)
	if !errors.Is(err, ErrInvalidToken) {
		return resp, err
	}

	slog.Warn("session token rejected, logging in again",
		slog.String("req_type", req.RequestType.String()),
		slog.Int("seq_id", attempt.SequenceID),
	)

	err = c.relogin(ctx, attempt.SessionToken)
	if err != nil {
		return nil, err
	}

	retry := req
	resp, err = c.send(ctx, &retry)
	if errors.Is(err, ErrInvalidToken) {
		return nil, &AuthenticationError{Reason: "session token rejected after login", Err: err}
	}

	return resp, err
}

// relogin replaces the session token, unless it has changed since stale was
// sent. Concurrent callers share a single login, which outlives the caller
// that started it and is bounded by the request timeout only.
func (c *Client) relogin(ctx context.Context, stale string) error {
	loginCtx := context.WithoutCancel(ctx)

	results := c.logins.DoChan("login", func() (any, error) {
		c.mu.Lock()
		current := c.session.Token
		c.mu.Unlock()

		if current != stale {
			return nil, nil
		}

		ok, err := c.Login(loginCtx)
		if err != nil {
			return nil, &AuthenticationError{Reason: "login failed", Err: err}
		}
		if !ok {
			return nil, &AuthenticationError{Reason: "login rejected"}
		}

		return nil, nil
	})

	select {
	case res := <-results:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send assigns the next sequence id to req, attaches the session token if
// needed and waits for the response until the request deadline.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	req.SequenceID = c.session.next()
	if requiresSession(req.RequestType) {
		req.SessionToken = c.session.Token
	}
	topic := c.outboundTopic()

	payload, err := json.Marshal(req)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("marshal %s request: %w", req.RequestType, err)
	}

	call := c.queue.enqueue(*req)
	c.mu.Unlock()

	key := req.key()

	timer := c.clock.Timer(c.timeout)
	defer timer.Stop()

	slog.Debug("sending request",
		slog.String("req_type", req.RequestType.String()),
		slog.Int("seq_id", req.SequenceID),
		slog.String("object_id", req.ObjectID),
	)

	err = c.transport.Publish(ctx, topic, payload)
	if err != nil {
		c.queue.remove(key)
		return nil, &ConnectionError{Op: "publish", Err: err}
	}

	select {
	case res := <-call.result:
		return res.resp, res.err
	case <-timer.C:
		if c.queue.remove(key) {
			return nil, &TimeoutError{RequestType: req.RequestType, SequenceID: req.SequenceID, After: c.timeout}
		}
	case <-ctx.Done():
		if c.queue.remove(key) {
			return nil, ctx.Err()
		}
	}

	// The call was settled while the deadline expired.
	res := <-call.result
	return res.resp, res.err
}

// handleMessage is the transport handler of the inbound topic.
func (c *Client) handleMessage(topic string, payload []byte) {
	var resp Response
	err := json.Unmarshal(payload, &resp)
	if err != nil {
		slog.Warn("failed to decode message",
			slog.String("topic", topic),
			slog.Any("error", err),
		)
		return
	}

	slog.Debug("received message",
		slog.String("req_type", resp.RequestType.String()),
		slog.Int("seq_id", resp.SequenceID),
		slog.Int("req_result", resp.ResultCode),
		slog.String("object_id", resp.ObjectID),
	)

	c.queue.onResponse(resp)
}

// enqueueUpdate hands an unsolicited push over to the dispatcher.
func (c *Client) enqueueUpdate(resp Response) {
	c.mu.Lock()
	updates, done := c.updates, c.done
	c.mu.Unlock()

	if updates == nil {
		return
	}

	select {
	case updates <- resp:
	case <-done:
	}
}

func (c *Client) dispatchUpdates(updates <-chan Response, done <-chan struct{}) {
	for {
		select {
		case resp := <-updates:
			c.applyUpdate(resp)
		case <-done:
			return
		}
	}
}

// applyUpdate merges a push into the home index and notifies the update
// handler for every record that was merged.
func (c *Client) applyUpdate(resp Response) {
	c.mu.Lock()
	home, handler := c.home, c.onUpdate
	c.mu.Unlock()

	if home == nil {
		slog.Debug("no home index, ignoring push", slog.String("object_id", resp.ObjectID))
		return
	}

	for _, data := range resp.OutData {
		var fields map[string]json.RawMessage
		err := json.Unmarshal(data, &fields)
		if err != nil {
			slog.Warn("failed to decode push",
				slog.String("object_id", resp.ObjectID),
				slog.Any("error", err),
			)
			continue
		}

		id := resp.ObjectID
		if raw, ok := fields["id"]; ok {
			var fieldID string
			if json.Unmarshal(raw, &fieldID) == nil && fieldID != "" {
				id = fieldID
			}
		}

		d, ok := home.Update(id, fields)
		if !ok {
			slog.Debug("push for unknown object", slog.String("object_id", id))
			continue
		}

		if handler != nil {
			handler(id, d)
		}
	}
}

// Shutdown unsubscribes, closes the transport and forgets the session. Calls
// still waiting for a response fail with [ErrClientClosed].
//
// It is safe to call Shutdown more than once. Transport errors are logged.
func (c *Client) Shutdown(ctx context.Context) {
	c.teardown(ctx, true)
}

func (c *Client) teardown(ctx context.Context, unsubscribe bool) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.session.AgentID = 0
	c.session.Token = ""
	topic := c.inboundTopic()
	done := c.done
	c.mu.Unlock()

	if unsubscribe {
		err := c.transport.Unsubscribe(ctx, topic)
		if err != nil {
			slog.Error("failed to unsubscribe", slog.String("topic", topic), slog.Any("error", err))
		}
	}

	err := c.transport.Close()
	if err != nil {
		slog.Error("failed to close transport", slog.Any("error", err))
	}

	close(done)
	c.queue.flush(&ConnectionError{Op: "shutdown", Err: ErrClientClosed})
}

func (c *Client) inboundTopic() string {
	return InboundTopic(c.prefix, c.hubID, c.clientID)
}

func (c *Client) outboundTopic() string {
	return OutboundTopic(c.prefix, c.hubID, c.clientID)
}
