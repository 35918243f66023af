// Package blind estimates the position of blinds that report only when they
// start and stop moving.
//
// The position is always derived from elapsed motion time, so repeated short
// moves accumulate drift. Nothing corrects it without real feedback.
package blind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/benbjohnson/clock"
)

// DefaultTraverse is how long a blind takes to move between end positions
// unless configured otherwise.
const DefaultTraverse = 35 * time.Second

// ErrClosed is returned by operations on a closed [Estimator].
var ErrClosed = errors.New("estimator is closed")

// Controller sends motion commands to the hub.
type Controller interface {
	ToggleBlind(ctx context.Context, id string, cmd api.BlindCommand) error
}

type State int

const (
	Stopped State = iota
	Opening
	Closing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Opening:
		return "opening"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChangeFunc is called after the state or the estimated position changed.
type ChangeFunc func(position int, state State)

type Option func(*Estimator)

func WithClock(clk clock.Clock) Option {
	return func(e *Estimator) {
		e.clock = clk
	}
}

// WithTraverse sets the time the blind takes to fully open or close.
func WithTraverse(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.traverse = d
		}
	}
}

// WithPosition sets the initial position in percent. Defaults to 100 (open).
func WithPosition(p int) Option {
	return func(e *Estimator) {
		e.position = clamp(p)
		e.target = e.position
	}
}

func WithOnChange(fn ChangeFunc) Option {
	return func(e *Estimator) {
		e.onChange = fn
	}
}

// Estimator tracks a single blind. Positions are in percent, 100 is fully
// open and 0 is fully closed.
type Estimator struct {
	id       string
	ctrl     Controller
	clock    clock.Clock
	traverse time.Duration
	onChange ChangeFunc

	mu        sync.Mutex
	state     State
	position  int
	target    int
	startedAt time.Time
	closed    bool

	// timer stops a motion started by SetTarget. generation is bumped every
	// time the timer is replaced or cancelled, so that a callback that lost
	// the race against Stop does nothing.
	timer      *clock.Timer
	generation int
}

func New(id string, ctrl Controller, opts ...Option) *Estimator {
	e := &Estimator{
		id:       id,
		ctrl:     ctrl,
		clock:    clock.New(),
		traverse: DefaultTraverse,
		position: 100,
		target:   100,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Estimator) ID() string {
	return e.id
}

// Position returns the estimated position.
func (e *Estimator) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.position
}

// Target returns the position requested by the last accepted SetTarget.
func (e *Estimator) Target() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.target
}

func (e *Estimator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// SetTarget starts moving the blind towards p and stops it once the time
// needed to get there has passed.
//
// If a motion started by SetTarget is still running, the blind is stopped
// instead and p is discarded, same as pressing a button twice. Motion
// started outside is settled first, and if it already reached p the blind is
// stopped.
//
// If the command can't be sent, the error is returned and no stop is
// scheduled.
func (e *Estimator) SetTarget(ctx context.Context, p int) error {
	p = clamp(p)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	if e.timer != nil {
		e.cancelTimer()
		e.settle(e.clock.Now())
		e.mu.Unlock()
		e.notify()

		slog.Debug("blind already moving, stopping", slog.String("object_id", e.id))

		err := e.ctrl.ToggleBlind(ctx, e.id, api.BlindStop)
		if err != nil {
			return fmt.Errorf("stop blind %s: %w", e.id, err)
		}
		return nil
	}

	// Motion reported by the hub but not started here keeps running until the
	// new command, so it counts towards the position the command starts from.
	external := e.state != Stopped
	e.settle(e.clock.Now())

	delta := e.position - p
	if delta == 0 {
		e.mu.Unlock()
		if !external {
			return nil
		}

		e.notify()

		err := e.ctrl.ToggleBlind(ctx, e.id, api.BlindStop)
		if err != nil {
			return fmt.Errorf("stop blind %s: %w", e.id, err)
		}
		return nil
	}

	state, cmd := Opening, api.BlindOpen
	if delta > 0 {
		state, cmd = Closing, api.BlindClose
	}

	e.state = state
	e.target = p
	e.startedAt = e.clock.Now()
	e.generation++
	generation := e.generation
	duration := time.Duration(float64(e.traverse) * float64(abs(delta)) / 100)
	e.timer = e.clock.AfterFunc(duration, func() {
		e.onTimer(generation)
	})
	e.mu.Unlock()

	slog.Debug("moving blind",
		slog.String("object_id", e.id),
		slog.String("state", state.String()),
		slog.Int("target", p),
		slog.Duration("duration", duration),
	)

	err := e.ctrl.ToggleBlind(ctx, e.id, cmd)
	if err != nil {
		e.mu.Lock()
		if e.generation == generation {
			e.cancelTimer()
			e.state = Stopped
			e.target = e.position
		}
		e.mu.Unlock()

		return fmt.Errorf("move blind %s: %w", e.id, err)
	}

	e.notify()

	return nil
}

// onTimer stops a motion started by SetTarget.
func (e *Estimator) onTimer(generation int) {
	e.mu.Lock()
	if e.closed || e.generation != generation {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.generation++
	e.settle(e.clock.Now())
	position := e.position
	e.mu.Unlock()

	e.notify()

	err := e.ctrl.ToggleBlind(context.Background(), e.id, api.BlindStop)
	if err != nil {
		slog.Error("failed to stop blind",
			slog.String("object_id", e.id),
			slog.Int("position", position),
			slog.Any("error", err),
		)
	}
}

// HandleStatus applies a motion reported by the hub.
//
// Reports of the motion started by SetTarget are ignored. Motion started
// outside, e.g. with a wall switch, is timed from the moment it is reported
// until the hub reports that the blind stopped.
func (e *Estimator) HandleStatus(motion api.BlindMotion) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()

	switch motion {
	case api.BlindOpening, api.BlindClosing:
		state := Opening
		if motion == api.BlindClosing {
			state = Closing
		}

		if e.state == state {
			e.mu.Unlock()
			return
		}

		e.cancelTimer()
		e.settle(now)
		e.state = state
		e.startedAt = now
	case api.BlindStopped:
		if e.state == Stopped {
			e.mu.Unlock()
			return
		}

		e.cancelTimer()
		e.settle(now)
	default:
		e.mu.Unlock()
		slog.Warn("unknown blind status",
			slog.String("object_id", e.id),
			slog.String("status", string(motion)),
		)
		return
	}
	e.mu.Unlock()

	e.notify()
}

// Close cancels the pending stop, if any. The estimator can't be used
// afterwards.
func (e *Estimator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimer()
	e.closed = true
}

// settle updates the position from the time elapsed since the motion started
// and stops. e.mu must be held.
func (e *Estimator) settle(now time.Time) {
	if e.state == Stopped {
		return
	}

	elapsed := now.Sub(e.startedAt)
	delta := int(math.Round(float64(elapsed) * 100 / float64(e.traverse)))

	if e.state == Closing {
		e.position = clamp(e.position - delta)
	} else {
		e.position = clamp(e.position + delta)
	}
	e.state = Stopped
}

// cancelTimer stops the pending stop, if any. e.mu must be held.
func (e *Estimator) cancelTimer() {
	if e.timer == nil {
		return
	}

	e.timer.Stop()
	e.timer = nil
	e.generation++
}

func (e *Estimator) notify() {
	if e.onChange == nil {
		return
	}

	e.mu.Lock()
	position, state := e.position, e.state
	e.mu.Unlock()

	e.onChange(position, state)
}

func clamp(p int) int {
	return min(max(p, 0), 100)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
