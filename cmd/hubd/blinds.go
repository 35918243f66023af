package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartekpacia/homehub/api"
	"github.com/bartekpacia/homehub/blind"
)

// blindClient is the subset of [api.Client] that moves blinds.
type blindClient interface {
	blind.Controller
	SetBlindPosition(ctx context.Context, id string, percent int) error
}

// blinds moves blinds. Those that report their position are positioned by the
// hub, the others by an estimator.
type blinds struct {
	client     blindClient
	estimators map[string]*blind.Estimator
}

// newBlinds creates an estimator for every blind of home that doesn't report
// its position. onChange is called with every change of an estimate.
func newBlinds(client blindClient, home *api.HomeIndex, traverse func(id string) time.Duration, onChange func(id string, position int, motion api.BlindMotion)) *blinds {
	b := &blinds{
		client:     client,
		estimators: make(map[string]*blind.Estimator),
	}

	for id, bl := range home.Blinds() {
		if bl.HasPositionFeedback() {
			continue
		}

		b.estimators[id] = blind.New(id, client,
			blind.WithTraverse(traverse(id)),
			blind.WithOnChange(func(position int, state blind.State) {
				onChange(id, position, motionOf(state))
			}),
		)
	}

	slog.Debug("created blind estimators", slog.Int("count", len(b.estimators)))

	return b
}

// MoveBlind moves the blind with the given id to position.
func (b *blinds) MoveBlind(ctx context.Context, id string, position int) error {
	if e, ok := b.estimators[id]; ok {
		return e.SetTarget(ctx, position)
	}

	err := b.client.SetBlindPosition(ctx, id, position)
	if err != nil {
		return fmt.Errorf("set position of blind %s: %w", id, err)
	}

	return nil
}

// HandleUpdate feeds the motion reported by the hub to the estimator of the
// blind, if it has one.
func (b *blinds) HandleUpdate(id string, d api.Device) {
	bl, ok := d.(*api.Blind)
	if !ok {
		return
	}

	if e, ok := b.estimators[id]; ok {
		e.HandleStatus(bl.Motion())
	}
}

func (b *blinds) Close() {
	for _, e := range b.estimators {
		e.Close()
	}
}

func motionOf(state blind.State) api.BlindMotion {
	switch state {
	case blind.Opening:
		return api.BlindOpening
	case blind.Closing:
		return api.BlindClosing
	default:
		return api.BlindStopped
	}
}
