// Package homekit bridges the hub with HomeKit.
package homekit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bartekpacia/homehub/api"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

type OnLightbulbUpdated func(id string, on bool)

type OnDimmerUpdated func(id string, brightness int)

type OnOutletUpdated func(id string, on bool)

type OnThermostatUpdated func(id string, celsius float64)

type OnBlindUpdated func(id string, position int)

// Client creates accessories for objects of the home and forwards changes
// made in HomeKit to the callbacks.
type Client struct {
	PIN     string
	Name    string
	Storage string

	OnLightbulbUpdate  OnLightbulbUpdated
	OnDimmerUpdate     OnDimmerUpdated
	OnOutletUpdate     OnOutletUpdated
	OnThermostatUpdate OnThermostatUpdated
	OnBlindUpdate      OnBlindUpdated
}

// WindowCovering is a blind.
type WindowCovering struct {
	*accessory.A
	WindowCovering *service.WindowCovering
}

// Home holds the accessories created by [Client.SetUp], keyed by object id.
type Home struct {
	Lightbulbs        map[string]*accessory.Lightbulb
	ColoredLightbulbs map[string]*accessory.ColoredLightbulb
	Outlets           map[string]*accessory.Outlet
	Thermostats       map[string]*accessory.Thermostat
	WindowCoverings   map[string]*WindowCovering

	server *hap.Server
}

// SetUp creates an accessory for every light, outlet, thermostat and blind of
// home. Call [Home.ListenAndServe] to publish them.
func (c *Client) SetUp(home *api.HomeIndex) (*Home, error) {
	var accessories []*accessory.A

	h := &Home{
		Lightbulbs:        make(map[string]*accessory.Lightbulb),
		ColoredLightbulbs: make(map[string]*accessory.ColoredLightbulb),
		Outlets:           make(map[string]*accessory.Outlet),
		Thermostats:       make(map[string]*accessory.Thermostat),
		WindowCoverings:   make(map[string]*WindowCovering),
	}

	for id, light := range home.Lights() {
		info := info(light.Base())

		if brightness, ok := light.Brightness(); ok {
			a := accessory.NewColoredLightbulb(info)
			h.ColoredLightbulbs[id] = a

			a.Lightbulb.On.SetValue(light.IsOn())
			if err := a.Lightbulb.Brightness.SetValue(brightness); err != nil {
				slog.Warn("failed to set brightness", slog.String("object_id", id), slog.Any("error", err))
			}

			a.Lightbulb.On.OnValueRemoteUpdate(func(on bool) {
				var val int
				if on {
					val = 100
				}

				c.OnDimmerUpdate(id, val)
			})

			a.Lightbulb.Brightness.OnValueRemoteUpdate(func(v int) {
				c.OnDimmerUpdate(id, v)
			})

			accessories = append(accessories, a.A)
		} else {
			a := accessory.NewLightbulb(info)
			h.Lightbulbs[id] = a

			a.Lightbulb.On.SetValue(light.IsOn())
			a.Lightbulb.On.OnValueRemoteUpdate(func(on bool) {
				c.OnLightbulbUpdate(id, on)
			})

			accessories = append(accessories, a.A)
		}
	}

	for id, outlet := range home.Outlets() {
		a := accessory.NewOutlet(info(outlet.Base()))
		h.Outlets[id] = a

		a.Outlet.On.SetValue(outlet.IsOn())
		a.Outlet.On.OnValueRemoteUpdate(func(on bool) {
			c.OnOutletUpdate(id, on)
		})

		accessories = append(accessories, a.A)
	}

	for id, thermostat := range home.Thermostats() {
		a := accessory.NewThermostat(info(thermostat.Base()))
		h.Thermostats[id] = a

		a.Thermostat.TargetTemperature.MinVal = 5
		a.Thermostat.TargetTemperature.MaxVal = 35

		err := applyThermostat(a, thermostat)
		if err != nil {
			return nil, fmt.Errorf("thermostat %s: %w", id, err)
		}

		a.Thermostat.TargetTemperature.OnValueRemoteUpdate(func(v float64) {
			c.OnThermostatUpdate(id, v)
		})

		accessories = append(accessories, a.A)
	}

	for id, blind := range home.Blinds() {
		a := &WindowCovering{
			A:              accessory.New(info(blind.Base()), accessory.TypeWindowCovering),
			WindowCovering: service.NewWindowCovering(),
		}
		a.AddS(a.WindowCovering.S)
		h.WindowCoverings[id] = a

		a.WindowCovering.TargetPosition.OnValueRemoteUpdate(func(v int) {
			c.OnBlindUpdate(id, v)
		})

		accessories = append(accessories, a.A)
	}

	bridge := accessory.NewBridge(accessory.Info{Name: c.Name})

	fs := hap.NewFsStore(c.Storage)
	server, err := hap.NewServer(fs, bridge.A, accessories...)
	if err != nil {
		return nil, fmt.Errorf("create hap server: %w", err)
	}
	server.Pin = c.PIN
	h.server = server

	slog.Info("set up homekit accessories", slog.Int("count", len(accessories)))

	return h, nil
}

// ListenAndServe publishes the accessories until ctx is done.
func (h *Home) ListenAndServe(ctx context.Context) error {
	return h.server.ListenAndServe(ctx)
}

// Apply updates the accessory of the object with the given id, if there is
// one, to reflect a change pushed by the hub.
func (h *Home) Apply(id string, d api.Device) {
	switch d := d.(type) {
	case *api.Light:
		if a, ok := h.Lightbulbs[id]; ok {
			a.Lightbulb.On.SetValue(d.IsOn())
		}
		if a, ok := h.ColoredLightbulbs[id]; ok {
			a.Lightbulb.On.SetValue(d.IsOn())
			if brightness, ok := d.Brightness(); ok {
				if err := a.Lightbulb.Brightness.SetValue(brightness); err != nil {
					slog.Error("failed to set brightness",
						slog.String("object_id", id),
						slog.Int("value", brightness),
						slog.Any("error", err),
					)
				}
			}
		}
	case *api.Outlet:
		if a, ok := h.Outlets[id]; ok {
			a.Outlet.On.SetValue(d.IsOn())
		}
	case *api.Thermostat:
		if a, ok := h.Thermostats[id]; ok {
			err := applyThermostat(a, d)
			if err != nil {
				slog.Error("failed to update thermostat", slog.String("object_id", id), slog.Any("error", err))
			}
		}
	case *api.Blind:
		if p, ok := d.PositionPercent(); ok {
			h.SetBlindPosition(id, p, d.Motion())
		}
	}
}

// SetBlindPosition reports the current position of a blind to HomeKit.
func (h *Home) SetBlindPosition(id string, position int, motion api.BlindMotion) {
	a, ok := h.WindowCoverings[id]
	if !ok {
		return
	}

	state := characteristic.PositionStateStopped
	switch motion {
	case api.BlindOpening:
		state = characteristic.PositionStateIncreasing
	case api.BlindClosing:
		state = characteristic.PositionStateDecreasing
	}

	if err := a.WindowCovering.PositionState.SetValue(state); err != nil {
		slog.Error("failed to set position state", slog.String("object_id", id), slog.Any("error", err))
	}
	if err := a.WindowCovering.CurrentPosition.SetValue(position); err != nil {
		slog.Error("failed to set current position", slog.String("object_id", id), slog.Any("error", err))
	}
	if motion == api.BlindStopped {
		if err := a.WindowCovering.TargetPosition.SetValue(position); err != nil {
			slog.Error("failed to set target position", slog.String("object_id", id), slog.Any("error", err))
		}
	}
}

func applyThermostat(a *accessory.Thermostat, t *api.Thermostat) error {
	current, err := t.CurrentTemperature()
	if err != nil {
		return fmt.Errorf("decode current temperature: %w", err)
	}
	a.Thermostat.CurrentTemperature.SetValue(current)

	target, err := t.TargetTemperature()
	if err != nil {
		return fmt.Errorf("decode target temperature: %w", err)
	}
	a.Thermostat.TargetTemperature.SetValue(target)

	return nil
}

func info(d *api.DeviceBase) accessory.Info {
	return accessory.Info{
		Name:         strings.TrimSpace(d.Description),
		SerialNumber: d.ID,
		Manufacturer: "homehub",
	}
}
