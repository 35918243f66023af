package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status queries the object with the given id. With [DetailFull], nested
// elements carry complete records.
func (c *Client) Status(ctx context.Context, id string, level DetailLevel) (Device, error) {
	resp, err := c.status(ctx, id, level)
	if err != nil {
		return nil, err
	}

	d, err := DecodeDevice(resp.OutData[0])
	if err != nil {
		return nil, fmt.Errorf("decode status of %s: %w", id, err)
	}

	return d, nil
}

func (c *Client) status(ctx context.Context, id string, level DetailLevel) (*Response, error) {
	resp, err := c.publish(ctx, Request{
		RequestType:    RequestStatus,
		RequestSubType: SubTypeNone,
		ObjectID:       id,
		DetailLevel:    level,
	})
	if err != nil {
		return nil, fmt.Errorf("status of %s: %w", id, err)
	}

	if len(resp.OutData) == 0 {
		return nil, &ProtocolError{
			RequestType: resp.RequestType,
			SequenceID:  resp.SequenceID,
			ResultCode:  resp.ResultCode,
			Message:     "response has no data",
		}
	}

	return resp, nil
}

// FetchHome fetches the whole device tree and installs it as the index that
// pushed changes are merged into.
func (c *Client) FetchHome(ctx context.Context) (*HomeIndex, error) {
	resp, err := c.status(ctx, RootID, DetailFull)
	if err != nil {
		return nil, err
	}

	home, err := NewHomeIndex(resp.OutData[0])
	if err != nil {
		return nil, fmt.Errorf("index home: %w", err)
	}

	c.mu.Lock()
	c.home = home
	c.mu.Unlock()

	return home, nil
}

// Zones returns the rooms directly below the root object.
func (c *Client) Zones(ctx context.Context) ([]*Room, error) {
	root, err := c.Status(ctx, RootID, DetailSummary)
	if err != nil {
		return nil, err
	}

	rooms := make([]*Room, 0)
	for _, element := range root.Base().Elements {
		if element.Type != ObjectZone || len(element.Data) == 0 || string(element.Data) == "null" {
			continue
		}

		d, err := DecodeDevice(element.Data)
		if err != nil {
			return nil, fmt.Errorf("decode zone %s: %w", element.ID, err)
		}

		if room, ok := d.(*Room); ok {
			rooms = append(rooms, room)
		}
	}

	return rooms, nil
}

// SendAction sends an action with a single parameter to the object.
func (c *Client) SendAction(ctx context.Context, id string, action ActionType, value int) error {
	_, err := c.publish(ctx, Request{
		RequestType:    RequestAction,
		RequestSubType: SubTypeSetActionObject,
		ObjectID:       id,
		ActionType:     ptr(action),
		ActionParams:   []int{value},
	})
	if err != nil {
		return fmt.Errorf("action %d on %s: %w", action, id, err)
	}

	return nil
}

// ToggleStatus turns a light, outlet or other switchable object on or off.
func (c *Client) ToggleStatus(ctx context.Context, id string, on bool) error {
	value := 0
	if on {
		value = 1
	}

	return c.SendAction(ctx, id, ActionSet, value)
}

// ToggleBlind starts or stops the motion of a blind.
func (c *Client) ToggleBlind(ctx context.Context, id string, cmd BlindCommand) error {
	return c.SendAction(ctx, id, ActionSet, int(cmd))
}

// SetBlindPosition moves a blind with position feedback to the given position
// in percent, 100 being fully open.
func (c *Client) SetBlindPosition(ctx context.Context, id string, percent int) error {
	return c.SendAction(ctx, id, ActionSetBlindPosition, PositionAsByte(percent))
}

// SetTemperature sets the set point of a thermostat, in °C.
func (c *Client) SetTemperature(ctx context.Context, id string, celsius float64) error {
	return c.SendAction(ctx, id, ActionSetClimaSetPoint, EncodeTemperature(celsius))
}

func (c *Client) SwitchThermostatMode(ctx context.Context, id string, mode ClimaMode) error {
	return c.SendAction(ctx, id, ActionSwitchClimaMode, int(mode))
}

func (c *Client) SwitchThermostatSeason(ctx context.Context, id string, season Season) error {
	return c.SendAction(ctx, id, ActionSwitchSeason, int(season))
}

// SetHumidity sets the humidity set point of a dehumidifier, in percent.
// Like temperatures, the hub expects tenths.
func (c *Client) SetHumidity(ctx context.Context, id string, percent int) error {
	return c.SendAction(ctx, id, ActionSetUmiSetPoint, clamp(percent, 0, 100)*10)
}

func (c *Client) SwitchHumidityMode(ctx context.Context, id string, mode ClimaMode) error {
	return c.SendAction(ctx, id, ActionSwitchUmiMode, int(mode))
}

// ReadParameters reads the hub's general configuration parameters.
func (c *Client) ReadParameters(ctx context.Context) ([]Param, error) {
	resp, err := c.publish(ctx, Request{
		RequestType:    RequestReadParams,
		RequestSubType: SubTypeGetConfParamGroup,
		ParamType:      paramTypeGeneral,
		AgentType:      ptr(AgentTypeClient),
	})
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}

	return resp.ParamsData, nil
}

// Subscribe asks the hub to push changes of the object with the given id.
func (c *Client) Subscribe(ctx context.Context, id string) error {
	_, err := c.publish(ctx, Request{
		RequestType:    RequestSubscribe,
		RequestSubType: SubTypeSubscribeRT,
		ObjectID:       id,
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", id, err)
	}

	return nil
}

// Ping checks that the hub still answers and the session is still valid.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.publish(ctx, Request{
		RequestType:    RequestPing,
		RequestSubType: SubTypeNone,
	})
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}

// Datetime returns the hub's clock, as reported in its response data.
func (c *Client) Datetime(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.publish(ctx, Request{
		RequestType:    RequestGetDatetime,
		RequestSubType: SubTypeNone,
	})
	if err != nil {
		return nil, fmt.Errorf("get datetime: %w", err)
	}

	if len(resp.OutData) == 0 {
		return nil, nil
	}

	return resp.OutData[0], nil
}
