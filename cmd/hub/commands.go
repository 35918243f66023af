package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/bartekpacia/homehub/api"
	"github.com/urfave/cli/v2"
)

// bestMatch returns the object accepted by accept whose name is the most
// similar to name, or nil if none is similar at all.
func bestMatch(name string, devices map[string]api.Device, accept func(api.Device) bool) (string, api.Device, float64) {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var bestScore float64
	var bestID string
	var best api.Device
	for _, id := range ids {
		d := devices[id]
		if !accept(d) {
			continue
		}

		score := strutil.Similarity(strings.ToLower(name), strings.ToLower(d.Base().Description), metrics.NewSorensenDice())
		if score > bestScore {
			bestScore = score
			bestID = id
			best = d
		}
	}

	return bestID, best, bestScore
}

// resolve finds the object referred to by arg, which is either an id or
// something similar to the name of an object.
func resolve(home *api.HomeIndex, arg string, accept func(api.Device) bool) (string, api.Device, error) {
	if arg == "" {
		return "", nil, fmt.Errorf("object not specified")
	}

	if d, ok := home.Get(arg); ok {
		if !accept(d) {
			return "", nil, fmt.Errorf("object %s does not support this command", arg)
		}
		return arg, d, nil
	}

	slog.Debug("looking for object", slog.String("name", arg))
	id, d, score := bestMatch(arg, home.All(), accept)
	if d == nil {
		return "", nil, fmt.Errorf("no object matches %q", arg)
	}

	slog.Info("selected object",
		slog.String("name", d.Base().Description),
		slog.String("id", id),
		slog.Int("confidence", int(score*100)),
	)

	return id, d, nil
}

func isSwitchable(d api.Device) bool {
	switch d.(type) {
	case *api.Light, *api.Outlet:
		return true
	}
	return false
}

func isSettable(d api.Device) bool {
	switch d.(type) {
	case *api.Light, *api.Blind:
		return true
	}
	return false
}

func isThermostat(d api.Device) bool {
	_, ok := d.(*api.Thermostat)
	return ok
}

func completeNames(c *cli.Context) {
	devices, err := readDevicesFromCache()
	if err != nil {
		return
	}

	for _, d := range devices {
		fmt.Println(d.Name)
	}
}

var deviceCommand = cli.Command{
	Name:    "device",
	Aliases: []string{"d"},
	Usage:   "Manage devices",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List all devices",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "cached",
					Usage: "Print devices saved by the last command instead of connecting",
				},
			},
			Action: func(c *cli.Context) error {
				var devices []cachedDevice
				if c.Bool("cached") {
					var err error
					devices, err = readDevicesFromCache()
					if err != nil {
						return err
					}
				} else {
					client, _, err := connect(c.Context)
					if err != nil {
						return err
					}
					client.Shutdown(context.Background())

					devices, err = readDevicesFromCache()
					if err != nil {
						return err
					}
				}

				w := tabwriter.NewWriter(os.Stdout, 8, 8, 0, ' ', 0)
				defer w.Flush()

				fmt.Fprintf(w, "id\ttype\tname\n")
				for _, d := range devices {
					fmt.Fprintf(w, "%s\t%d\t%s\n", d.ID, d.Type, d.Name)
				}

				return nil
			},
		},
		{
			Name:         "show",
			Usage:        "Print all fields of a device",
			ArgsUsage:    "<object>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				client, home, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				id, _, err := resolve(home, c.Args().First(), func(api.Device) bool { return true })
				if err != nil {
					return err
				}

				d, err := client.Status(c.Context, id, api.DetailFull)
				if err != nil {
					return fmt.Errorf("failed to get status of %s: %w", id, err)
				}

				fmt.Println(pprint(d.Base().Fields()))
				return nil
			},
		},
		{
			Name:         "toggle",
			Aliases:      []string{"t"},
			Usage:        "Toggle device's state (on/off)",
			ArgsUsage:    "<object>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				client, home, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				id, d, err := resolve(home, c.Args().First(), isSwitchable)
				if err != nil {
					return err
				}

				on := !d.Base().IsOn()
				err = client.ToggleStatus(c.Context, id, on)
				if err != nil {
					return fmt.Errorf("failed to toggle object %#v with id %s: %w", d.Base().Description, id, err)
				}

				slog.Info("toggled object", slog.String("id", id), slog.Bool("on", on))
				return nil
			},
		},
		{
			Name:         "set",
			Aliases:      []string{"s"},
			Usage:        "Set brightness of a light or position of a blind (0-100)",
			ArgsUsage:    "<object> <0-100>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				value, err := strconv.Atoi(c.Args().Get(1))
				if err != nil {
					return fmt.Errorf("invalid value: %v", err)
				}
				if value < 0 || value > 100 {
					return fmt.Errorf("value must be between 0 and 100, got %d", value)
				}

				client, home, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				id, d, err := resolve(home, c.Args().Get(0), isSettable)
				if err != nil {
					return err
				}

				if _, ok := d.(*api.Blind); ok {
					err = client.SetBlindPosition(c.Context, id, value)
				} else {
					err = client.SendAction(c.Context, id, api.ActionSet, value)
				}
				if err != nil {
					return fmt.Errorf("failed to set object %#v with id %s: %w", d.Base().Description, id, err)
				}

				slog.Info("set object", slog.String("id", id), slog.Int("value", value))
				return nil
			},
		},
	},
}

var climaModes = map[string]api.ClimaMode{
	"auto":       api.ClimaAuto,
	"manual":     api.ClimaManual,
	"semiauto":   api.ClimaSemiAuto,
	"semimanual": api.ClimaSemiManual,
	"off-auto":   api.ClimaOffAuto,
	"off-manual": api.ClimaOffManual,
}

var seasons = map[string]api.Season{
	"summer": api.SeasonSummer,
	"winter": api.SeasonWinter,
}

// thermostatAction connects, resolves the thermostat named by the first
// argument and calls fn with it.
func thermostatAction(c *cli.Context, fn func(client *api.Client, id string) error) error {
	client, home, err := connect(c.Context)
	if err != nil {
		return err
	}
	defer client.Shutdown(context.Background())

	id, _, err := resolve(home, c.Args().Get(0), isThermostat)
	if err != nil {
		return err
	}

	err = fn(client, id)
	if err != nil {
		return err
	}

	slog.Info("updated thermostat", slog.String("id", id))
	return nil
}

var thermostatCommand = cli.Command{
	Name:  "thermostat",
	Usage: "Manage thermostats",
	Subcommands: []*cli.Command{
		{
			Name:         "set",
			Usage:        "Set target temperature",
			ArgsUsage:    "<object> <celsius>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				celsius, err := strconv.ParseFloat(c.Args().Get(1), 64)
				if err != nil {
					return fmt.Errorf("invalid temperature: %v", err)
				}

				return thermostatAction(c, func(client *api.Client, id string) error {
					return client.SetTemperature(c.Context, id, celsius)
				})
			},
		},
		{
			Name:         "mode",
			Usage:        "Switch operating mode (auto, manual, semiauto, semimanual, off-auto, off-manual)",
			ArgsUsage:    "<object> <mode>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				mode, ok := climaModes[c.Args().Get(1)]
				if !ok {
					return fmt.Errorf("invalid mode %q", c.Args().Get(1))
				}

				return thermostatAction(c, func(client *api.Client, id string) error {
					return client.SwitchThermostatMode(c.Context, id, mode)
				})
			},
		},
		{
			Name:         "season",
			Usage:        "Switch between heating (winter) and cooling (summer)",
			ArgsUsage:    "<object> <summer|winter>",
			BashComplete: completeNames,
			Action: func(c *cli.Context) error {
				season, ok := seasons[c.Args().Get(1)]
				if !ok {
					return fmt.Errorf("invalid season %q", c.Args().Get(1))
				}

				return thermostatAction(c, func(client *api.Client, id string) error {
					return client.SwitchThermostatSeason(c.Context, id, season)
				})
			},
		},
		{
			Name:         "humidity",
			Usage:        "Set target humidity of a dehumidifier",
			ArgsUsage:    "<object> <0-100>",
			BashComplete: completeNames,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "mode",
					Usage: "also switch the dehumidifier to `MODE`",
				},
			},
			Action: func(c *cli.Context) error {
				percent, err := strconv.Atoi(c.Args().Get(1))
				if err != nil {
					return fmt.Errorf("invalid humidity: %v", err)
				}

				var mode api.ClimaMode
				if name := c.String("mode"); name != "" {
					var ok bool
					mode, ok = climaModes[name]
					if !ok {
						return fmt.Errorf("invalid mode %q", name)
					}
				}

				return thermostatAction(c, func(client *api.Client, id string) error {
					if mode != 0 {
						err := client.SwitchHumidityMode(c.Context, id, mode)
						if err != nil {
							return err
						}
					}
					return client.SetHumidity(c.Context, id, percent)
				})
			},
		},
	},
}

var hubCommand = cli.Command{
	Name:  "hub",
	Usage: "Query the hub itself",
	Subcommands: []*cli.Command{
		{
			Name:  "params",
			Usage: "Print general configuration parameters",
			Action: func(c *cli.Context) error {
				client, _, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				params, err := client.ReadParameters(c.Context)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 8, 8, 0, ' ', 0)
				defer w.Flush()

				fmt.Fprintf(w, "name\tvalue\n")
				for _, p := range params {
					fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Value)
				}

				return nil
			},
		},
		{
			Name:  "zones",
			Usage: "List rooms",
			Action: func(c *cli.Context) error {
				client, _, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				rooms, err := client.Zones(c.Context)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 8, 8, 0, ' ', 0)
				defer w.Flush()

				fmt.Fprintf(w, "id\tname\tobjects\n")
				for _, room := range rooms {
					fmt.Fprintf(w, "%s\t%s\t%d\n", room.ID, room.Description, len(room.Elements))
				}

				return nil
			},
		},
		{
			Name:  "time",
			Usage: "Print the hub's clock",
			Action: func(c *cli.Context) error {
				client, _, err := connect(c.Context)
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				datetime, err := client.Datetime(c.Context)
				if err != nil {
					return err
				}

				fmt.Println(pprint(datetime))
				return nil
			},
		},
	},
}

var eventCommand = cli.Command{
	Name:  "event",
	Usage: "Manage events",
	Subcommands: []*cli.Command{
		{
			Name:  "watch",
			Usage: "Print all changes pushed by the hub",
			Action: func(c *cli.Context) error {
				handler := func(id string, d api.Device) {
					fmt.Printf("%s %s\n", id, pprint(d.Base().Fields()))
				}

				client, _, err := connect(c.Context, api.WithUpdateHandler(handler))
				if err != nil {
					return err
				}
				defer client.Shutdown(context.Background())

				slog.Info("watching for changes, press Ctrl+C to stop")
				<-c.Context.Done()

				return nil
			},
		},
	},
}

// pprint formats v as indented JSON, falling back to its default format.
func pprint(v any) string {
	s, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(s)
}
