// Package db writes values pushed by the hub to InfluxDB.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartekpacia/homehub/api"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurementPower = "power"

const measurementClimate = "climate"

// Writer batches points in the background. Write errors are logged.
type Writer struct {
	client influxdb2.Client
	writes influxapi.WriteAPI
}

// Connect creates a writer and checks that the database is healthy.
func Connect(ctx context.Context, url, token, org, bucket string) (*Writer, error) {
	client := influxdb2.NewClient(url, token)

	_, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx healthcheck: %w", err)
	}
	slog.Info("connected to Influx database", slog.String("url", url))

	writes := client.WriteAPI(org, bucket)
	go func() {
		for err := range writes.Errors() {
			slog.Error("failed to write point", slog.Any("error", err))
		}
	}()

	return &Writer{client: client, writes: writes}, nil
}

// Point returns the point recorded for an update of d, or nil if d carries
// nothing worth recording.
func Point(id string, d api.Device, now time.Time) *write.Point {
	tags := map[string]string{
		"object_id":   id,
		"description": d.Base().Description,
	}

	switch d := d.(type) {
	case *api.Outlet:
		power, ok := d.Power()
		if !ok {
			return nil
		}
		return influxdb2.NewPoint(measurementPower, tags, map[string]any{"watts": power}, now)
	case *api.Supplier:
		power, ok := d.Power()
		if !ok {
			return nil
		}
		return influxdb2.NewPoint(measurementPower, tags, map[string]any{"watts": power}, now)
	case *api.Thermostat:
		current, err := d.CurrentTemperature()
		if err != nil {
			return nil
		}
		fields := map[string]any{"temperature": current}
		if target, err := d.TargetTemperature(); err == nil {
			fields["target"] = target
		}
		return influxdb2.NewPoint(measurementClimate, tags, fields, now)
	}

	return nil
}

// Record queues a point for an update of d, if it has one.
func (w *Writer) Record(id string, d api.Device) {
	p := Point(id, d, time.Now())
	if p == nil {
		return
	}

	w.writes.WritePoint(p)
}

// Close flushes queued points and closes the connection.
func (w *Writer) Close() {
	w.writes.Flush()
	w.client.Close()
}
