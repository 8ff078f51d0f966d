package telemetry

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

const measurement = "drone_telemetry"

// Sink stores drone snapshots as a time series.
type Sink interface {
	Record(ctx context.Context, d *model.Drone) error
	Close()
}

type NopSink struct{}

func (NopSink) Record(context.Context, *model.Drone) error { return nil }
func (NopSink) Close()                                     {}

// InfluxSink writes one point per snapshot through the blocking write API.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// NewInfluxSinkWithFallback returns a NopSink when url is empty or the
// instance does not pass its health check.
func NewInfluxSinkWithFallback(ctx context.Context, url, token, org, bucket string) Sink {
	if url == "" {
		return NopSink{}
	}
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		logger.Warn("influx unavailable, telemetry history disabled", "url", url, "error", err)
		sink.Close()
		return NopSink{}
	}
	return sink
}

func (s *InfluxSink) Record(ctx context.Context, d *model.Drone) error {
	return s.writeAPI.WritePoint(ctx, Point(d, time.Now().UTC()))
}

func (s *InfluxSink) Close() {
	s.client.Close()
}

// Point encodes a drone snapshot.
func Point(d *model.Drone, at time.Time) *write.Point {
	return write.NewPointWithMeasurement(measurement).
		AddTag("drone_id", d.DroneID).
		AddTag("status", string(d.Status)).
		AddField("battery", d.Battery).
		AddField("altitude", d.Altitude).
		AddField("lat", d.Location.Lat).
		AddField("lng", d.Location.Lng).
		SetTime(at)
}
