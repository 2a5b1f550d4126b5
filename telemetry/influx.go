package telemetry

import (
	"context"
	"strconv"
	"time"

	"mmcd/config"
	"mmcd/payload"
	"mmcd/sdr"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementReading    = "sensor_reading"
	measurementTransition = "payload_transition"
)

// pointWriter is the part of the influx write API the sink uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes sensor readings and payload transitions to an InfluxDB bucket.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
	node   string
}

func NewInflux(cfg *config.InfluxConfig, node string) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		node:   node,
	}
}

func (i *Influx) Close() {
	if i != nil && i.client != nil {
		i.client.Close()
	}
}

// WriteReading records the current reading of a threshold sensor. Invalid
// readings are skipped.
func (i *Influx) WriteReading(ctx context.Context, rec sdr.Record) error {
	if !rec.Reading.Valid {
		return nil
	}
	return i.writer.WritePoint(ctx, i.readingPoint(rec))
}

// WriteTransition records one payload state change.
func (i *Influx) WriteTransition(ctx context.Context, ev payload.EventRecord) error {
	return i.writer.WritePoint(ctx, i.transitionPoint(ev))
}

func (i *Influx) readingPoint(rec sdr.Record) *write.Point {
	tags := map[string]string{
		"node":   i.node,
		"sensor": rec.Name,
		"id":     strconv.Itoa(int(rec.ID)),
		"owner":  rec.Owner,
	}
	fields := map[string]interface{}{
		"value":  int64(rec.Reading.Value),
		"status": int64(rec.Reading.Status),
	}
	ts := rec.Reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(measurementReading, tags, fields, ts)
}

func (i *Influx) transitionPoint(ev payload.EventRecord) *write.Point {
	tags := map[string]string{
		"node":   i.node,
		"slot":   strconv.Itoa(ev.Slot),
		"entity": ev.Entity,
	}
	fields := map[string]interface{}{
		"from":   ev.From.String(),
		"to":     ev.To.String(),
		"state":  int64(ev.To),
		"target": ev.Target.String(),
		"fault":  string(ev.Fault),
	}
	return write.NewPoint(measurementTransition, tags, fields, ev.Timestamp)
}
