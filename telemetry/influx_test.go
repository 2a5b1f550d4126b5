package telemetry

import (
	"context"
	"testing"
	"time"

	"mmcd/payload"
	"mmcd/sdr"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type captureWriter struct {
	points []*write.Point
}

func (c *captureWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	c.points = append(c.points, p...)
	return nil
}

func tagValue(p *write.Point, key string) string {
	for _, t := range p.TagList() {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func fieldValue(p *write.Point, key string) interface{} {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestWriteReadingSkipsInvalid(t *testing.T) {
	w := &captureWriter{}
	sink := &Influx{writer: w, node: "mmc-1"}

	rec := sdr.Record{Descriptor: sdr.Descriptor{ID: 2, Name: "FPGA TEMP", Owner: "payload-0"}}
	if err := sink.WriteReading(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(w.points) != 0 {
		t.Fatalf("invalid reading wrote %d points", len(w.points))
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.Reading = sdr.Reading{Value: 42, Valid: true, Timestamp: ts}
	if err := sink.WriteReading(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != measurementReading {
		t.Errorf("measurement = %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v, want %v", p.Time(), ts)
	}
	if got := tagValue(p, "sensor"); got != "FPGA TEMP" {
		t.Errorf("sensor tag = %q", got)
	}
	if got := tagValue(p, "id"); got != "2" {
		t.Errorf("id tag = %q", got)
	}
	if got := tagValue(p, "node"); got != "mmc-1" {
		t.Errorf("node tag = %q", got)
	}
	if fieldValue(p, "value") == nil {
		t.Error("value field missing")
	}
}

func TestWriteTransition(t *testing.T) {
	w := &captureWriter{}
	sink := &Influx{writer: w, node: "mmc-1"}

	ev := payload.EventRecord{
		Slot:      0,
		Entity:    "payload-0",
		From:      payload.PowerGoodWait,
		To:        payload.NoPower,
		Target:    payload.TargetPowerOn,
		Fault:     payload.FaultTimeout,
		Timestamp: time.Now(),
	}
	if err := sink.WriteTransition(context.Background(), ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := w.points[0]
	if p.Name() != measurementTransition {
		t.Errorf("measurement = %q", p.Name())
	}
	if got := tagValue(p, "slot"); got != "0" {
		t.Errorf("slot tag = %q", got)
	}
	if got := fieldValue(p, "to"); got != "no_power" {
		t.Errorf("to field = %v", got)
	}
	if got := fieldValue(p, "fault"); got != "timeout" {
		t.Errorf("fault field = %v", got)
	}
}
