package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"mmcd/metrics"
	"mmcd/payload"
	"mmcd/protocol"
	"mmcd/sdr"
	"mmcd/statecache"
	"mmcd/store"
)

// sinkTimeout bounds each write to redis or influx.
const sinkTimeout = 2 * time.Second

// wireEventHandlers sets up the event chain:
// transition → transition log, shelf publish, state cache, history, metrics
// sensor event → SEL, platform event to the event receiver, metrics
// sensor sample → state cache, history, metrics
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		e.handleTransition(evt.Payload.(TransitionEvent).EventRecord)
	}, EventPayloadTransition)

	e.Events.SubscribeTypes(func(evt Event) {
		e.handleSensorEvent(evt.Payload.(SensorEventEvent).Event)
	}, EventSensorEvent)

	e.Events.SubscribeTypes(func(evt Event) {
		e.handleSensorSampled(evt.Payload.(SensorSampledEvent).Record)
	}, EventSensorSampled)

	e.Events.SubscribeTypes(func(evt Event) {
		d := evt.Payload.(IPMIDispatchedEvent)
		metrics.IPMIRequestsTotal.WithLabelValues(fmt.Sprintf("0x%02x", d.NetFn), fmt.Sprintf("0x%02x", d.CC)).Inc()
		e.debugFn("ipmi: %s netfn=0x%02x cmd=0x%02x ch=%d cc=0x%02x", d.Source, d.NetFn, d.Cmd, d.Channel, d.CC)
	}, EventIPMIDispatched)

	e.Events.SubscribeTypes(func(evt Event) {
		a := evt.Payload.(AgentEvent)
		if a.Connected {
			e.logFn("hardware agent connected: %s", a.URL)
		} else {
			e.logFn("hardware agent disconnected: %s", a.Error)
		}
	}, EventAgentConnected, EventAgentDisconnected)
}

func (e *Engine) handleTransition(rec payload.EventRecord) {
	slot := fmt.Sprintf("%d", rec.Slot)
	metrics.PayloadTransitionsTotal.WithLabelValues(slot, rec.To.String()).Inc()
	metrics.PayloadState.WithLabelValues(slot).Set(float64(rec.To))
	if rec.Fault != payload.FaultNone {
		metrics.PayloadFaultsTotal.WithLabelValues(slot, string(rec.Fault)).Inc()
		e.logFn("slot %d: %s -> %s fault=%s", rec.Slot, rec.From, rec.To, rec.Fault)
	}

	if e.db != nil {
		if _, err := e.db.InsertTransition(&store.TransitionLog{
			EventID:   rec.ID,
			Slot:      rec.Slot,
			Entity:    rec.Entity,
			FromState: rec.From.String(),
			ToState:   rec.To.String(),
			Target:    rec.Target.String(),
			Fault:     string(rec.Fault),
			CreatedAt: rec.Timestamp,
		}); err != nil {
			log.Printf("engine: record transition %s: %v", rec.ID, err)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishTransition(&protocol.Transition{
			EventID: rec.ID,
			Slot:    rec.Slot,
			Entity:  rec.Entity,
			From:    rec.From.String(),
			To:      rec.To.String(),
			Target:  rec.Target.String(),
			Fault:   string(rec.Fault),
			At:      rec.Timestamp,
		}); err != nil {
			log.Printf("engine: publish transition %s: %v", rec.ID, err)
		}
	}

	if e.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := e.cache.SetSlotState(ctx, &statecache.SlotState{
			Slot:      rec.Slot,
			Entity:    rec.Entity,
			State:     rec.To.String(),
			Target:    rec.Target.String(),
			Fault:     string(rec.Fault),
			EnteredAt: rec.Timestamp,
		})
		cancel()
		if err != nil {
			e.debugFn("engine: cache slot %d: %v", rec.Slot, err)
		}
	}

	if e.influx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := e.influx.WriteTransition(ctx, rec); err != nil {
			e.debugFn("engine: influx transition: %v", err)
		}
		cancel()
	}
}

func (e *Engine) handleSensorEvent(ev sdr.Event) {
	dir := "assert"
	if !ev.Assertion {
		dir = "deassert"
	}
	metrics.SensorEventsTotal.WithLabelValues(ev.Sensor, dir).Inc()
	e.debugFn("sensor %d (%s): %s offset %d value=%d", ev.SensorID, ev.Sensor, dir, ev.Offset, ev.Value)

	if e.db != nil {
		if err := e.db.AppendSEL(&store.SELEntry{
			EventID:    ev.ID,
			SensorID:   int(ev.SensorID),
			SensorName: ev.Sensor,
			Owner:      ev.Owner,
			SensorType: int(ev.Type),
			Offset:     int(ev.Offset),
			Assertion:  ev.Assertion,
			Value:      int(ev.Value),
			Status:     int(ev.Status),
			CreatedAt:  ev.Timestamp,
		}); err != nil {
			log.Printf("engine: append SEL %s: %v", ev.ID, err)
		}
	}

	if e.publisher == nil {
		return
	}
	addr, lun, enabled := e.service.EventReceiver()
	if !enabled {
		return
	}
	pe := e.platformEvent(ev)
	pe.ReceiverAddr = addr
	pe.ReceiverLUN = lun
	if err := e.publisher.PublishPlatformEvent(pe); err != nil {
		log.Printf("engine: publish platform event %s: %v", ev.ID, err)
	}
}

func (e *Engine) handleSensorSampled(rec sdr.Record) {
	if rec.Reading.Valid {
		metrics.SensorReading.WithLabelValues(rec.Name).Set(float64(rec.Reading.Value))
	}

	if e.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := e.cache.SetReading(ctx, &statecache.SensorReading{
			ID:        rec.ID,
			Name:      rec.Name,
			Value:     rec.Reading.Value,
			Valid:     rec.Reading.Valid,
			Status:    uint8(rec.Reading.Status),
			Timestamp: rec.Reading.Timestamp,
		})
		cancel()
		if err != nil {
			e.debugFn("engine: cache sensor %d: %v", rec.ID, err)
		}
	}

	if e.influx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := e.influx.WriteReading(ctx, rec); err != nil {
			e.debugFn("engine: influx reading: %v", err)
		}
		cancel()
	}
}
