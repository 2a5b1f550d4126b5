package www

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mmcd/hardware"
	"mmcd/ipmi"
	"mmcd/payload"
	"mmcd/protocol"
	"mmcd/sdr"
	"mmcd/statecache"
	"mmcd/store"
)

// webDispatchTimeout bounds a raw IPMI request issued from the API.
const webDispatchTimeout = 5 * time.Second

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DB().Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AppConfig()
	addr, lun, enabled := h.engine.Service().EventReceiver()
	status := map[string]interface{}{
		"name":            cfg.Name,
		"node":            h.engine.Self().Node,
		"hardware":        cfg.Hardware.Driver,
		"uptime_seconds":  int64(h.engine.Uptime() / time.Second),
		"slots":           h.engine.SlotStatuses(),
		"event_receiver":  map[string]interface{}{"addr": addr, "lun": lun, "enabled": enabled},
		"sensor_count":    h.engine.Sensors().Len(),
		"database_driver": h.engine.DB().Driver(),
	}
	if remote, ok := h.engine.Board().(*hardware.Remote); ok {
		agent := map[string]interface{}{"connected": remote.IsConnected()}
		if err := remote.LastError(); err != nil {
			agent["error"] = err.Error()
		}
		status["agent"] = agent
	}
	writeJSON(w, status)
}

// --- Slots ---

type slotView struct {
	payload.Context
	Faults int `json:"faults"`
}

func (h *Handlers) slotViews() ([]slotView, error) {
	faults, err := h.engine.DB().CountFaults()
	if err != nil {
		return nil, err
	}
	seq := h.engine.Sequencer()
	out := make([]slotView, 0, seq.Slots())
	for i := 0; i < seq.Slots(); i++ {
		ctx, err := seq.Context(i)
		if err != nil {
			return nil, err
		}
		out = append(out, slotView{Context: ctx, Faults: faults[i]})
	}
	return out, nil
}

func (h *Handlers) apiListSlots(w http.ResponseWriter, r *http.Request) {
	views, err := h.slotViews()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, views)
}

func (h *Handlers) apiGetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	ctx, err := h.engine.Sequencer().Context(slot)
	if err != nil {
		writeOpError(w, err)
		return
	}
	faults, _ := h.engine.DB().CountFaults()
	writeJSON(w, slotView{Context: ctx, Faults: faults[slot]})
}

func (h *Handlers) slotAction(w http.ResponseWriter, r *http.Request, name string, op func(int) error) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	if err := op(slot); err != nil {
		writeOpError(w, err)
		return
	}
	h.engine.Logf("www: %s requested %s on slot %d", h.sessions.user(r), name, slot)
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"state":  h.engine.Sequencer().CurrentState(slot),
	})
}

func (h *Handlers) apiPowerOn(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, "power-on", h.engine.Sequencer().RequestPowerOn)
}

func (h *Handlers) apiPowerOff(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, "power-off", h.engine.Sequencer().RequestPowerOff)
}

func (h *Handlers) apiReset(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, "reset", h.engine.Sequencer().RequestReset)
}

func (h *Handlers) apiReboot(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, "reboot", h.engine.Sequencer().Reboot)
}

func (h *Handlers) apiAckQuiesce(w http.ResponseWriter, r *http.Request) {
	h.slotAction(w, r, "quiesce-ack", h.engine.Sequencer().AcknowledgeQuiesce)
}

func (h *Handlers) apiSetPolicy(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}
	var req struct {
		Locked             *bool `json:"locked"`
		DeactivationLocked *bool `json:"deactivation_locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var mask, bits uint8
	if req.Locked != nil {
		mask |= payload.PolicyLocked
		if *req.Locked {
			bits |= payload.PolicyLocked
		}
	}
	if req.DeactivationLocked != nil {
		mask |= payload.PolicyDeactivationLocked
		if *req.DeactivationLocked {
			bits |= payload.PolicyDeactivationLocked
		}
	}
	seq := h.engine.Sequencer()
	if err := seq.SetActivationPolicy(slot, mask, bits); err != nil {
		writeOpError(w, err)
		return
	}
	p, err := seq.ActivationPolicy(slot)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, p)
}

// --- Cache ---

type cachedSlot struct {
	*statecache.SlotState
	Faults int `json:"faults"`
}

// apiCache reads back what the redis mirror holds, for comparing against the
// live views.
func (h *Handlers) apiCache(w http.ResponseWriter, r *http.Request) {
	cache := h.engine.Cache()
	if cache == nil {
		writeError(w, http.StatusNotFound, "state cache not configured")
		return
	}
	ctx := r.Context()
	slots, err := cache.GetAllSlots(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	outSlots := []cachedSlot{}
	for _, slot := range slots {
		st, err := cache.GetSlotState(ctx, slot)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if st == nil {
			continue
		}
		n, err := cache.FaultCount(ctx, slot)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		outSlots = append(outSlots, cachedSlot{SlotState: st, Faults: n})
	}
	readings := []*statecache.SensorReading{}
	for rec := range h.engine.Sensors().All() {
		rd, err := cache.GetReading(ctx, rec.ID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if rd != nil {
			readings = append(readings, rd)
		}
	}
	writeJSON(w, map[string]interface{}{"slots": outSlots, "sensors": readings})
}

// --- Transitions ---

func (h *Handlers) apiListTransitions(w http.ResponseWriter, r *http.Request) {
	h.writeTransitions(w, -1, parseLimit(r, 100))
}

func (h *Handlers) apiSlotTransitions(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil || slot < 0 || slot >= h.engine.Sequencer().Slots() {
		writeError(w, http.StatusNotFound, "unknown slot")
		return
	}
	h.writeTransitions(w, slot, parseLimit(r, 100))
}

func (h *Handlers) writeTransitions(w http.ResponseWriter, slot, limit int) {
	logs, err := h.engine.DB().ListTransitions(slot, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []*store.TransitionLog{}
	}
	writeJSON(w, logs)
}

// --- Sensors ---

type sensorView struct {
	sdr.Record
	Events sdr.EventMask `json:"events"`
}

func (h *Handlers) sensorView(rec sdr.Record) sensorView {
	m, _ := h.engine.Sensors().EventEnable(rec.ID)
	return sensorView{Record: rec, Events: m}
}

func (h *Handlers) apiListSensors(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	out := []sensorView{}
	all := h.engine.Sensors().All()
	if owner != "" {
		all = h.engine.Sensors().FindByOwner(owner)
	}
	for rec := range all {
		out = append(out, h.sensorView(rec))
	}
	writeJSON(w, out)
}

func (h *Handlers) apiGetSensor(w http.ResponseWriter, r *http.Request) {
	id, err := parseSensorID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	rec, ok := h.engine.Sensors().FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("sensor %d not found", id))
		return
	}
	writeJSON(w, h.sensorView(rec))
}

func (h *Handlers) apiSetEventEnable(w http.ResponseWriter, r *http.Request) {
	id, err := parseSensorID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	var req sdr.EventMask
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Sensors().SetEventEnable(id, req); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- System event log ---

func (h *Handlers) apiListSEL(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListSEL(parseLimit(r, 200))
	h.writeSEL(w, entries, err)
}

func (h *Handlers) apiSensorSEL(w http.ResponseWriter, r *http.Request) {
	id, err := parseSensorID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	entries, err := h.engine.DB().ListSensorSEL(int(id), parseLimit(r, 200))
	h.writeSEL(w, entries, err)
}

func (h *Handlers) writeSEL(w http.ResponseWriter, entries []*store.SELEntry, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*store.SELEntry{}
	}
	writeJSON(w, entries)
}

func (h *Handlers) apiClearSEL(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.DB().ClearSEL()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "cleared": n})
}

// --- Raw IPMI ---

type ipmiRequestBody struct {
	NetFn   uint8             `json:"netfn"`
	Cmd     uint8             `json:"cmd"`
	LUN     uint8             `json:"lun"`
	Channel uint8             `json:"channel"`
	Data    protocol.HexBytes `json:"data"`
}

type ipmiResponseBody struct {
	CC      uint8             `json:"cc"`
	Message string            `json:"message"`
	Data    protocol.HexBytes `json:"data"`
}

// apiIPMI runs one request through the same dispatcher the management bus uses.
func (h *Handlers) apiIPMI(w http.ResponseWriter, r *http.Request) {
	var req ipmiRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), webDispatchTimeout)
	defer cancel()
	resp := h.engine.DispatchAs(ctx, "web", ipmi.Request{
		NetFn:   req.NetFn,
		Cmd:     req.Cmd,
		LUN:     req.LUN,
		Channel: req.Channel,
		Data:    req.Data,
	})
	data := resp.Data
	if data == nil {
		data = []byte{}
	}
	writeJSON(w, ipmiResponseBody{CC: uint8(resp.CC), Message: resp.CC.String(), Data: data})
}

// --- Config ---

func (h *Handlers) apiUpdateMessaging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Backend       string   `json:"backend"`
		MQTTBroker    string   `json:"mqtt_broker"`
		MQTTPort      int      `json:"mqtt_port"`
		MQTTClientID  string   `json:"mqtt_client_id"`
		KafkaBrokers  []string `json:"kafka_brokers"`
		RequestTopic  string   `json:"request_topic"`
		ResponseTopic string   `json:"response_topic"`
		EventTopic    string   `json:"event_topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Backend != "mqtt" && req.Backend != "kafka" {
		writeError(w, http.StatusBadRequest, "backend must be mqtt or kafka")
		return
	}

	cfg := h.engine.AppConfig()
	cfg.Lock()
	cfg.Messaging.Backend = req.Backend
	cfg.Messaging.MQTT.Broker = req.MQTTBroker
	cfg.Messaging.MQTT.Port = req.MQTTPort
	cfg.Messaging.MQTT.ClientID = req.MQTTClientID
	cfg.Messaging.Kafka.Brokers = req.KafkaBrokers
	if req.RequestTopic != "" {
		cfg.Messaging.RequestTopic = req.RequestTopic
	}
	if req.ResponseTopic != "" {
		cfg.Messaging.ResponseTopic = req.ResponseTopic
	}
	if req.EventTopic != "" {
		cfg.Messaging.EventTopic = req.EventTopic
	}
	cfg.Unlock()

	if err := cfg.Save(h.engine.ConfigPath()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "note": "takes effect on restart"})
}
