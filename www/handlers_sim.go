package www

import (
	"encoding/json"
	"net/http"

	"mmcd/hardware"
	"mmcd/payload"
)

// sim returns the simulated board, or writes 404 when real hardware is attached.
func (h *Handlers) sim(w http.ResponseWriter) (*hardware.Sim, bool) {
	s, ok := h.engine.Board().(*hardware.Sim)
	if !ok {
		writeError(w, http.StatusNotFound, "hardware driver is not sim")
	}
	return s, ok
}

func (h *Handlers) simSlot(w http.ResponseWriter, r *http.Request) (*hardware.Sim, int, bool) {
	s, ok := h.sim(w)
	if !ok {
		return nil, 0, false
	}
	slot, err := parseSlot(r)
	if err != nil || slot < 0 || slot >= h.engine.Sequencer().Slots() {
		writeError(w, http.StatusNotFound, "unknown slot")
		return nil, 0, false
	}
	return s, slot, true
}

func (h *Handlers) apiSimStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sim(w)
	if !ok {
		return
	}
	writeJSON(w, s.Status())
}

func (h *Handlers) apiSimHandle(w http.ResponseWriter, r *http.Request) {
	s, slot, ok := h.simSlot(w, r)
	if !ok {
		return
	}
	var req struct {
		Position string `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Position {
	case "inserted", "closed":
		s.SetHandle(slot, payload.Inserted)
	case "extracted", "open":
		s.SetHandle(slot, payload.Extracted)
	default:
		writeError(w, http.StatusBadRequest, "position must be inserted or extracted")
		return
	}
	writeJSON(w, s.Status()[slot])
}

func (h *Handlers) apiSimFaults(w http.ResponseWriter, r *http.Request) {
	s, slot, ok := h.simSlot(w, r)
	if !ok {
		return
	}
	var req struct {
		PowerGood *bool `json:"power_good_fault"`
		Setup     *bool `json:"setup_fault"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PowerGood != nil {
		s.SetPowerGoodFault(slot, *req.PowerGood)
	}
	if req.Setup != nil {
		s.SetSetupFault(slot, *req.Setup)
	}
	writeJSON(w, s.Status()[slot])
}

func (h *Handlers) apiSimSensor(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sim(w)
	if !ok {
		return
	}
	id, err := parseSensorID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	if _, found := h.engine.Sensors().FindByID(id); !found {
		writeError(w, http.StatusNotFound, "unknown sensor")
		return
	}
	var req struct {
		Value uint16 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.SetSensor(id, req.Value)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiSimClearSensor(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sim(w)
	if !ok {
		return
	}
	id, err := parseSensorID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	s.ClearSensor(id)
	writeJSON(w, map[string]string{"status": "ok"})
}
