package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mmcd/payload"
	"mmcd/sdr"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeOpError maps controller errors onto HTTP status codes.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payload.ErrUnknownSlot), errors.Is(err, sdr.ErrUnknownSensor):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payload.ErrBusy), errors.Is(err, payload.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseSlot(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "slot"))
}

func parseSensorID(r *http.Request) (uint8, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	return uint8(v), err
}

func parseLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		if n > 1000 {
			return 1000
		}
		return n
	}
	return def
}
