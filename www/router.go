package www

import (
	"net/http"

	"mmcd/engine"
	"mmcd/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng.Events)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Read-only views need no login.
	r.Get("/events", h.eventHub.HandleSSE)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", h.handleHealth)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Get("/slots", h.apiListSlots)
		r.Get("/slots/{slot}", h.apiGetSlot)
		r.Get("/slots/{slot}/transitions", h.apiSlotTransitions)
		r.Get("/transitions", h.apiListTransitions)
		r.Get("/sensors", h.apiListSensors)
		r.Get("/sensors/{id}", h.apiGetSensor)
		r.Get("/sensors/{id}/sel", h.apiSensorSEL)
		r.Get("/sel", h.apiListSEL)
		r.Get("/cache", h.apiCache)

		// Anything that moves hardware or alters controller state is admin-only.
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)

			r.Post("/slots/{slot}/power-on", h.apiPowerOn)
			r.Post("/slots/{slot}/power-off", h.apiPowerOff)
			r.Post("/slots/{slot}/reset", h.apiReset)
			r.Post("/slots/{slot}/reboot", h.apiReboot)
			r.Post("/slots/{slot}/quiesce-ack", h.apiAckQuiesce)
			r.Put("/slots/{slot}/policy", h.apiSetPolicy)

			r.Put("/sensors/{id}/event-enable", h.apiSetEventEnable)
			r.Delete("/sel", h.apiClearSEL)
			r.Post("/ipmi", h.apiIPMI)

			r.Get("/sim", h.apiSimStatus)
			r.Put("/sim/slots/{slot}/handle", h.apiSimHandle)
			r.Put("/sim/slots/{slot}/faults", h.apiSimFaults)
			r.Put("/sim/sensors/{id}", h.apiSimSensor)
			r.Delete("/sim/sensors/{id}", h.apiSimClearSensor)

			r.Put("/config/messaging", h.apiUpdateMessaging)
			r.Post("/config/password", h.apiChangePassword)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sessions.user(r) == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
