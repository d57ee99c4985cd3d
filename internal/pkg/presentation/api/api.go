package api

import (
	"encoding/json"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"github.com/rediaas/firebase-rest/internal/pkg/application/watcher"
)

func RegisterHandlers(r *chi.Mux, w watcher.Watcher) {
	r.Get("/health", NewHealthHandler())
	r.Get("/status", NewStatusHandler(w))
}

func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func NewStatusHandler(watch watcher.Watcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(struct {
			Targets []watcher.TargetStatus `json:"targets"`
		}{
			Targets: watch.Status(),
		})

		if err != nil {
			log := logging.GetFromContext(r.Context())
			log.Error("failed to marshal watcher status", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
