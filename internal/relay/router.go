package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (r *Relay) GetMux() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(r.requestIdMw)
	mux.Use(r.requestLoggingMw)

	mux.Route("/api/v1", func(mux chi.Router) {
		mux.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(r.Stats())
		})
		mux.Get("/ws", r.serveWS)
	})

	return mux
}
