package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"Mail2Ledger/api/constants"
)

// NewRouter wires the HTTP surface of the gateway.
func NewRouter(g *Gateway) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger)

	router.HandleFunc("/api/ingest/upload", g.UploadHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/healthz", g.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications", g.NotificationHandler).Methods(http.MethodGet)
	if g.deps.SSE != nil {
		router.HandleFunc("/api/events", g.deps.SSE.HandleSSE).Methods(http.MethodGet)
	}
	if g.deps.WS != nil {
		router.HandleFunc("/api/ws", g.deps.WS.HandleConnections).Methods(http.MethodGet)
	}

	router.NotFoundHandler = RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusNotFound, constants.ErrRouteNotFound)
	}))
	return router
}
