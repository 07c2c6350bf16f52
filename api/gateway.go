package api

import (
	"net/http"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/dashboard"
	"Mail2Ledger/internal/ingest"
	"Mail2Ledger/internal/notification"
	"Mail2Ledger/internal/resource"
)

type HealthReporter interface {
	Statuses() []resource.Status
	Healthy() bool
}

type RunReporter interface {
	LastRun() ingest.RunReport
}

type NoticeLister interface {
	GetNotifications() []notification.Notice
}

type Publisher interface {
	Publish(dashboard.Event)
}

// Deps are the components the gateway serves. Nil members disable their routes or
// report as unavailable.
type Deps struct {
	Config   config.Config
	Files    ingest.FileIngester
	Registry ingest.Registry
	Archiver ingest.Archiver
	Health   HealthReporter
	Poller   RunReporter
	Notices  NoticeLister
	Feed     Publisher
	SSE      *dashboard.SSEServer
	WS       *dashboard.WebSocketServer
}

// Gateway holds the handlers; see NewRouter for the routes.
type Gateway struct {
	deps Deps
	// one upload per (client_id, sha256) at a time
	claims keyLocks
}

func NewGateway(deps Deps) *Gateway {
	return &Gateway{deps: deps}
}

// HealthResponse is the body of GET /api/healthz.
type HealthResponse struct {
	Healthy   bool              `json:"healthy"`
	Resources []resource.Status `json:"resources"`
	Poller    *ingest.RunReport `json:"poller,omitempty"`
}

func (g *Gateway) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Healthy: true, Resources: []resource.Status{}}
	if g.deps.Health != nil {
		resp.Healthy = g.deps.Health.Healthy()
		resp.Resources = g.deps.Health.Statuses()
	}
	if g.deps.Poller != nil {
		last := g.deps.Poller.LastRun()
		resp.Poller = &last
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	RespondWithJSON(w, status, resp)
}

func (g *Gateway) NotificationHandler(w http.ResponseWriter, r *http.Request) {
	notices := []notification.Notice{}
	if g.deps.Notices != nil {
		notices = g.deps.Notices.GetNotifications()
	}
	RespondWithPayload(w, http.StatusOK, true, "", notices)
}
