package handler

import (
	"net/http"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/batch"
	"github.com/callmedraxx/mevu-sub004/internal/feed"
	"github.com/callmedraxx/mevu-sub004/internal/ingest"
)

// StatusSources enumerates the live components the status endpoint samples.
// Nil fields are reported as absent rather than erroring, so the endpoint
// works the same on followers that never built a feeder.
type StatusSources struct {
	Role        func() string
	HolderID    func() string
	BusReady    func() bool
	Ingest      func() ingest.Stats
	Flush       func() batch.Stats
	Feed        func() feed.Status
	Mappings    func() int
	HubClients  func() int
	ArchiveInfo func() any
}

// StatusHandler serves the operational status snapshot.
type StatusHandler struct {
	sources   StatusSources
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler over the given sources.
func NewStatusHandler(sources StatusSources) *StatusHandler {
	return &StatusHandler{
		sources:   sources,
		startedAt: time.Now().UTC(),
	}
}

// Status reports role, bus readiness, queue depths and component counters.
// GET /api/v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if h.sources.Role != nil {
		body["role"] = h.sources.Role()
	}
	if h.sources.HolderID != nil {
		body["holder_id"] = h.sources.HolderID()
	}
	if h.sources.BusReady != nil {
		body["bus_ready"] = h.sources.BusReady()
	}
	if h.sources.Ingest != nil {
		body["ingest"] = h.sources.Ingest()
	}
	if h.sources.Flush != nil {
		body["flush"] = h.sources.Flush()
	}
	if h.sources.Feed != nil {
		body["feed"] = h.sources.Feed()
	}
	if h.sources.Mappings != nil {
		body["mappings"] = h.sources.Mappings()
	}
	if h.sources.HubClients != nil {
		body["ws_clients"] = h.sources.HubClients()
	}
	if h.sources.ArchiveInfo != nil {
		body["archive"] = h.sources.ArchiveInfo()
	}

	writeJSON(w, http.StatusOK, body)
}
