package pipeline

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/simstats/internal/httputil"
)

// AttachAdminRoutes serves per-simulation worker counters at
// /debug/workers.
func (m *Manager) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("workers", "simulation workers and step counters", func(w http.ResponseWriter, r *http.Request) {
		stats := m.Stats()
		if stats == nil {
			stats = []WorkerStats{}
		}
		httputil.WriteJSONOK(w, stats)
	})
}
