package sqlite

import (
	"context"
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/simstats/internal/httputil"
)

// AttachAdminRoutes mounts tailsql and a run listing under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Simulation steps",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("runs", "simulation runs", func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.Runs(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if runs == nil {
			runs = []Run{}
		}
		httputil.WriteJSONOK(w, runs)
	})

	// Per-run detail: ?run=<run_id>.
	debug.HandleSilentFunc("steps", runQuery(s.Steps))
	debug.HandleSilentFunc("roads", runQuery(s.Roads))
	debug.HandleSilentFunc("flows", runQuery(s.LaneFlows))
}

func runQuery[T any](query func(ctx context.Context, runID string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("run")
		if runID == "" {
			httputil.WriteJSONError(w, http.StatusBadRequest, "missing run parameter")
			return
		}
		rows, err := query(r.Context(), runID)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if rows == nil {
			rows = []T{}
		}
		httputil.WriteJSONOK(w, rows)
	}
}
