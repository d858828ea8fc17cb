package archive

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the debug index on mux with a live SQL console
// over the archive and a CSV export endpoint.
func (a *Archive) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+a.path, a.db, &tailsql.DBOptions{
		Label: "Grab archive",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("grabs", "Most recent archived grabs", http.HandlerFunc(a.handleDebugList))
	return nil
}

func (a *Archive) handleDebugList(w http.ResponseWriter, r *http.Request) {
	list, err := a.List(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t#%d\t%d/%d\taborted=%v\t%s\n",
			s.ID, s.Detector, s.Index, s.Steps, s.Total, s.Aborted, s.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	}
}
