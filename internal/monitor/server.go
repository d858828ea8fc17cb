// Package monitor serves the HTTP API used to drive the mock scanner and
// inspect its results.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mockscanner/internal/archive"
	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/httputil"
	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/scan"
	"github.com/banshee-data/mockscanner/internal/synth"
)

// MaxAxisPoints bounds each axis of a scan requested over HTTP.
const MaxAxisPoints = 1024

// Scanner is the detector surface the API drives.
type Scanner interface {
	detector.Scanner
	Settings() detector.Settings
	Driver() *scan.Driver
}

// RemoteDetector is a detector fed by a remote grabber.
type RemoteDetector interface {
	detector.Detector
	Connected() bool
}

// Config holds the collaborators of a Server. Archive and Remote may be nil.
type Config struct {
	Address  string
	Scanner  Scanner
	Latest   *detector.Latest
	Archive  *archive.Archive
	Remote   RemoteDetector
	NAverage int
}

// Server exposes the scanner over HTTP.
type Server struct {
	address  string
	scanner  Scanner
	latest   *detector.Latest
	archive  *archive.Archive
	remote   RemoteDetector
	naverage int

	grabbing atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	lastErr error
}

// NewServer wires the API. A nil Latest is replaced by an empty cache.
func NewServer(cfg Config) *Server {
	latest := cfg.Latest
	if latest == nil {
		latest = &detector.Latest{}
	}
	return &Server{
		address:  cfg.Address,
		scanner:  cfg.Scanner,
		latest:   latest,
		archive:  cfg.Archive,
		remote:   cfg.Remote,
		naverage: cfg.NAverage,
		baseCtx:  context.Background(),
	}
}

// Routes returns the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes attaches every endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/grab", s.handleGrab)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/grabs", s.handleGrabs)
	mux.HandleFunc("/api/grabs/", s.handleGrabByID)
	mux.HandleFunc("/api/remote/grab", s.handleRemoteGrab)
	mux.HandleFunc("/api/remote/stop", s.handleRemoteStop)
	mux.HandleFunc("/charts/heatmap", s.handleHeatmapChart)
	mux.HandleFunc("/plots/heatmap.png", s.handleHeatmapPNG)
}

// Start serves until ctx is cancelled, then shuts down and waits for any
// background grab started through the API.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	mux := s.Routes()
	if s.archive != nil {
		if err := s.archive.AttachAdminRoutes(mux); err != nil {
			return fmt.Errorf("attach admin routes: %w", err)
		}
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.wg.Wait()
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	s.scanner.Stop()
	s.wg.Wait()
	log.Printf("HTTP server routine stopped")
	return nil
}

// ListenAndStart listens on the configured address and calls Start.
func (s *Server) ListenAndStart(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}
	return s.Start(ctx, ln)
}

// Wait blocks until background grabs started through the API finish.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Detector        string            `json:"detector"`
	State           string            `json:"state"`
	Running         bool              `json:"running"`
	Grabs           uint64            `json:"grabs"`
	Steps           int               `json:"steps"`
	Total           int               `json:"total"`
	Settings        detector.Settings `json:"settings"`
	RemoteConnected *bool             `json:"remote_connected,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

func (s *Server) status() StatusResponse {
	d := s.scanner.Driver()
	resp := StatusResponse{
		Detector: s.scanner.Name(),
		State:    d.State().String(),
		Running:  d.Running() || s.grabbing.Load(),
		Grabs:    d.GrabCount(),
		Steps:    d.Steps(),
		Settings: s.scanner.Settings(),
	}
	if p := d.Parameters(); p != nil {
		resp.Total = p.Steps()
	}
	if s.remote != nil {
		c := s.remote.Connected()
		resp.RemoteConnected = &c
	}
	s.mu.Lock()
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// GrabRequest is the optional body of POST /api/grab.
type GrabRequest struct {
	NAverage int  `json:"naverage,omitempty"`
	Wait     bool `json:"wait,omitempty"`
}

// GrabResponse reports a started or completed grab.
type GrabResponse struct {
	Started bool                `json:"started"`
	Event   *detector.GrabEvent `json:"event,omitempty"`
}

func (s *Server) handleGrab(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req GrabRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	naverage := req.NAverage
	if naverage <= 0 {
		naverage = s.naverage
	}
	if !s.grabbing.CompareAndSwap(false, true) {
		httputil.Conflict(w, scan.ErrGrabInProgress.Error())
		return
	}

	if req.Wait {
		err := s.runGrab(r.Context(), naverage)
		switch {
		case errors.Is(err, scan.ErrGrabInProgress):
			httputil.Conflict(w, err.Error())
			return
		case err != nil:
			httputil.InternalServerError(w, err.Error())
			return
		}
		resp := GrabResponse{Started: true}
		if ev, ok := s.latest.Final(); ok {
			resp.Event = &ev
		}
		httputil.WriteJSONOK(w, resp)
		return
	}

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runGrab(ctx, naverage); err != nil {
			monitoring.Logf("grab failed: %v", err)
		}
	}()
	httputil.WriteJSON(w, http.StatusAccepted, GrabResponse{Started: true})
}

// runGrab runs one grab; the caller must have set s.grabbing.
func (s *Server) runGrab(ctx context.Context, naverage int) error {
	defer s.grabbing.Store(false)
	err := s.scanner.Grab(ctx, naverage)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	msg := s.scanner.Stop()
	httputil.WriteJSONOK(w, map[string]string{"message": msg})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.scanner.Settings())
	case http.MethodPost:
		var set detector.Setting
		if err := httputil.DecodeJSON(w, r, &set); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		cmd, err := s.scanner.CommitSetting(set)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]any{
			"settings": s.scanner.Settings(),
			"command":  cmd,
		})
	default:
		httputil.MethodNotAllowed(w)
	}
}

// ScanRequest is the body of POST /api/scan: a path over two linspace axes.
type ScanRequest struct {
	Path string  `json:"path"`
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	NX   int     `json:"nx"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
	NY   int     `json:"ny"`
}

func (req ScanRequest) parameters() (*scan.Parameters, error) {
	if req.NX < 1 || req.NX > MaxAxisPoints || req.NY < 1 || req.NY > MaxAxisPoints {
		return nil, fmt.Errorf("nx and ny must be between 1 and %d", MaxAxisPoints)
	}
	path := req.Path
	if path == "" {
		path = string(scan.Raster)
	}
	pt, err := scan.ParsePathType(path)
	if err != nil {
		return nil, err
	}
	return scan.Build(pt, synth.Linspace(req.XMin, req.XMax, req.NX), synth.Linspace(req.YMin, req.YMax, req.NY))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req ScanRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if s.grabbing.Load() || s.scanner.Driver().Running() {
		httputil.Conflict(w, scan.ErrGrabInProgress.Error())
		return
	}
	p, err := req.parameters()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.scanner.UpdateScanner(p)
	httputil.WriteJSONOK(w, map[string]any{
		"path":  req.Path,
		"steps": p.Steps(),
		"nx":    len(p.XAxis),
		"ny":    len(p.YAxis),
	})
}

// handleRemoteGrab asks the attached grabber for one result. The data
// arrives asynchronously through the listener chain.
func (s *Server) handleRemoteGrab(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.remote == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no remote server configured")
		return
	}
	if err := s.remote.Grab(r.Context(), s.naverage); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, GrabResponse{Started: true})
}

func (s *Server) handleRemoteStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.remote == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no remote server configured")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"message": s.remote.Stop()})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	get := s.latest.Current
	if r.URL.Query().Get("final") == "true" {
		get = s.latest.Final
	}
	ev, ok := get()
	if !ok {
		httputil.NotFound(w, "no result yet")
		return
	}
	httputil.WriteJSONOK(w, ev)
}

func (s *Server) handleGrabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.archive == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no archive configured")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	list, err := s.archive.List(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list grabs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, list)
}

// handleGrabByID serves /api/grabs/{id} as JSON and /api/grabs/{id}.csv as
// one CSV row per cell.
func (s *Server) handleGrabByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.archive == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no archive configured")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/grabs/")
	raw, asCSV := strings.CutSuffix(name, ".csv")
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid grab id %q", raw))
		return
	}

	if asCSV {
		// Render before writing headers so a missing grab can still 404.
		var buf strings.Builder
		if err := s.archive.ExportCSV(r.Context(), id, &buf); err != nil {
			s.writeArchiveError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id.String()+".csv"))
		_, _ = w.Write([]byte(buf.String()))
		return
	}
	ev, err := s.archive.Get(r.Context(), id)
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ev)
}

func (s *Server) writeArchiveError(w http.ResponseWriter, err error) {
	if errors.Is(err, archive.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

// event resolves the ?grab= query to an archived grab, or falls back to the
// newest live result.
func (s *Server) event(r *http.Request) (detector.GrabEvent, int, error) {
	if raw := r.URL.Query().Get("grab"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return detector.GrabEvent{}, http.StatusBadRequest, fmt.Errorf("invalid grab id %q", raw)
		}
		if s.archive == nil {
			return detector.GrabEvent{}, http.StatusServiceUnavailable, errors.New("no archive configured")
		}
		ev, err := s.archive.Get(r.Context(), id)
		if errors.Is(err, archive.ErrNotFound) {
			return ev, http.StatusNotFound, err
		}
		if err != nil {
			return ev, http.StatusInternalServerError, err
		}
		return ev, http.StatusOK, nil
	}
	ev, ok := s.latest.Current()
	if !ok {
		return ev, http.StatusNotFound, errors.New("no result yet")
	}
	return ev, http.StatusOK, nil
}
