// Package api serves the counter's HTTP reporting surface: the dashboard,
// the JSON count and status endpoints, and the /debug/ views.
package api

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/eventmux"
	"github.com/banshee-data/footfall.report/internal/httputil"
	"github.com/banshee-data/footfall.report/internal/pump"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trace"
	"github.com/banshee-data/footfall.report/internal/version"
	"github.com/banshee-data/footfall.report/internal/video"
	"github.com/banshee-data/footfall.report/internal/zone"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Counts is the shared counter state as the API sees it. *counter.State
// implements it.
type Counts interface {
	Snapshot(c counter.Consistency) counter.Snapshot
	Reset() counter.Snapshot
	Corridor() zone.Corridor
}

// PumpStatus reports frame pump liveness. *pump.Pump implements it.
type PumpStatus interface {
	Active() bool
	PoseActive() bool
	Stats() pump.Stats
	Info() (video.Info, bool)
}

// CrossingStore is the optional crossing log. *db.DB implements it.
type CrossingStore interface {
	RecentEvents(ctx context.Context, limit int) ([]counter.Event, error)
	HourlyCrossings(ctx context.Context, since time.Time) ([]db.HourlyBucket, error)
}

// Options configures a Server. Only Counts is required.
type Options struct {
	Counts Counts
	Pump   PumpStatus
	Config config.Summary
	Store  CrossingStore
	Events *eventmux.Mux
	Trace  *trace.Recorder
	// Static is served at / when set.
	Static fs.FS
	Clock  timeutil.Clock
}

type Server struct {
	counts  Counts
	pump    PumpStatus
	config  config.Summary
	store   CrossingStore
	events  *eventmux.Mux
	trace   *trace.Recorder
	static  fs.FS
	clock   timeutil.Clock
	started time.Time
}

func NewServer(opts Options) *Server {
	if opts.Counts == nil {
		panic("api: Options.Counts is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		counts:  opts.Counts,
		pump:    opts.Pump,
		config:  opts.Config,
		store:   opts.Store,
		events:  opts.Events,
		trace:   opts.Trace,
		static:  opts.Static,
		clock:   clock,
		started: clock.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux mounts every route. Debug routes go through tsweb so they are
// limited to loopback and tailnet clients.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counts", s.showCounts)
	mux.HandleFunc("/api/reset", s.resetCounts)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/crossings", s.listCrossings)
	mux.HandleFunc("/api/events", s.streamEvents)

	debug := tsweb.Debugger(mux)
	if s.trace != nil {
		debug.HandleFunc("trace", "Nose trace summary", s.showTraceSummary)
		debug.HandleFunc("trace.png", "Nose trace plot", s.showTracePlot)
	}
	if s.store != nil {
		debug.HandleFunc("charts/crossings", "Hourly crossings chart", s.showCrossingsChart)
	}
	if s.events != nil {
		s.events.AttachAdminRoutes(mux)
	}

	if s.static != nil {
		mux.Handle("/", http.FileServer(http.FS(s.static)))
	}
	return mux
}

// Handler wraps ServeMux with CORS and access logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(httputil.CORS(s.ServeMux()))
}

// CountsResponse is the body of GET /api/counts.
type CountsResponse struct {
	In      uint64 `json:"in"`
	Out     uint64 `json:"out"`
	Present uint64 `json:"present"`
}

func countsFrom(snap counter.Snapshot) CountsResponse {
	return CountsResponse{In: snap.In, Out: snap.Out, Present: snap.Present()}
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	consistency, err := counter.ParseConsistency(r.URL.Query().Get("consistency"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, countsFrom(s.counts.Snapshot(consistency)))
}

// ResetResponse is the body of POST /api/reset.
type ResetResponse struct {
	Status string `json:"status"`
	CountsResponse
}

func (s *Server) resetCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	snap := s.counts.Reset()
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, ResetResponse{Status: "reset", CountsResponse: countsFrom(snap)})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status        string        `json:"status"`
	VideoActive   bool          `json:"video_active"`
	PoseActive    bool          `json:"pose_active"`
	Version       version.Info  `json:"version"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Stats         *pump.Stats   `json:"stats,omitempty"`
	Video         *video.Info   `json:"video,omitempty"`
	Subscribers   int           `json:"subscribers"`
	Corridor      zone.Corridor `json:"corridor"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := StatusResponse{
		Status:        "running",
		Version:       version.Get(),
		UptimeSeconds: s.clock.Since(s.started).Seconds(),
		Corridor:      s.counts.Corridor(),
	}
	if s.pump != nil {
		resp.VideoActive = s.pump.Active()
		resp.PoseActive = s.pump.PoseActive()
		stats := s.pump.Stats()
		resp.Stats = &stats
		if info, ok := s.pump.Info(); ok {
			resp.Video = &info
		}
	}
	if s.events != nil {
		resp.Subscribers = s.events.Subscribers()
	}
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.config)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		httputil.NotFound(w, "event stream disabled")
		return
	}
	s.events.ServeSSE(w, r)
}
