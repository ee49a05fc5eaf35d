package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/footfall.report/internal/httputil"
)

func (s *Server) showTraceSummary(w http.ResponseWriter, r *http.Request) {
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, s.trace.Summary(s.counts.Corridor()))
}

func (s *Server) showTracePlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.trace.WritePNG(&buf, s.counts.Corridor()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.NoCache(w)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
