package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/httputil"
)

const (
	defaultCrossingsLimit = 50
	defaultChartHours     = 24
	maxChartHours         = 24 * 31
)

// echartsAssetsPrefix is where rendered chart pages load echarts from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

func (s *Server) listCrossings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "crossing log disabled")
		return
	}

	limit := defaultCrossingsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > db.MaxRecentLimit {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'limit' parameter, must be 1..%d", db.MaxRecentLimit))
			return
		}
		limit = parsed
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve crossings: %v", err))
		return
	}
	httputil.NoCache(w)
	httputil.WriteJSONOK(w, events)
}

// hourlyChart fills the gaps between buckets so every hour in the window has
// a bar.
func hourlyChart(buckets []db.HourlyBucket, since, now time.Time) (labels []string, in, out []opts.BarData) {
	byHour := make(map[int64]db.HourlyBucket, len(buckets))
	for _, b := range buckets {
		byHour[b.Start.Unix()] = b
	}
	for h := since.Truncate(time.Hour); !h.After(now); h = h.Add(time.Hour) {
		b := byHour[h.Unix()]
		labels = append(labels, h.UTC().Format("01-02 15:04"))
		in = append(in, opts.BarData{Value: b.In})
		out = append(out, opts.BarData{Value: b.Out})
	}
	return labels, in, out
}

func (s *Server) showCrossingsChart(w http.ResponseWriter, r *http.Request) {
	hours := defaultChartHours
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 || parsed > maxChartHours {
			httputil.BadRequest(w, "Invalid 'hours' parameter")
			return
		}
		hours = parsed
	}

	now := s.clock.Now().UTC()
	since := now.Add(-time.Duration(hours-1) * time.Hour).Truncate(time.Hour)
	buckets, err := s.store.HourlyCrossings(r.Context(), since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve crossings: %v", err))
		return
	}
	labels, in, out := hourlyChart(buckets, since, now)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Crossings", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crossings per hour", Subtitle: fmt.Sprintf("last %dh, UTC, generated %s", hours, now.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("in", in).
		AddSeries("out", out)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
