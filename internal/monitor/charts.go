package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/clementpouget/DeepLabStream/internal/httputil"
)

// echartsAssetsPrefix points the chart pages at the published echarts
// assets so they render without any static files of our own.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTrialCounts renders a bar chart of repetition counters per trial.
func (s *Server) handleTrialCounts(w http.ResponseWriter, r *http.Request) {
	st := s.status()

	names := make([]string, 0, len(st.Counts))
	for name := range st.Counts {
		names = append(names, name)
	}
	sort.Strings(names)

	y := make([]opts.BarData, 0, len(names))
	for _, name := range names {
		y = append(y, opts.BarData{Value: st.Counts[name]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Trial Counts",
			Subtitle: fmt.Sprintf("experiment=%s state=%s elapsed=%s", st.Name, st.State, st.Elapsed.Round(time.Second)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("trials", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleEventTimeline renders recorded trial events as one scatter
// series per event kind, X in seconds since the first event, Y the
// counter after each transition.
// Query params:
//   - session (optional; defaults to the live session, then the most
//     recent one in the database)
func (s *Server) handleEventTimeline(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.sessionID
	}
	if sessionID == "" {
		recent, err := s.store.RecentSessions(1)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
			return
		}
		if len(recent) == 0 {
			httputil.WriteJSONError(w, http.StatusNotFound, "no sessions recorded")
			return
		}
		sessionID = recent[0].ID
	}

	events, err := s.store.Events(sessionID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get events: %v", err))
		return
	}
	if len(events) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no events recorded for session")
		return
	}

	start := events[0].RecordedAt
	series := make(map[string][]opts.ScatterData)
	for _, ev := range events {
		x := ev.RecordedAt.Sub(start).Seconds()
		series[ev.Kind] = append(series[ev.Kind], opts.ScatterData{Value: []interface{}{x, ev.Count, ev.Trial}})
	}

	kinds := make([]string, 0, len(series))
	for kind := range series {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trial Events", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Trial Event Timeline", Subtitle: fmt.Sprintf("session=%s events=%d", sessionID, len(events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seconds since first event", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "counter", NameLocation: "middle", NameGap: 30}),
	)
	for _, kind := range kinds {
		scatter.AddSeries(kind, series[kind], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render timeline chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
