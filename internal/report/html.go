// Package report renders recorded gaze sessions as HTML charts and PNG plots.
package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gazetrack/internal/gaze"
	"github.com/banshee-data/gazetrack/internal/recorder"
)

// ErrNoSamples is returned when there is nothing to draw.
var ErrNoSamples = errors.New("report: no gaze samples")

// Session is everything a report draws.
type Session struct {
	Samples  []recorder.GazeSample
	Saccades []recorder.Saccade
	Events   []recorder.TargetEvent
}

var modeOrder = []gaze.Mode{gaze.ModeFixation, gaze.ModeSaccade, gaze.ModeSmoothPursuit}

// RenderHTML writes a page with the gaze path, target events and saccade
// timings to w.
func RenderHTML(w io.Writer, s Session) error {
	if len(s.Samples) == 0 {
		return ErrNoSamples
	}

	page := components.NewPage()
	page.PageTitle = "Gaze session"
	page.AddCharts(gazePathChart(s), saccadeChart(s.Saccades))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

func gazePathChart(s Session) *charts.Scatter {
	first, last := s.Samples[0].At, s.Samples[len(s.Samples)-1].At

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze path", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Gaze path",
			Subtitle: fmt.Sprintf("%d samples, %s", len(s.Samples), last.Sub(first).Round(time.Millisecond)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (px)", NameLocation: "middle", NameGap: 40}),
	)

	byMode := make(map[string][]opts.ScatterData, len(modeOrder))
	for _, g := range s.Samples {
		byMode[g.Mode] = append(byMode[g.Mode], opts.ScatterData{
			Value: []interface{}{g.Position.X, g.Position.Y, g.At.Sub(first).Seconds()},
		})
	}
	for _, m := range modeOrder {
		if pts := byMode[string(m)]; len(pts) > 0 {
			scatter.AddSeries(string(m), pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
		}
	}

	var acquired, lost []opts.ScatterData
	for _, ev := range s.Events {
		d := opts.ScatterData{
			Name:  ev.TargetID,
			Value: []interface{}{ev.Position.X, ev.Position.Y, ev.Quality},
		}
		switch ev.Kind {
		case string(gaze.KindTargetAcquired):
			acquired = append(acquired, d)
		case string(gaze.KindTargetLost):
			lost = append(lost, d)
		}
	}
	if len(acquired) > 0 {
		scatter.AddSeries("target acquired", acquired, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}
	if len(lost) > 0 {
		scatter.AddSeries("target lost", lost, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}
	return scatter
}

func saccadeChart(saccades []recorder.Saccade) *charts.Bar {
	x := make([]string, len(saccades))
	planned := make([]opts.BarData, len(saccades))
	actual := make([]opts.BarData, len(saccades))
	for i, sc := range saccades {
		x[i] = fmt.Sprintf("#%d %.1f°", i+1, sc.AmplitudeDeg)
		planned[i] = opts.BarData{Value: sc.PlannedMs}
		actual[i] = opts.BarData{Value: sc.ActualMs}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Saccade duration", Subtitle: fmt.Sprintf("%d saccades", len(saccades))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(x).
		AddSeries("planned", planned).
		AddSeries("actual", actual)
	return bar
}
