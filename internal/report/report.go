// Package report summarizes a tracking session and renders it as HTML.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/vit-tracker/pkg/types"
)

// Summary aggregates the frame records of one session. Score and latency
// statistics cover update frames only; (re)initialization frames carry no
// model score.
type Summary struct {
	Frames      int           `json:"frames"`
	Updates     int           `json:"updates"`
	Reinits     int           `json:"reinits"`
	Tracked     int           `json:"tracked"`
	Lost        int           `json:"lost"`
	SuccessRate float64       `json:"success_rate"`
	MeanScore   float64       `json:"mean_score"`
	StdScore    float64       `json:"std_score"`
	LatencyP50  time.Duration `json:"latency_p50_ns"`
	LatencyP95  time.Duration `json:"latency_p95_ns"`
	MeanFPS     float64       `json:"mean_fps"`
	Threshold   float32       `json:"threshold"`
}

// Summarize computes the session summary for records
func Summarize(records []types.FrameRecord, threshold float32) Summary {
	s := Summary{Frames: len(records), Threshold: threshold}

	var scores, latencies []float64
	var total time.Duration
	for _, rec := range records {
		if rec.Reinit {
			s.Reinits++
			continue
		}
		s.Updates++
		if rec.Result.Success {
			s.Tracked++
		} else {
			s.Lost++
		}
		scores = append(scores, float64(rec.Result.Score))
		latencies = append(latencies, float64(rec.Latency))
		total += rec.Latency
	}
	if s.Updates == 0 {
		return s
	}

	s.SuccessRate = float64(s.Tracked) / float64(s.Updates)
	if len(scores) > 1 {
		s.MeanScore, s.StdScore = stat.MeanStdDev(scores, nil)
	} else {
		s.MeanScore = scores[0]
	}

	sort.Float64s(latencies)
	s.LatencyP50 = time.Duration(stat.Quantile(0.5, stat.Empirical, latencies, nil))
	s.LatencyP95 = time.Duration(stat.Quantile(0.95, stat.Empirical, latencies, nil))
	if total > 0 {
		s.MeanFPS = float64(s.Updates) / total.Seconds()
	}
	return s
}

// String formats the summary for terminal output
func (s Summary) String() string {
	return fmt.Sprintf("frames=%d tracked=%d lost=%d reinit=%d success=%.1f%% score=%.3f±%.3f latency p50=%s p95=%s fps=%.1f",
		s.Frames, s.Tracked, s.Lost, s.Reinits, s.SuccessRate*100, s.MeanScore, s.StdScore,
		s.LatencyP50.Round(time.Microsecond), s.LatencyP95.Round(time.Microsecond), s.MeanFPS)
}

// WriteHTML renders the per-frame score and latency as an HTML page
func WriteHTML(w io.Writer, title string, records []types.FrameRecord, threshold float32) error {
	summary := Summarize(records, threshold)

	x := make([]string, 0, len(records))
	scores := make([]opts.LineData, 0, len(records))
	limit := make([]opts.LineData, 0, len(records))
	latency := make([]opts.LineData, 0, len(records))
	for _, rec := range records {
		x = append(x, strconv.Itoa(rec.Index))
		scores = append(scores, opts.LineData{Value: rec.Result.Score})
		limit = append(limit, opts.LineData{Value: threshold})
		latency = append(latency, opts.LineData{Value: float64(rec.Latency) / float64(time.Millisecond)})
	}

	scoreChart := charts.NewLine()
	scoreChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracking score", Subtitle: summary.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "score"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
	)
	scoreChart.SetXAxis(x).
		AddSeries("score", scores).
		AddSeries("threshold", limit)

	latencyChart := charts.NewLine()
	latencyChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Update latency"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
	)
	latencyChart.SetXAxis(x).AddSeries("latency", latency)

	page := components.NewPage()
	page.AddCharts(scoreChart, latencyChart)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
