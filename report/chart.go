package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderChart writes a standalone HTML page plotting the primary, left and
// right elbow angles over time, with the phase thresholds as guide lines.
// Gated frames leave gaps.
func RenderChart(w io.Writer, s *Summary, title string, upAngle, downAngle float64) error {
	x := make([]string, len(s.Samples))
	primary := make([]opts.LineData, len(s.Samples))
	left := make([]opts.LineData, len(s.Samples))
	right := make([]opts.LineData, len(s.Samples))
	up := make([]opts.LineData, len(s.Samples))
	down := make([]opts.LineData, len(s.Samples))

	for i, smp := range s.Samples {
		x[i] = fmt.Sprintf("%.2f", smp.Offset.Seconds())
		primary[i] = lineValue(smp.Angle)
		left[i] = lineValue(smp.Left)
		right[i] = lineValue(smp.Right)
		up[i] = opts.LineData{Value: upAngle}
		down[i] = opts.LineData{Value: downAngle}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Curl replay", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("reps=%d frames=%d detected=%.0f%%", s.RepCount, s.Frames, s.DetectionRate()*100),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "elbow angle (°)", Min: 0, Max: 180}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)

	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	dashed := charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Width: 1})

	line.SetXAxis(x).
		AddSeries("primary", primary, noSymbol, charts.WithLineStyleOpts(opts.LineStyle{Width: 2})).
		AddSeries("left", left, noSymbol).
		AddSeries("right", right, noSymbol).
		AddSeries("up threshold", up, noSymbol, dashed).
		AddSeries("down threshold", down, noSymbol, dashed)

	return line.Render(w)
}

func lineValue(v *float64) opts.LineData {
	if v == nil {
		return opts.LineData{Value: nil}
	}
	return opts.LineData{Value: round1(*v)}
}
