package export

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/vitalsink/vitalsink/internal/store"
)

var (
	colorBg   = drawing.ColorFromHex("2E3440")
	colorGrid = drawing.ColorFromHex("3B4252")
	colorText = drawing.ColorFromHex("D8DEE9")

	seriesPalette = []drawing.Color{
		drawing.ColorFromHex("81A1C1"), // nord9 blue
		drawing.ColorFromHex("A3BE8C"), // nord14 green
		drawing.ColorFromHex("EBCB8B"), // nord13 yellow
		drawing.ColorFromHex("BF616A"), // nord11 red
		drawing.ColorFromHex("B48EAD"), // nord15 purple
		drawing.ColorFromHex("88C0D0"), // nord8 cyan
		drawing.ColorFromHex("5E81AC"), // nord10 deep blue
	}
)

// TrendChart renders the daily values of the given metrics as a PNG time
// series, one colored line per metric.
func TrendChart(points []store.DetailedMetric, metricNames []string, width, height int) ([]byte, error) {
	byMetric := map[string][]store.DetailedMetric{}
	for _, p := range points {
		byMetric[p.MetricName] = append(byMetric[p.MetricName], p)
	}

	if len(metricNames) == 0 {
		for name := range byMetric {
			metricNames = append(metricNames, name)
		}
		sort.Strings(metricNames)
	}

	var series []chart.Series
	for i, name := range metricNames {
		metricPoints := byMetric[name]
		if len(metricPoints) == 0 {
			continue
		}
		sort.Slice(metricPoints, func(a, b int) bool {
			return metricPoints[a].MetricDate.Before(metricPoints[b].MetricDate)
		})

		var xValues []time.Time
		var yValues []float64
		for _, p := range metricPoints {
			xValues = append(xValues, p.MetricDate)
			yValues = append(yValues, p.Value)
		}

		series = append(series, chart.TimeSeries{
			Name:    name,
			XValues: xValues,
			YValues: yValues,
			Style: chart.Style{
				StrokeColor: seriesPalette[i%len(seriesPalette)],
				StrokeWidth: 2,
			},
		})
	}

	if len(series) == 0 {
		return emptyChart(width, height, "No metric data")
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			FillColor: colorBg,
			Padding: chart.Box{
				Top:    20,
				Left:   20,
				Right:  20,
				Bottom: 20,
			},
		},
		Canvas: chart.Style{
			FillColor: colorBg,
		},
		XAxis: chart.XAxis{
			Style: chart.Style{
				StrokeColor: colorGrid,
				FontColor:   colorText,
				FontSize:    10,
			},
			ValueFormatter: chart.TimeDateValueFormatter,
			GridMajorStyle: chart.Style{
				StrokeColor: colorGrid,
				StrokeWidth: 1,
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				StrokeColor: colorGrid,
				FontColor:   colorText,
				FontSize:    10,
			},
			GridMajorStyle: chart.Style{
				StrokeColor: colorGrid,
				StrokeWidth: 1,
			},
		},
		Series: series,
	}

	graph.Elements = []chart.Renderable{
		chart.LegendThin(&graph, chart.Style{
			FillColor: colorBg,
			FontColor: colorText,
			FontSize:  10,
		}),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

func emptyChart(width, height int, message string) ([]byte, error) {
	graph := chart.Chart{
		Width:  width,
		Height: height,
		Background: chart.Style{
			FillColor: colorBg,
		},
		Canvas: chart.Style{
			FillColor: colorBg,
		},
		XAxis: chart.XAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				Hidden: true,
			},
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		Series: []chart.Series{
			chart.AnnotationSeries{
				Annotations: []chart.Value2{
					{XValue: 50, YValue: 50, Label: message},
				},
				Style: chart.Style{
					FontColor: colorText,
					FontSize:  14,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render empty chart: %w", err)
	}
	return buf.Bytes(), nil
}
