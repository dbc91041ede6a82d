// Package chart renders a collection's revenue series as a PNG line chart.
package chart

import (
	"bytes"
	"fmt"
	"math"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/albapepper/collection-watch/internal/collection"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 400

	maxTicks = 10
)

type palette struct {
	percent    drawing.Color
	ggr        drawing.Color
	predicted  drawing.Color
	reward     drawing.Color
	background drawing.Color
	grid       drawing.Color
	title      drawing.Color
}

var (
	snowballPalette = palette{
		percent:    drawing.ColorFromHex("10b981"),
		ggr:        drawing.ColorFromHex("ef4444"),
		predicted:  drawing.ColorFromHex("eab308"),
		background: drawing.ColorFromHex("ffffff"),
		grid:       drawing.ColorFromHex("e5e7eb"),
		title:      drawing.ColorFromHex("1e293b"),
	}
	regularPalette = palette{
		percent:    drawing.ColorFromHex("10b981"),
		reward:     drawing.ColorFromHex("6366f1"),
		background: drawing.ColorFromHex("f9fafb"),
		grid:       drawing.ColorFromHex("e5e7eb"),
		title:      drawing.ColorFromHex("1e3a8a"),
	}
	tickColor = drawing.ColorFromHex("4b5563")
)

// Options configures a Renderer.
type Options struct {
	Width  int
	Height int
	Now    func() time.Time
}

// Renderer draws revenue charts. It satisfies detect.Renderer.
type Renderer struct {
	width  int
	height int
	now    func() time.Time
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	r := &Renderer{width: opts.Width, height: opts.Height, now: opts.Now}
	if r.width <= 0 {
		r.width = DefaultWidth
	}
	if r.height <= 0 {
		r.height = DefaultHeight
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Render shapes points for c and encodes the chart as PNG. previous is the
// percent last announced, used when there is no history to draw.
func (r *Renderer) Render(c collection.Collection, previous float64, points []collection.RevenuePoint) ([]byte, error) {
	series := Shape(c, previous, points, r.now())
	graph := r.build(c, series)

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart for %s: %w", c.Slug, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) build(c collection.Collection, series []collection.RevenuePoint) gochart.Chart {
	pal := regularPalette
	if c.IsSnowball() {
		pal = snowballPalette
	}

	xs := make([]float64, len(series))
	percents := make([]float64, len(series))
	for i, p := range series {
		xs[i] = float64(i)
		percents[i] = p.Percent
	}

	graph := gochart.Chart{
		Title:      c.Name,
		TitleStyle: gochart.Style{FontSize: 18, FontColor: pal.title},
		Width:      r.width,
		Height:     r.height,
		Background: gochart.Style{
			FillColor: pal.background,
			Padding:   gochart.Box{Top: 50, Left: 15, Right: 15, Bottom: 10},
		},
		Canvas: gochart.Style{FillColor: pal.background},
		XAxis: gochart.XAxis{
			Range:          &gochart.ContinuousRange{Min: 0, Max: math.Max(1, float64(len(series)-1))},
			Ticks:          ticks(series),
			TickStyle:      gochart.Style{FontSize: 9, FontColor: tickColor, TextRotationDegrees: 45},
			GridMajorStyle: gochart.Style{StrokeColor: pal.grid, StrokeWidth: 1},
		},
		YAxis: gochart.YAxis{
			Name:           "Percent %",
			Range:          paddedRange(percents, 0.1),
			ValueFormatter: func(v interface{}) string { return formatFloat(v, "%.2f%%") },
			TickStyle:      gochart.Style{FontSize: 9, FontColor: tickColor},
			GridMajorStyle: gochart.Style{StrokeColor: pal.grid, StrokeWidth: 1},
		},
	}

	percentLine := gochart.ContinuousSeries{
		Name:    "Percent %",
		XValues: xs,
		YValues: percents,
		Style:   lineStyle(pal.percent),
	}

	if c.IsSnowball() {
		ggr := make([]float64, len(series))
		predicted := make([]float64, len(series))
		for i, p := range series {
			ggr[i] = p.GGR
			predicted[i] = p.PredictedGGR
		}
		graph.YAxisSecondary = gochart.YAxis{
			Name:           "GGR Values",
			Range:          paddedRange(append(append([]float64{}, ggr...), predicted...), 1),
			ValueFormatter: func(v interface{}) string { return formatFloat(v, "%.0f") },
			TickStyle:      gochart.Style{FontSize: 9, FontColor: tickColor},
		}
		graph.Series = []gochart.Series{
			percentLine,
			gochart.ContinuousSeries{Name: "GGR", YAxis: gochart.YAxisSecondary, XValues: xs, YValues: ggr, Style: lineStyle(pal.ggr)},
			gochart.ContinuousSeries{Name: "Predicted GGR", YAxis: gochart.YAxisSecondary, XValues: xs, YValues: predicted, Style: lineStyle(pal.predicted)},
		}
	} else {
		rewards := make([]float64, len(series))
		for i, p := range series {
			rewards[i] = monthlyReward(p.Percent, c.OriginalPrice)
		}
		lo, hi := minMax(rewards)
		rng := &gochart.ContinuousRange{Min: math.Max(0, lo*0.9), Max: hi * 1.1}
		if rng.Max-rng.Min < 1e-9 {
			rng.Max = rng.Min + 1
		}
		graph.YAxisSecondary = gochart.YAxis{
			Name:           "Monthly Reward (FTN)",
			Range:          rng,
			ValueFormatter: func(v interface{}) string { return formatFloat(v, "%.2f") },
			TickStyle:      gochart.Style{FontSize: 9, FontColor: pal.reward},
		}
		percentLine.Name = "Percent and Monthly Reward"
		percentLine.Style.FillColor = pal.percent.WithAlpha(25)
		rewardStyle := lineStyle(pal.reward)
		rewardStyle.StrokeDashArray = []float64{4, 4}
		graph.Series = []gochart.Series{
			percentLine,
			gochart.ContinuousSeries{Name: "Monthly Reward", YAxis: gochart.YAxisSecondary, XValues: xs, YValues: rewards, Style: rewardStyle},
		}
	}

	graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	return graph
}

func lineStyle(c drawing.Color) gochart.Style {
	return gochart.Style{StrokeColor: c, StrokeWidth: 2, DotColor: c, DotWidth: 2}
}

// ticks labels at most maxTicks evenly spaced points, always including the
// last one.
func ticks(series []collection.RevenuePoint) []gochart.Tick {
	if len(series) == 0 {
		return nil
	}
	step := (len(series) + maxTicks - 1) / maxTicks
	var out []gochart.Tick
	for i := 0; i < len(series); i += step {
		out = append(out, gochart.Tick{Value: float64(i), Label: series[i].Label})
	}
	if last := len(series) - 1; int(out[len(out)-1].Value) != last {
		out = append(out, gochart.Tick{Value: float64(last), Label: series[last].Label})
	}
	return out
}

// paddedRange spans values with a margin; a flat series gets room of pad
// on either side so the axis never collapses.
func paddedRange(values []float64, pad float64) *gochart.ContinuousRange {
	lo, hi := minMax(values)
	if hi-lo < 1e-9 {
		return &gochart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	}
	margin := (hi - lo) * 0.1
	return &gochart.ContinuousRange{Min: lo - margin, Max: hi + margin}
}

func minMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func monthlyReward(percent, originalPrice float64) float64 {
	if originalPrice == 0 {
		return 0
	}
	return math.Round(originalPrice*percent/100/12*1000) / 1000
}

func formatFloat(v interface{}, format string) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf(format, f)
	}
	return ""
}
