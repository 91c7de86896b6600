package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"portaria/internal/model"
)

// Chart is a renderable figure. Reporters never touch the filesystem; callers
// decide where a chart goes.
type Chart struct {
	Name   string
	Plot   *plot.Plot
	Width  vg.Length
	Height vg.Length
}

// Encode renders the chart in the given format (png, svg, pdf, ...).
func (c Chart) Encode(w io.Writer, format string) error {
	wt, err := c.Plot.WriterTo(c.Width, c.Height, format)
	if err != nil {
		return fmt.Errorf("render %s: %w", c.Name, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", c.Name, err)
	}
	return nil
}

var (
	inlierColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	outlierColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// All returns the three standard charts for a finalized table.
func All(table model.Table) ([]Chart, error) {
	builders := []func(model.Table) (Chart, error){
		HourlyDistribution,
		AnomalyScatter,
		EventTypeCounts,
	}
	out := make([]Chart, 0, len(builders))
	for _, build := range builders {
		c, err := build(table)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// HourlyCounts returns the number of rows per hour of day.
func HourlyCounts(table model.Table) [24]int {
	var counts [24]int
	for _, ev := range table.Rows {
		if ev.Hour >= 0 && ev.Hour < 24 {
			counts[ev.Hour]++
		}
	}
	return counts
}

func HourlyDistribution(table model.Table) (Chart, error) {
	counts := HourlyCounts(table)
	values := make(plotter.Values, 24)
	names := make([]string, 24)
	for h, n := range counts {
		values[h] = float64(n)
		names[h] = strconv.Itoa(h)
	}
	p := plot.New()
	p.Title.Text = "Distribuição de Acessos por Hora do Dia"
	p.X.Label.Text = "Hora do Dia"
	p.Y.Label.Text = "Número de Acessos"
	if err := addAnnotatedBars(p, values); err != nil {
		return Chart{}, fmt.Errorf("hourly distribution: %w", err)
	}
	p.NominalX(names...)
	return Chart{Name: "hourly_distribution", Plot: p, Width: 10 * vg.Inch, Height: 6 * vg.Inch}, nil
}

// EventTypeCount is one bar of the event-type chart.
type EventTypeCount struct {
	EventType string
	Count     int
}

// CountEventTypes counts rows per event type in order of first appearance.
func CountEventTypes(table model.Table) []EventTypeCount {
	index := make(map[string]int)
	var out []EventTypeCount
	for _, ev := range table.Rows {
		i, ok := index[ev.EventType]
		if !ok {
			i = len(out)
			index[ev.EventType] = i
			out = append(out, EventTypeCount{EventType: ev.EventType})
		}
		out[i].Count++
	}
	return out
}

func EventTypeCounts(table model.Table) (Chart, error) {
	counts := CountEventTypes(table)
	values := make(plotter.Values, len(counts))
	names := make([]string, len(counts))
	for i, c := range counts {
		values[i] = float64(c.Count)
		names[i] = c.EventType
	}
	p := plot.New()
	p.Title.Text = "Contagem de Tipos de Eventos"
	p.X.Label.Text = "Tipo de Evento"
	p.Y.Label.Text = "Contagem"
	if len(values) > 0 {
		if err := addAnnotatedBars(p, values); err != nil {
			return Chart{}, fmt.Errorf("event type counts: %w", err)
		}
		p.NominalX(names...)
	}
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = text.XRight
	p.X.Tick.Label.YAlign = text.YCenter
	return Chart{Name: "event_types", Plot: p, Width: 12 * vg.Inch, Height: 6 * vg.Inch}, nil
}

// AnomalyScatter plots response time over time, one series per flag.
func AnomalyScatter(table model.Table) (Chart, error) {
	series := map[model.AnomalyFlag]plotter.XYs{}
	for _, ev := range table.Rows {
		flag := ev.AnomalyFlag
		if flag == "" {
			flag = model.Inlier
		}
		series[flag] = append(series[flag], plotter.XY{
			X: float64(ev.Timestamp.Unix()),
			Y: float64(ev.ResponseTimeSeconds),
		})
	}
	p := plot.New()
	p.Title.Text = "Anomalias no Tempo de Resposta"
	p.X.Label.Text = "Data e Hora"
	p.Y.Label.Text = "Tempo de Resposta (segundos)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Legend.Top = true

	for _, flag := range []model.AnomalyFlag{model.Inlier, model.Outlier} {
		xys, ok := series[flag]
		if !ok {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return Chart{}, fmt.Errorf("anomaly scatter: %w", err)
		}
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		if flag == model.Outlier {
			s.GlyphStyle.Color = outlierColor
		} else {
			s.GlyphStyle.Color = inlierColor
		}
		p.Add(s)
		p.Legend.Add(string(flag), s)
	}
	return Chart{Name: "anomalies", Plot: p, Width: 10 * vg.Inch, Height: 6 * vg.Inch}, nil
}

func addAnnotatedBars(p *plot.Plot, values plotter.Values) error {
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return err
	}
	bars.Color = inlierColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	xys := make(plotter.XYs, len(values))
	labels := make([]string, len(values))
	for i, v := range values {
		xys[i] = plotter.XY{X: float64(i), Y: v}
		labels[i] = strconv.Itoa(int(v))
	}
	annotations, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return err
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].XAlign = text.XCenter
		annotations.TextStyle[i].YAlign = text.YBottom
	}
	annotations.Offset = vg.Point{Y: vg.Points(2)}
	p.Add(annotations)
	return nil
}

// SaveAll writes every chart to dir as <name>.<format>.
func SaveAll(dir, format string, charts []Chart) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(charts))
	for _, c := range charts {
		path := filepath.Join(dir, c.Name+"."+format)
		if err := saveChart(path, format, c); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func saveChart(path, format string, c Chart) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Encode(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
