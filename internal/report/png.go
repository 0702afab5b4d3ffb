package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gazetrack/internal/recorder"
)

// RenderPNG plots gaze X and Y against seconds since the first sample and
// saves the result to path. The image format follows the file extension.
func RenderPNG(path string, samples []recorder.GazeSample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Gaze position (%d samples)", len(samples))
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Position (px)"

	first := samples[0].At
	xs := make(plotter.XYs, len(samples))
	ys := make(plotter.XYs, len(samples))
	for i, s := range samples {
		t := s.At.Sub(first).Seconds()
		xs[i] = plotter.XY{X: t, Y: s.Position.X}
		ys[i] = plotter.XY{X: t, Y: s.Position.Y}
	}

	colors := generateColors(2)
	for i, series := range []struct {
		name string
		pts  plotter.XYs
	}{{"x", xs}, {"y", ys}} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return fmt.Errorf("create %s line: %w", series.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = colors[i]
		p.Add(line)
		p.Legend.Add(series.name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save gaze plot: %w", err)
	}
	return nil
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
