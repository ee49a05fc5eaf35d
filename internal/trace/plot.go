package trace

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/footfall.report/internal/security"
	"github.com/banshee-data/footfall.report/internal/zone"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

var (
	insideColor   = color.RGBA{R: 34, G: 139, B: 34, A: 255}
	outsideColor  = color.RGBA{R: 70, G: 70, B: 200, A: 255}
	boundaryColor = color.RGBA{R: 220, G: 20, B: 60, A: 255}
)

// Plot draws the held detections as x against frame sequence, coloured by
// zone, with the corridor boundaries as vertical lines.
func (r *Recorder) Plot(corridor zone.Corridor) (*plot.Plot, error) {
	ds := r.Detections()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Nose trace (%d detections)", len(ds))
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "Frame"
	p.Add(plotter.NewGrid())

	inside := make(plotter.XYs, 0, len(ds))
	outside := make(plotter.XYs, 0, len(ds))
	minY, maxY := 0.0, 1.0
	for i, d := range ds {
		pt := plotter.XY{X: float64(d.X), Y: float64(d.Seq)}
		if corridor.Classify(pt.X) == zone.Inside {
			inside = append(inside, pt)
		} else {
			outside = append(outside, pt)
		}
		if i == 0 || pt.Y < minY {
			minY = pt.Y
		}
		if i == 0 || pt.Y > maxY {
			maxY = pt.Y
		}
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{zone.Inside.String(), inside, insideColor},
		{zone.Outside.String(), outside, outsideColor},
	} {
		if len(series.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(series.pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = series.c
		sc.GlyphStyle.Radius = vg.Points(2)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(series.name, sc)
	}

	for _, x := range []float64{corridor.Left, corridor.Right} {
		line, err := plotter.NewLine(plotter.XYs{{X: x, Y: minY}, {X: x, Y: maxY}})
		if err != nil {
			return nil, err
		}
		line.Color = boundaryColor
		line.Width = vg.Points(1.5)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders the plot as PNG to w.
func (r *Recorder) WritePNG(w io.Writer, corridor zone.Corridor) error {
	p, err := r.Plot(corridor)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render trace plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG writes the plot to path, creating its directory if needed. The
// path must be under the working or temp directory.
func (r *Recorder) SavePNG(path string, corridor zone.Corridor) error {
	if err := security.ValidateExportPath(path); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot directory: %w", err)
		}
	}
	p, err := r.Plot(corridor)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save trace plot %s: %w", path, err)
	}
	return nil
}
