package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	DefaultTitle  = "Segment Utilization Distribution (Line Plot)"
	DefaultXLabel = "Segment Utilization"
	DefaultYLabel = "Fraction of Segments"
	DefaultWidth  = 8 // inches
	DefaultHeight = 5 // inches
	DefaultDPI    = 200
	DefaultBins   = 50
)

// Series is one labeled density curve.
type Series struct {
	Label     string
	Centers   []float64
	Densities []float64
}

// RenderOptions describes the image.  Zero values select the defaults.
type RenderOptions struct {
	Title  string
	XLabel string
	YLabel string
	Width  float64 // inches
	Height float64 // inches
	DPI    int
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.XLabel == "" {
		o.XLabel = DefaultXLabel
	}
	if o.YLabel == "" {
		o.YLabel = DefaultYLabel
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	return o
}

// NewSeries returns the density curve of values.
func NewSeries(label string, values []float64, bins int) (*Series, error) {
	centers, densities, err := HistogramDensity(values, bins)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", label, err)
	}
	return &Series{
		Label:     label,
		Centers:   centers,
		Densities: densities,
	}, nil
}

// Plot builds a line chart with one line per series, a legend and a dashed
// grid.
func Plot(opts RenderOptions, series []Series) (*plot.Plot, error) {
	if len(series) == 0 {
		return nil, ErrNoSeries
	}
	opts = opts.withDefaults()

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel

	grid := plotter.NewGrid()
	dashes := []vg.Length{vg.Points(4), vg.Points(2)}
	grid.Vertical.Dashes = dashes
	grid.Horizontal.Dashes = dashes
	p.Add(grid)

	for i, s := range series {
		if len(s.Centers) != len(s.Densities) {
			return nil, fmt.Errorf("%v: %w", s.Label, ErrSeriesSize)
		}
		xys := make(plotter.XYs, len(s.Centers))
		for k := range s.Centers {
			xys[k].X = s.Centers[k]
			xys[k].Y = s.Densities[k]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", s.Label, err)
		}
		line.LineStyle.Width = vg.Points(2)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.Label, line)
	}
	p.Legend.Top = true

	return p, nil
}

// Render draws series into a PNG at filename.  The image is written to a
// temporary file in the same directory and renamed into place, so filename
// is never left partially written.
func Render(filename string, opts RenderOptions, series []Series) error {
	log.Tracef("Render %v", filename)
	defer log.Tracef("Render %v exit", filename)

	p, err := Plot(opts, series)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(opts.Width)*vg.Inch,
			vg.Length(opts.Height)*vg.Inch),
		vgimg.UseDPI(opts.DPI))
	p.Draw(draw.New(c))

	f, err := os.CreateTemp(filepath.Dir(filename), ".segplot-*.png")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = vgimg.PngCanvas{Canvas: c}.WriteTo(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %v: %w", filename, err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err = os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return err
	}

	log.Infof("Wrote %v (%v series)", filename, len(series))
	return nil
}
