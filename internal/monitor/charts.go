package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/httputil"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// heatmap is one 2D array of an event with its coordinates.
type heatmap struct {
	title string
	grid  *mat.Dense
	xAxis []float64
	yAxis []float64
}

// selectHeatmap returns the n-th non-empty array of ev, counting across all
// payloads. Missing axes fall back to cell indices.
func selectHeatmap(ev detector.GrabEvent, n int) (heatmap, error) {
	k := 0
	for _, d := range ev.Data {
		for i, m := range d.Data {
			if m == nil || m.IsEmpty() {
				continue
			}
			if k != n {
				k++
				continue
			}
			r, c := m.Dims()
			hm := heatmap{
				title: d.Name,
				grid:  m,
				xAxis: axisOrIndex(d.XAxis, c),
				yAxis: axisOrIndex(d.YAxis, r),
			}
			if i < len(d.Labels) {
				hm.title = d.Name + " " + d.Labels[i]
			}
			return hm, nil
		}
	}
	return heatmap{}, fmt.Errorf("event has no array %d", n)
}

func axisOrIndex(a *detector.Axis, n int) []float64 {
	if a.Len() == n {
		return a.Data
	}
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}

func (s *Server) requestedHeatmap(w http.ResponseWriter, r *http.Request) (heatmap, detector.GrabEvent, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return heatmap{}, detector.GrabEvent{}, false
	}
	n := 0
	if v := r.URL.Query().Get("array"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'array' parameter")
			return heatmap{}, detector.GrabEvent{}, false
		}
	}
	ev, status, err := s.event(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return heatmap{}, ev, false
	}
	hm, err := selectHeatmap(ev, n)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return heatmap{}, ev, false
	}
	return hm, ev, true
}

// handleHeatmapChart renders the selected array as an interactive go-echarts
// heatmap.
// Query params:
//   - grab (optional; archived grab id, defaults to the newest live result)
//   - array (optional; default 0)
func (s *Server) handleHeatmapChart(w http.ResponseWriter, r *http.Request) {
	hm, ev, ok := s.requestedHeatmap(w, r)
	if !ok {
		return
	}

	rows, cols := hm.grid.Dims()
	data := make([]opts.HeatMapData, 0, rows*cols)
	for iy := 0; iy < rows; iy++ {
		for ix := 0; ix < cols; ix++ {
			data = append(data, opts.HeatMapData{Value: [3]any{ix, iy, hm.grid.At(iy, ix)}})
		}
	}
	raw := hm.grid.RawMatrix().Data
	lo, hi := floats.Min(raw), floats.Max(raw)

	chart := charts.NewHeatMap()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mock scanner heatmap", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: hm.title, Subtitle: fmt.Sprintf("grab=%s index=%d steps=%d/%d", ev.ID, ev.Index, ev.Steps, ev.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: axisLabels(hm.xAxis), Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: axisLabels(hm.yAxis), Name: "y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	chart.AddSeries("field", data)

	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func axisLabels(v []float64) []string {
	out := make([]string, len(v))
	for i, f := range v {
		out[i] = strconv.FormatFloat(f, 'g', 4, 64)
	}
	return out
}

// gridXYZ adapts a heatmap to plotter.GridXYZ. Columns are x, rows are y.
type gridXYZ heatmap

func (g gridXYZ) Dims() (c, r int) {
	r, c = g.grid.Dims()
	return c, r
}
func (g gridXYZ) Z(c, r int) float64 { return g.grid.At(r, c) }
func (g gridXYZ) X(c int) float64    { return g.xAxis[c] }
func (g gridXYZ) Y(r int) float64    { return g.yAxis[r] }

// renderPNG draws hm with gonum/plot.
func renderPNG(hm heatmap, width, height vg.Length) ([]byte, error) {
	rows, cols := hm.grid.Dims()
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("heatmap needs at least 2x2 cells, got %dx%d", rows, cols)
	}
	p := plot.New()
	p.Title.Text = hm.title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	h := plotter.NewHeatMap(gridXYZ(hm), palette.Heat(len(viridis), 1))
	if h.Max <= h.Min {
		h.Max = h.Min + 1
	}
	h.NaN = color.Transparent
	p.Add(h)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleHeatmapPNG renders the selected array as a static PNG.
// Query params: grab, array as for /charts/heatmap.
func (s *Server) handleHeatmapPNG(w http.ResponseWriter, r *http.Request) {
	hm, _, ok := s.requestedHeatmap(w, r)
	if !ok {
		return
	}
	img, err := renderPNG(hm, 6*vg.Inch, 6*vg.Inch)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}
