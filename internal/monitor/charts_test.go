package monitor

import (
	"bytes"
	"image/png"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/testutil"
)

func TestSelectHeatmap(t *testing.T) {
	ev := detector.GrabEvent{Data: []detector.DataFromPlugins{
		{Name: "a", Data: []*mat.Dense{{}, mat.NewDense(1, 2, []float64{1, 2})}, Labels: []string{"empty", "first"}},
		{Name: "b", Data: []*mat.Dense{mat.NewDense(2, 2, nil)}, XAxis: detector.NewAxis("x", []float64{5, 6})},
	}}

	hm, err := selectHeatmap(ev, 0)
	require.NoError(t, err)
	assert.Equal(t, "a first", hm.title)
	assert.Equal(t, []float64{0, 1}, hm.xAxis)
	assert.Equal(t, []float64{0}, hm.yAxis)

	hm, err = selectHeatmap(ev, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", hm.title)
	assert.Equal(t, []float64{5, 6}, hm.xAxis)

	_, err = selectHeatmap(ev, 2)
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	hm := heatmap{
		title: "ramp",
		grid:  mat.NewDense(3, 4, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}),
		xAxis: []float64{0, 1, 2, 3},
		yAxis: []float64{0, 1, 2},
	}
	img, err := renderPNG(hm, 2*vg.Inch, 2*vg.Inch)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(img))
	require.NoError(t, err)

	// A constant grid still renders.
	hm.grid = mat.NewDense(3, 4, nil)
	_, err = renderPNG(hm, 2*vg.Inch, 2*vg.Inch)
	require.NoError(t, err)

	_, err = renderPNG(heatmap{grid: mat.NewDense(1, 4, nil), xAxis: hm.xAxis, yAxis: []float64{0}}, vg.Inch, vg.Inch)
	assert.Error(t, err)
}

func TestHeatmapEndpoints(t *testing.T) {
	f := newFixture(t)

	// Nothing to draw yet.
	testutil.AssertStatusCode(t, f.do(t, http.MethodGet, "/charts/heatmap", "").Code, http.StatusNotFound)

	_, err := f.scanner.Initialize(nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/charts/heatmap", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "RandomGaussians")

	rec = f.do(t, http.MethodGet, "/plots/heatmap.png", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err = png.Decode(rec.Body)
	require.NoError(t, err)

	testutil.AssertStatusCode(t, f.do(t, http.MethodGet, "/plots/heatmap.png?array=x", "").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, f.do(t, http.MethodGet, "/plots/heatmap.png?array=3", "").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, f.do(t, http.MethodGet, "/charts/heatmap?grab="+uuid.NewString(), "").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, f.do(t, http.MethodGet, "/charts/heatmap?grab=bad", "").Code, http.StatusBadRequest)
	testutil.AssertStatusCode(t, f.do(t, http.MethodPost, "/charts/heatmap", "").Code, http.StatusMethodNotAllowed)
}

func TestHeatmapChart_ArchivedGrab(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan", `{"nx":3,"ny":3,"x_min":-1,"x_max":1,"y_min":-1,"y_max":1}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/grab", `{"wait":true}`).Code)
	ev, ok := f.latest.Final()
	require.True(t, ok)

	rec := f.do(t, http.MethodGet, "/charts/heatmap?grab="+ev.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.Contains(rec.Body.String(), ev.ID.String()))
}
