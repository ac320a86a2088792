package shapefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func donut() *geom.MultiPolygon {
	outer := []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}
	hole := []float64{4, 4, 4, 6, 6, 6, 6, 4, 4, 4}
	p := geom.NewPolygonFlat(geom.XY, append(outer, hole...), []int{10, 20})
	island := geom.NewPolygonFlat(geom.XY, []float64{20, 0, 22, 0, 22, 2, 20, 2, 20, 0}, []int{10})
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(p); err != nil {
		panic(err)
	}
	if err := mp.Push(island); err != nil {
		panic(err)
	}
	return mp
}

func TestFromPolygonalOrientation(t *testing.T) {
	poly := FromPolygonal(donut())
	require.NotNil(t, poly)
	assert.Equal(t, int32(3), poly.NumParts)

	g := polygonToMultiPolygon(poly.Parts, poly.Points, 5070)
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings(), "hole stays with its outer ring")
	assert.InDelta(t, 96+4, mp.Area(), 1e-9)
	assert.Equal(t, 5070, mp.SRID())

	assert.Nil(t, FromPolygonal(geom.NewPointFlat(geom.XY, []float64{1, 1})))
}

func TestSignedArea(t *testing.T) {
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	assert.InDelta(t, 1, signedArea(ccw), 1e-12)
	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}
	assert.InDelta(t, -1, signedArea(cw), 1e-12)
}

func TestToGeom(t *testing.T) {
	pt := ToGeom(&shp.Point{X: 3, Y: 4}, 5070)
	assert.Equal(t, []float64{3, 4}, pt.FlatCoords())

	line := shp.PolyLine(*shp.NewPolyLine([][]shp.Point{{{X: 0, Y: 0}, {X: 5, Y: 0}}}))
	ml, ok := ToGeom(&line, 5070).(*geom.MultiLineString)
	require.True(t, ok)
	assert.Equal(t, 1, ml.NumLineStrings())

	assert.Nil(t, ToGeom(&shp.Null{}, 5070))
}

func TestWriteReadPolygons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.shp")
	fields := []Field{
		{Name: "PSID", Kind: IntKind, Size: 10},
		{Name: "lu", Kind: StringKind, Size: 12},
		{Name: "p_area", Kind: FloatKind, Size: 16, Prec: 2},
	}
	features := []Feature{
		{Geom: donut(), Values: []any{int64(7), "Turf Herbaceous", 104.25}},
		{Geom: nil, Values: []any{int64(8), nil, 0.0}},
		{Geom: donut(), Values: []any{int64(9), "Water", int64(3)}},
	}
	require.NoError(t, WritePolygons(path, fields, features))
	assert.FileExists(t, strings.TrimSuffix(path, ".shp")+".dbf")
	assert.NoFileExists(t, strings.TrimSuffix(path, ".shp")+"dbf")

	recs, err := Read(path, 5070, true)
	require.NoError(t, err)
	require.Len(t, recs, 2, "feature without geometry is not written")

	assert.Equal(t, 0, recs[0].Index)
	assert.Equal(t, "7", recs[0].Attrs["PSID"])
	assert.Equal(t, "Turf Herbace", recs[0].Attrs["lu"], "strings truncate to field width")
	assert.Equal(t, "104.25", recs[0].Attrs["p_area"])
	assert.InDelta(t, 100, recs[0].Geom.(*geom.MultiPolygon).Area(), 1e-9)

	assert.Equal(t, 1, recs[1].Index)
	assert.Equal(t, "Water", recs[1].Attrs["lu"])
	assert.Equal(t, "3.00", recs[1].Attrs["p_area"])
}

func TestWritePolygons_BadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.shp")
	err := WritePolygons(path, []Field{{Name: "PSID", Kind: IntKind, Size: 4}},
		[]Feature{{Geom: donut(), Values: []any{"seven"}}})
	assert.Error(t, err)
}

func TestRead_MissingAttributeTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.shp")
	require.NoError(t, WritePolygons(path, nil, []Feature{{Geom: donut()}}))
	require.NoError(t, os.Remove(strings.TrimSuffix(path, ".shp")+".dbf"))

	recs, err := Read(path, 5070, false)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = Read(path, 5070, true)
	assert.Error(t, err)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.shp"), 5070, false)
	assert.Error(t, err)
}
