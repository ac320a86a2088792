package gpkg

import (
	"context"
	"database/sql"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/chesapeake-lu/landuse/internal/spatial"
)

func square(x, y, size float64) *geom.MultiPolygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{x, y, x + size, y, x + size, y + size, x, y + size, x, y}, []int{10})
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(5070)
	if err := mp.Push(p); err != nil {
		panic(err)
	}
	return mp
}

func TestEncodeDecodeGeometry(t *testing.T) {
	in := square(10, 20, 5)
	blob, err := EncodeGeometry(in, 5070)
	require.NoError(t, err)
	assert.Equal(t, []byte("GP"), blob[:2])

	minX, maxX, minY, maxY, ok := headerEnvelope(blob)
	require.True(t, ok)
	assert.Equal(t, []float64{10, 15, 20, 25}, []float64{minX, maxX, minY, maxY})

	out, srid, err := DecodeGeometry(blob)
	require.NoError(t, err)
	assert.Equal(t, 5070, srid)
	assert.Equal(t, in.FlatCoords(), out.FlatCoords())
	assert.InDelta(t, 25, out.(*geom.MultiPolygon).Area(), 1e-9)
}

func TestDecodeGeometry_BigEndianNoEnvelope(t *testing.T) {
	body, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{1, 2}), binary.BigEndian)
	require.NoError(t, err)
	blob := append([]byte{'G', 'P', 0, 0, 0, 0, 0x13, 0xCE}, body...)

	g, srid, err := DecodeGeometry(blob)
	require.NoError(t, err)
	assert.Equal(t, 5070, srid)
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())

	_, _, _, _, ok := headerEnvelope(blob)
	assert.False(t, ok)
}

func TestDecodeGeometry_Invalid(t *testing.T) {
	for _, blob := range [][]byte{nil, []byte("XX000000"), {'G', 'P', 0, 0x03, 0, 0, 0, 0}} {
		_, _, err := DecodeGeometry(blob)
		assert.Error(t, err)
	}
}

func TestEncodeGeometry_Nil(t *testing.T) {
	blob, err := EncodeGeometry(nil, 5070)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func testLayer() *Layer {
	return &Layer{
		Name: "psegs",
		SRID: 5070,
		Columns: []Column{
			{Name: "PSID", Type: Integer},
			{Name: "Class_name", Type: Text},
			{Name: "p_area", Type: Real},
			{Name: "lu", Type: Text},
		},
		Features: []Feature{
			{Attrs: map[string]any{"PSID": int64(1), "Class_name": "Water", "p_area": 100.5, "lu": nil}, Geom: square(0, 0, 10)},
			{Attrs: map[string]any{"PSID": int64(2), "Class_name": `Scrub\Shrub`, "p_area": 4046.0, "lu": "Turf Herbaceous"}, Geom: square(1000, 1000, 10)},
			{Attrs: map[string]any{"PSID": int64(3), "Class_name": "Barren", "p_area": 0.0, "lu": nil}},
		},
	}
}

func TestWriteReadLayer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "county.gpkg")

	db, err := Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.WriteLayer(ctx, testLayer()))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	assert.Equal(t, path, db.Path())

	layers, err := db.Layers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"psegs"}, layers)

	l, err := db.ReadLayer(ctx, "psegs", spatial.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, 5070, l.SRID)
	assert.Equal(t, "geom", l.GeomColumn)
	assert.Equal(t, "MULTIPOLYGON", l.GeomType)
	assert.Equal(t, []string{"PSID", "Class_name", "p_area", "lu"}, l.ColumnNames())
	assert.Equal(t, []ColumnType{Integer, Text, Real, Text}, []ColumnType{l.Columns[0].Type, l.Columns[1].Type, l.Columns[2].Type, l.Columns[3].Type})
	require.Len(t, l.Features, 3)

	f := l.Features[1]
	assert.Equal(t, int64(2), f.Attrs["PSID"])
	assert.Equal(t, `Scrub\Shrub`, f.Attrs["Class_name"])
	assert.Equal(t, 4046.0, f.Attrs["p_area"])
	assert.Equal(t, "Turf Herbaceous", f.Attrs["lu"])
	assert.Equal(t, square(1000, 1000, 10).FlatCoords(), f.Geom.FlatCoords())

	assert.Nil(t, l.Features[0].Attrs["lu"])
	assert.Nil(t, l.Features[2].Geom)
}

func TestReadLayer_BBoxFilter(t *testing.T) {
	ctx := context.Background()
	db, err := Create(ctx, filepath.Join(t.TempDir(), "bbox.gpkg"))
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	require.NoError(t, db.WriteLayer(ctx, testLayer()))

	l, err := db.ReadLayer(ctx, "psegs", spatial.NewEnvelope(900, 900, 2000, 2000))
	require.NoError(t, err)
	var ids []int64
	for _, f := range l.Features {
		ids = append(ids, f.Attrs["PSID"].(int64))
	}
	// Features without geometry are kept; the filter only drops misses.
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestWriteLayer_Replaces(t *testing.T) {
	ctx := context.Background()
	db, err := Create(ctx, filepath.Join(t.TempDir(), "replace.gpkg"))
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	require.NoError(t, db.WriteLayer(ctx, testLayer()))
	small := testLayer()
	small.Features = small.Features[:1]
	require.NoError(t, db.WriteLayer(ctx, small))

	l, err := db.ReadLayer(ctx, "psegs", spatial.Envelope{})
	require.NoError(t, err)
	assert.Len(t, l.Features, 1)
}

func TestCreate_Metadata(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.gpkg")
	db, err := Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close() //nolint:errcheck

	var appID, version int64
	require.NoError(t, raw.QueryRow("PRAGMA application_id").Scan(&appID))
	require.NoError(t, raw.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, int64(applicationID), appID)
	assert.Equal(t, int64(userVersion), version)

	var def string
	require.NoError(t, raw.QueryRow("SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = 5070").Scan(&def))
	assert.Contains(t, def, "Albers")
}

func TestReadLayer_Missing(t *testing.T) {
	ctx := context.Background()
	db, err := Create(ctx, filepath.Join(t.TempDir(), "empty.gpkg"))
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = db.ReadLayer(ctx, "nope", spatial.Envelope{})
	assert.Error(t, err)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.gpkg"))
	assert.Error(t, err)
}
