package pseg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/chesapeake-lu/landuse/internal/failure"
)

type luzSet map[string]bool

func (s luzSet) IsLUZ(v string) bool { return s[v] }

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10})
}

func fullColumns() []string {
	cols := []string{ColPSID}
	cols = append(cols, RequiredColumns...)
	cols = append(cols, FlexibleColumns...)
	return append(cols, ColPSArea, ColLU, ColLogic)
}

func baseAttrs(psid int64, class string) map[string]any {
	attrs := map[string]any{ColPSID: psid, ColPID: int64(1), ColSID: int64(1), ColClassName: class}
	for _, c := range RequiredColumns {
		if _, ok := attrs[c]; !ok {
			attrs[c] = int64(0)
		}
	}
	return attrs
}

func TestPrepare_WrongCRS(t *testing.T) {
	_, err := Prepare(Source{SRID: 4326, Columns: fullColumns()}, nil)
	require.Error(t, err)
	assert.True(t, failure.IsSchema(err))
}

func TestPrepare_MissingRequired(t *testing.T) {
	cols := []string{ColPID, ColSID, ColClassName}
	_, err := Prepare(Source{SRID: SRID, Columns: cols, Rows: []Row{{Attrs: map[string]any{}}}}, nil)
	require.Error(t, err)

	var se *failure.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ColPArea, se.Column)
}

func TestPrepare_FlexibleDefaults(t *testing.T) {
	src := Source{
		SRID:    SRID,
		Columns: RequiredColumns,
		Rows:    []Row{{Attrs: baseAttrs(0, "Low Vegetation"), Geom: square(0, 0, 10)}},
	}
	p, err := Prepare(src, luzSet{"TG": true})
	require.NoError(t, err)

	assert.Len(t, p.Flexible, len(FlexibleColumns))
	require.Len(t, p.Records, 1)
	rec := p.Records[0]
	assert.Equal(t, NoLUZ, rec.PLUZ)
	assert.Equal(t, NoLUZ, rec.SLUZ)
	assert.Zero(t, rec.SC18[3])
	assert.True(t, p.ComputedArea)
	assert.InDelta(t, 100, rec.PSArea, 1e-9)
	assert.True(t, p.RegeneratedIDs, "PSID column absent")
	assert.Equal(t, int64(1), rec.PSID)
}

func TestPrepare_DropsUnknownClasses(t *testing.T) {
	src := Source{
		SRID:    SRID,
		Columns: fullColumns(),
		Rows: []Row{
			{Attrs: baseAttrs(1, "Water"), Geom: square(0, 0, 1)},
			{Attrs: baseAttrs(2, ""), Geom: square(1, 0, 1)},
			{Attrs: baseAttrs(3, "Clouds"), Geom: square(2, 0, 1)},
		},
	}
	p, err := Prepare(src, nil)
	require.NoError(t, err)
	assert.Len(t, p.Records, 1)
	assert.Equal(t, 1, p.Dropped[""])
	assert.Equal(t, 1, p.Dropped["Clouds"])
	assert.False(t, p.RegeneratedIDs)
}

func TestPrepare_TCOverReclass(t *testing.T) {
	src := Source{
		SRID:    SRID,
		Columns: fullColumns(),
		Rows: []Row{
			{Attrs: baseAttrs(1, "Tree Canopy Over Roads"), Geom: square(0, 0, 1)},
			{Attrs: baseAttrs(2, "Tree Canopy Over Structures"), Geom: square(1, 0, 1)},
			{Attrs: baseAttrs(3, "Tree Canopy"), Geom: square(2, 0, 1)},
		},
	}
	p, err := Prepare(src, nil)
	require.NoError(t, err)
	require.Len(t, p.Records, 3)

	assert.Equal(t, Roads, p.Records[0].ClassName)
	assert.Equal(t, "Roads", p.Records[0].LU)
	assert.Equal(t, TCOverLogic, p.Records[0].Logic)
	assert.Equal(t, Structures, p.Records[1].ClassName)
	assert.Equal(t, TreeCanopy, p.Records[2].ClassName)
	assert.Empty(t, p.Records[2].LU)
	assert.Equal(t, 2, p.TCReclassed)
}

func TestPrepare_DuplicatePSIDsRegenerated(t *testing.T) {
	src := Source{
		SRID:    SRID,
		Columns: fullColumns(),
		Rows: []Row{
			{Attrs: baseAttrs(7, "Water"), Geom: square(0, 0, 1)},
			{Attrs: baseAttrs(7, "Roads"), Geom: square(1, 0, 1)},
		},
	}
	p, err := Prepare(src, nil)
	require.NoError(t, err)
	assert.True(t, p.RegeneratedIDs)
	assert.Equal(t, int64(1), p.Records[0].PSID)
	assert.Equal(t, int64(2), p.Records[1].PSID)
}

func TestPrepare_CoercesValues(t *testing.T) {
	attrs := baseAttrs(1, " Low Vegetation ")
	attrs["p_area"] = "2000"
	attrs["p_lc_7"] = 40.0
	attrs["p_lc_8"] = int32(60)
	attrs["s_luz"] = "TG"
	attrs["p_luz"] = "BOGUS"
	attrs[ColPSArea] = nil

	p, err := Prepare(Source{SRID: SRID, Columns: fullColumns(), Rows: []Row{{Attrs: attrs, Geom: square(0, 0, 1)}}}, luzSet{"TG": true})
	require.NoError(t, err)

	rec := p.Records[0]
	assert.Equal(t, LowVegetation, rec.ClassName)
	assert.InDelta(t, 2000, rec.PArea, 1e-9)
	assert.InDelta(t, 100, rec.BuiltArea(), 1e-9)
	assert.Equal(t, "TG", rec.SLUZ)
	assert.Equal(t, NoLUZ, rec.PLUZ)
	assert.Equal(t, 1, p.CoercedLUZ)
	assert.Zero(t, rec.PSArea, "null numeric becomes zero")
}

func TestPrepare_NullGeometryKept(t *testing.T) {
	p, err := Prepare(Source{SRID: SRID, Columns: fullColumns(), Rows: []Row{{Attrs: baseAttrs(1, "Barren")}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.NullGeometry)
	assert.Nil(t, p.Records[0].Geom)
}

func TestPrepare_NoRows(t *testing.T) {
	_, err := Prepare(Source{SRID: SRID, Columns: fullColumns()}, nil)
	assert.True(t, failure.IsSchema(err))
}

func TestRecordHelpers(t *testing.T) {
	r := Record{ClassName: ScrubShrub, LU: "Natural Succession Scrub"}
	assert.True(t, r.Classified())
	assert.True(t, r.LUContains("Natural Succession"))
	assert.False(t, r.LUContains("Pasture"))
	assert.True(t, r.ClassName.In(LowVegetation, ScrubShrub))
	assert.Nil(t, r.Bounds())

	assert.Equal(t, `Pasture Scrub\Shrub`, ExpandLabel("Pasture {class}", ScrubShrub))
	assert.Equal(t, "Turf Herbaceous", ExpandLabel("Turf Herbaceous", ScrubShrub))
}

func TestFinished(t *testing.T) {
	r, err := Finished(Row{
		Attrs: map[string]any{
			ColPSID: int64(7), ColPID: "3", ColSID: int64(9), ColClassName: "Barren",
			ColLU: "Developed Barren", ColLogic: nil, ColLUCode: int64(2220),
		},
		Geom: square(0, 0, 4),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.PSID)
	assert.Equal(t, int64(3), r.PID)
	assert.Equal(t, Barren, r.ClassName)
	assert.Equal(t, "Developed Barren", r.LU)
	assert.Empty(t, r.Logic)
	assert.Equal(t, 2220, r.LUCode)
	require.NotNil(t, r.Geom)
	assert.InDelta(t, 16, r.Geom.Area(), 1e-9)

	_, err = Finished(Row{Attrs: map[string]any{ColPSID: int64(1)}, Geom: geom.NewPoint(geom.XY)})
	assert.True(t, failure.IsGeometry(err))
}

func TestPrepare_ClockwiseRingsGivePositiveArea(t *testing.T) {
	// Shell wound clockwise as shapefile tools write it, hole counter-clockwise.
	cw := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 0, 10, 10, 10, 10, 0, 0, 0,
		2, 2, 4, 2, 4, 4, 2, 4, 2, 2,
	}, []int{10, 20})
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(cw))

	src := Source{
		SRID:    SRID,
		Columns: RequiredColumns,
		Rows: []Row{
			{Attrs: baseAttrs(0, "Barren"), Geom: cw},
			{Attrs: baseAttrs(0, "Water"), Geom: mp},
		},
	}
	p, err := Prepare(src, nil)
	require.NoError(t, err)
	require.Len(t, p.Records, 2)
	for _, rec := range p.Records {
		assert.InDelta(t, 96, rec.PSArea, 1e-9, "psid %d", rec.PSID)
		assert.InDelta(t, 96, rec.Geom.Area(), 1e-9)
	}
	assert.InDelta(t, -96, mp.Area(), 1e-9, "input geometry is not modified")
}
