package pseg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/failure"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// SRID is the only accepted spatial reference: NAD83 / Conus Albers, an
// equal-area projection so area thresholds are meaningful.
const SRID = 5070

// NoLUZ marks a segment or parcel without a zoning majority.
const NoLUZ = "no_luz"

// Column names in the pseg layer.
const (
	ColPSID      = "PSID"
	ColPID       = "PID"
	ColSID       = "SID"
	ColClassName = "Class_name"
	ColLU        = "lu"
	ColLogic     = "logic"
	ColLUCode    = "lucode"
	ColPArea     = "p_area"
	ColSArea     = "s_area"
	ColPSArea    = "ps_area"
	ColPLUZ      = "p_luz"
	ColSLUZ      = "s_luz"
)

// OutputColumns is the attribute schema of the finished layer.
var OutputColumns = []string{ColPSID, ColPID, ColSID, ColClassName, ColLU, ColLogic, ColLUCode}

// RequiredColumns have no sane default; their absence is a SchemaError.
var RequiredColumns = []string{
	ColSID, ColPID, ColClassName, ColPArea, ColSArea,
	"p_lc_1", "p_lc_3", "p_lc_4", "p_lc_5", "p_lc_6", "p_lc_7", "p_lc_8",
	"p_lc_9", "p_lc_10", "p_lc_11", "p_lc_12",
	"s_c18_0", "p_c18_0", "s_c1719_0", "s_n16_0", "s_n16_1",
}

// FlexibleColumns may be legitimately absent for a county with no pixels of
// the class; they default to zero (or no_luz for the zoning columns).
var FlexibleColumns = []string{
	"p_lc_2",
	"s_c18_1", "s_c18_2", "s_c18_3", "s_c18_4",
	"p_c18_1", "p_c18_2", "p_c18_3", "p_c18_4",
	"s_c1719_1", "s_c1719_2", "s_c1719_3", "s_c1719_4",
	ColPLUZ, ColSLUZ,
}

// Row is one raw feature from the input layer.
type Row struct {
	Attrs map[string]any
	Geom  geom.T
}

// Source is a raw pseg layer as read from disk.
type Source struct {
	SRID    int
	Columns []string
	Rows    []Row
}

// Prepared is the outcome of the schema check.
type Prepared struct {
	Records        []Record
	Dropped        map[string]int
	Flexible       []*failure.FlexibleColumnMissing
	RegeneratedIDs bool
	ComputedArea   bool
	TCReclassed    int
	CoercedLUZ     int
	NullGeometry   int
}

// LUZChecker validates zoning codes.
type LUZChecker interface {
	IsLUZ(v string) bool
}

// Prepare validates a raw layer and converts it to records. It assigns
// semantic types once so the cascade never has to coerce values:
//   - the CRS must be EPSG:5070
//   - required columns must exist, flexible ones default to zero
//   - rows whose Class_name is not an accepted class are dropped
//   - "Tree Canopy Over X" rows become class X with lu X
//   - PSIDs are regenerated 1..N when absent or not unique
//   - ps_area is computed from geometry when absent
func Prepare(src Source, luz LUZChecker) (*Prepared, error) {
	log := zap.L().With(zap.String("component", "pseg.prepare"))

	if src.SRID != SRID {
		return nil, failure.NewSchemaError("geometry", fmt.Sprintf("crs must be EPSG:%d, got %d", SRID, src.SRID))
	}

	present := make(map[string]string, len(src.Columns))
	for _, c := range src.Columns {
		present[strings.ToLower(c)] = c
	}
	has := func(col string) bool {
		_, ok := present[strings.ToLower(col)]
		return ok
	}

	for _, col := range RequiredColumns {
		if !has(col) {
			return nil, failure.NewSchemaError(col, "required column missing")
		}
	}

	out := &Prepared{Dropped: make(map[string]int)}
	for _, col := range FlexibleColumns {
		if has(col) {
			continue
		}
		var def any = 0
		if col == ColPLUZ || col == ColSLUZ {
			def = NoLUZ
		}
		out.Flexible = append(out.Flexible, &failure.FlexibleColumnMissing{Column: col, Default: def})
		log.Warn("flexible column missing, defaulting", zap.String("column", col), zap.Any("default", def))
	}

	hasPSID := has(ColPSID)
	hasPSArea := has(ColPSArea)

	out.Records = make([]Record, 0, len(src.Rows))
	seen := make(map[int64]struct{}, len(src.Rows))
	unique := hasPSID

	for i, row := range src.Rows {
		get := func(col string) any {
			if name, ok := present[strings.ToLower(col)]; ok {
				return row.Attrs[name]
			}
			return nil
		}

		class := Class(strings.TrimSpace(toString(get(ColClassName))))
		if !class.Accepted() {
			out.Dropped[string(class)]++
			continue
		}

		rec := Record{
			PID:       toInt64(get(ColPID)),
			SID:       toInt64(get(ColSID)),
			ClassName: class,
			LU:        strings.TrimSpace(toString(get(ColLU))),
			Logic:     strings.TrimSpace(toString(get(ColLogic))),
			PArea:     toFloat(get(ColPArea)),
			SArea:     toFloat(get(ColSArea)),
			PSArea:    toFloat(get(ColPSArea)),
			PLUZ:      luzValue(toString(get(ColPLUZ)), luz, &out.CoercedLUZ),
			SLUZ:      luzValue(toString(get(ColSLUZ)), luz, &out.CoercedLUZ),
		}
		for k := range rec.PLC {
			rec.PLC[k] = toFloat(get(fmt.Sprintf("p_lc_%d", k+1)))
		}
		for k := range rec.SC18 {
			rec.SC18[k] = toFloat(get(fmt.Sprintf("s_c18_%d", k)))
			rec.PC18[k] = toFloat(get(fmt.Sprintf("p_c18_%d", k)))
			rec.SC1719[k] = toFloat(get(fmt.Sprintf("s_c1719_%d", k)))
		}
		for k := range rec.SN16 {
			rec.SN16[k] = toFloat(get(fmt.Sprintf("s_n16_%d", k)))
		}

		mp, err := toMultiPolygon(row.Geom)
		if err != nil {
			log.Warn("unusable pseg geometry", zap.Int("row", i), zap.Error(err))
		}
		rec.Geom = mp
		if mp == nil {
			out.NullGeometry++
		}

		if !hasPSArea && mp != nil {
			rec.PSArea = mp.Area()
		}

		if strings.HasPrefix(string(class), TCOverPrefix) {
			base := Class(strings.TrimPrefix(string(class), TCOverPrefix))
			rec.ClassName = base
			rec.LU = string(base)
			rec.Logic = TCOverLogic
			out.TCReclassed++
		}

		if hasPSID {
			rec.PSID = toInt64(get(ColPSID))
			if _, dup := seen[rec.PSID]; dup || rec.PSID <= 0 {
				unique = false
			}
			seen[rec.PSID] = struct{}{}
		}

		out.Records = append(out.Records, rec)
	}

	if !unique {
		for i := range out.Records {
			out.Records[i].PSID = int64(i + 1)
		}
		out.RegeneratedIDs = true
		log.Info("generated unique PSIDs", zap.Int("rows", len(out.Records)))
	}
	out.ComputedArea = !hasPSArea

	dropped := 0
	for class, n := range out.Dropped {
		dropped += n
		log.Warn("dropped psegs with unaccepted Class_name", zap.String("class_name", class), zap.Int("rows", n))
	}

	log.Info("pseg schema check complete",
		zap.Int("rows", len(out.Records)),
		zap.Int("dropped", dropped),
		zap.Int("tc_reclassed", out.TCReclassed),
		zap.Int("flexible_defaulted", len(out.Flexible)),
		zap.Bool("regenerated_psid", out.RegeneratedIDs),
	)

	if len(out.Records) == 0 {
		return nil, failure.NewSchemaError("", "no usable psegs in layer")
	}
	return out, nil
}

func luzValue(v string, luz LUZChecker, coerced *int) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return NoLUZ
	}
	if luz != nil && !luz.IsLUZ(v) {
		*coerced++
		return NoLUZ
	}
	return v
}

// toMultiPolygon normalizes polygonal geometries to multipolygons with
// counter-clockwise shells. Nil input is not an error.
func toMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case nil:
		return nil, nil
	case *geom.MultiPolygon:
		if t == nil || t.NumPolygons() == 0 {
			return nil, nil
		}
		return spatial.Orient(t), nil
	case *geom.Polygon:
		if t == nil || t.NumLinearRings() == 0 {
			return nil, nil
		}
		mp := geom.NewMultiPolygon(t.Layout()).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "pseg: polygon to multipolygon")
		}
		return spatial.Orient(mp), nil
	default:
		return nil, eris.Errorf("pseg: unsupported geometry type %T", g)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(toString(t)), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case string, []byte:
		s := strings.TrimSpace(toString(t))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return int64(toFloat(s))
	default:
		return int64(toFloat(v))
	}
}

// Finished converts a row of an already classified layer (the output
// schema) back into a record. Working columns are read when present.
func Finished(row Row) (Record, error) {
	a := row.Attrs
	r := Record{
		PSID:      toInt64(a[ColPSID]),
		PID:       toInt64(a[ColPID]),
		SID:       toInt64(a[ColSID]),
		ClassName: Class(toString(a[ColClassName])),
		LU:        toString(a[ColLU]),
		Logic:     toString(a[ColLogic]),
		LUCode:    int(toInt64(a[ColLUCode])),
		PArea:     toFloat(a[ColPArea]),
		SArea:     toFloat(a[ColSArea]),
		PSArea:    toFloat(a[ColPSArea]),
		PLUZ:      toString(a[ColPLUZ]),
		SLUZ:      toString(a[ColSLUZ]),
	}
	if row.Geom != nil {
		mp, err := toMultiPolygon(row.Geom)
		if err != nil {
			return Record{}, failure.NewGeometryError(r.PSID, "decode", err)
		}
		r.Geom = mp
	}
	return r, nil
}
