package shapefile

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Record is one shapefile feature. Attrs holds the raw DBF strings keyed by
// field name and is nil when attributes were not requested.
type Record struct {
	Index int
	Geom  geom.T
	Attrs map[string]string
}

// Read loads every shape in path. Null or unsupported shapes are skipped.
// When withAttrs is set the DBF sidecar is read as well.
func Read(path string, srid int, withAttrs bool) ([]Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "shapefile: stat %s", path)
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer reader.Close() //nolint:errcheck

	var names []string
	if withAttrs {
		dbf := strings.TrimSuffix(path, filepath.Ext(path)) + ".dbf"
		if _, err := os.Stat(dbf); err != nil {
			return nil, eris.Wrapf(err, "shapefile: stat %s", dbf)
		}
		for _, f := range reader.Fields() {
			names = append(names, strings.TrimRight(f.String(), "\x00"))
		}
	}

	var out []Record
	var skipped int
	for reader.Next() {
		idx, s := reader.Shape()
		g := ToGeom(s, srid)
		if g == nil {
			skipped++
			continue
		}
		rec := Record{Index: idx, Geom: g}
		if withAttrs {
			rec.Attrs = make(map[string]string, len(names))
			for i, n := range names {
				rec.Attrs[n] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			}
		}
		out = append(out, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// FieldKind is the DBF type of an exported column.
type FieldKind int

const (
	StringKind FieldKind = iota
	IntKind
	FloatKind
)

// Field describes one DBF column of an export.
type Field struct {
	Name string
	Kind FieldKind
	Size uint8
	Prec uint8
}

func (f Field) dbf() shp.Field {
	name := f.Name
	if len(name) > 10 {
		name = name[:10]
	}
	switch f.Kind {
	case IntKind:
		return shp.NumberField(name, f.Size)
	case FloatKind:
		return shp.FloatField(name, f.Size, f.Prec)
	}
	return shp.StringField(name, f.Size)
}

// Feature is one row of a polygon export. Values are matched to fields by
// position; nil leaves the DBF cell blank.
type Feature struct {
	Geom   geom.T
	Values []any
}

// WritePolygons writes a polygon shapefile with the given DBF schema.
// Features without polygonal geometry are skipped. Strings too wide for
// their field are truncated.
func WritePolygons(path string, fields []Field, features []Feature) error {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "shapefile: create %s", path)
	}
	// go-shp writes the attribute table to base+"dbf", without the dot.
	base := path
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		base = strings.TrimSuffix(path, filepath.Ext(path))
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
			os.Remove(base + "dbf") //nolint:errcheck
		}
	}()

	sf := make([]shp.Field, len(fields))
	for i, f := range fields {
		sf[i] = f.dbf()
	}
	if err := w.SetFields(sf); err != nil {
		return eris.Wrap(err, "shapefile: set fields")
	}

	var skipped int
	for i, f := range features {
		poly := FromPolygonal(f.Geom)
		if poly == nil {
			skipped++
			continue
		}
		row := w.Write(poly)
		for j, v := range f.Values {
			if j >= len(fields) || v == nil {
				continue
			}
			val, err := dbfValue(fields[j], v)
			if err != nil {
				return eris.Wrapf(err, "shapefile: feature %d field %s", i, fields[j].Name)
			}
			if err := w.WriteAttribute(int(row), j, val); err != nil {
				return eris.Wrapf(err, "shapefile: feature %d field %s", i, fields[j].Name)
			}
		}
	}

	closed = true
	w.Close()
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrapf(err, "shapefile: move attribute table for %s", path)
	}
	if skipped > 0 {
		zap.L().Warn("shapefile: skipped non-polygonal features",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

// dbfValue narrows v to one of the types go-shp writes: int, float64 or
// string.
func dbfValue(f Field, v any) (any, error) {
	switch f.Kind {
	case IntKind:
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			if n > math.MaxInt32 || n < math.MinInt32 {
				return nil, eris.Errorf("integer %d out of range", n)
			}
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			i, err := strconv.Atoi(n)
			if err != nil {
				return nil, eris.Wrapf(err, "parse %q", n)
			}
			return i, nil
		}
	case FloatKind:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	default:
		s, ok := v.(string)
		if !ok {
			s = toString(v)
		}
		if len(s) > int(f.Size) {
			s = s[:f.Size]
		}
		return s, nil
	}
	return nil, eris.Errorf("unsupported value %T", v)
}

func toString(v any) string {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}
