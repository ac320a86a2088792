// Package output turns a classified ledger into the finished pseg layer.
package output

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/gpkg"
	"github.com/chesapeake-lu/landuse/internal/ledger"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/shapefile"
	"github.com/chesapeake-lu/landuse/internal/taxonomy"
)

// Summary describes the finalization of one ledger.
type Summary struct {
	Rows    int
	Renamed int
	// MissingCodes lists final labels with no lucode; those rows get 0.
	MissingCodes []string
	Counts       map[string]int
}

// Finalize normalizes label spelling and assigns lucodes. It runs once,
// after the cascade.
func Finalize(l *ledger.Ledger, tax *taxonomy.Taxonomy) Summary {
	s := Summary{Rows: l.Len()}
	s.Renamed = l.Relabel(tax.Normalize)
	s.MissingCodes = l.FinalizeCodes(tax)
	s.Counts = l.Counts()
	zap.L().With(zap.String("component", "output.finalize")).Info("labels finalized",
		zap.Int("rows", s.Rows),
		zap.Int("renamed", s.Renamed),
		zap.Int("labels", len(s.Counts)),
		zap.Strings("missing_codes", s.MissingCodes),
	)
	return s
}

var outputSchema = []gpkg.Column{
	{Name: pseg.ColPSID, Type: gpkg.Integer},
	{Name: pseg.ColPID, Type: gpkg.Integer},
	{Name: pseg.ColSID, Type: gpkg.Integer},
	{Name: pseg.ColClassName, Type: gpkg.Text},
	{Name: pseg.ColLU, Type: gpkg.Text},
	{Name: pseg.ColLogic, Type: gpkg.Text},
	{Name: pseg.ColLUCode, Type: gpkg.Integer},
}

var workingSchema = []gpkg.Column{
	{Name: pseg.ColPArea, Type: gpkg.Real},
	{Name: pseg.ColSArea, Type: gpkg.Real},
	{Name: pseg.ColPSArea, Type: gpkg.Real},
	{Name: pseg.ColPLUZ, Type: gpkg.Text},
	{Name: pseg.ColSLUZ, Type: gpkg.Text},
}

// Columns returns the attribute schema of the finished layer. Working
// columns are the segment and parcel areas and zoning majorities.
func Columns(keepWorking bool) []gpkg.Column {
	cols := append([]gpkg.Column(nil), outputSchema...)
	if keepWorking {
		cols = append(cols, workingSchema...)
	}
	return cols
}

// BuildLayer converts records to a GeoPackage layer, dropping every column
// outside the output schema unless keepWorking is set.
func BuildLayer(name string, recs []pseg.Record, keepWorking bool) *gpkg.Layer {
	l := &gpkg.Layer{
		Name:       name,
		SRID:       pseg.SRID,
		GeomColumn: "geom",
		GeomType:   "MULTIPOLYGON",
		Columns:    Columns(keepWorking),
		Features:   make([]gpkg.Feature, 0, len(recs)),
	}
	for i := range recs {
		r := &recs[i]
		attrs := map[string]any{
			pseg.ColPSID:      r.PSID,
			pseg.ColPID:       r.PID,
			pseg.ColSID:       r.SID,
			pseg.ColClassName: string(r.ClassName),
			pseg.ColLU:        nullable(r.LU),
			pseg.ColLogic:     nullable(r.Logic),
			pseg.ColLUCode:    int64(r.LUCode),
		}
		if keepWorking {
			attrs[pseg.ColPArea] = r.PArea
			attrs[pseg.ColSArea] = r.SArea
			attrs[pseg.ColPSArea] = r.PSArea
			attrs[pseg.ColPLUZ] = r.PLUZ
			attrs[pseg.ColSLUZ] = r.SLUZ
		}
		var g geom.T
		if r.Geom != nil {
			g = r.Geom
		}
		l.Features = append(l.Features, gpkg.Feature{FID: r.PSID, Attrs: attrs, Geom: g})
	}
	return l
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// WriteGeoPackage writes layer to dst atomically. When base is set its
// contents are copied first so other layers survive; layer then replaces
// any table of the same name. Nothing exists at dst unless every step
// succeeds.
func WriteGeoPackage(ctx context.Context, dst, base string, layer *gpkg.Layer) error {
	log := zap.L().With(zap.String("component", "output.gpkg"), zap.String("path", dst))

	tmp := tempPath(dst)
	committed := false
	defer func() {
		if !committed {
			removeQuiet(tmp)
		}
	}()

	var (
		db  *gpkg.DB
		err error
	)
	if base != "" {
		if err := copyFile(base, tmp); err != nil {
			return err
		}
		db, err = gpkg.Open(tmp)
	} else {
		db, err = gpkg.Create(ctx, tmp)
	}
	if err != nil {
		return eris.Wrap(err, "output: open temp geopackage")
	}
	if err := db.WriteLayer(ctx, layer); err != nil {
		db.Close() //nolint:errcheck
		return eris.Wrapf(err, "output: write layer %s", layer.Name)
	}
	if err := db.Close(); err != nil {
		return eris.Wrap(err, "output: close temp geopackage")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "output: cancelled before commit")
	}
	if err := os.Rename(tmp, dst); err != nil {
		return eris.Wrapf(err, "output: rename %s", tmp)
	}
	committed = true
	log.Info("layer written", zap.String("layer", layer.Name), zap.Int("features", len(layer.Features)))
	return nil
}

var shapefileFields = []shapefile.Field{
	{Name: pseg.ColPSID, Kind: shapefile.IntKind, Size: 10},
	{Name: pseg.ColPID, Kind: shapefile.IntKind, Size: 10},
	{Name: pseg.ColSID, Kind: shapefile.IntKind, Size: 10},
	{Name: pseg.ColClassName, Kind: shapefile.StringKind, Size: 50},
	{Name: pseg.ColLU, Kind: shapefile.StringKind, Size: 80},
	{Name: pseg.ColLogic, Kind: shapefile.StringKind, Size: 120},
	{Name: pseg.ColLUCode, Kind: shapefile.IntKind, Size: 6},
}

var shapefileParts = []string{".shp", ".shx", ".dbf"}

// ExportShapefile writes the finished layer as a polygon shapefile at dst
// (the .shp path). The three component files are staged next to dst and
// moved into place together.
func ExportShapefile(dst string, recs []pseg.Record) error {
	if !strings.EqualFold(filepath.Ext(dst), ".shp") {
		return eris.Errorf("output: shapefile path %s must end in .shp", dst)
	}
	stage, err := os.MkdirTemp(filepath.Dir(dst), ".landuse-shp-")
	if err != nil {
		return eris.Wrap(err, "output: stage shapefile")
	}
	defer os.RemoveAll(stage) //nolint:errcheck

	features := make([]shapefile.Feature, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.Geom == nil {
			continue
		}
		features = append(features, shapefile.Feature{
			Geom: r.Geom,
			Values: []any{
				r.PSID, r.PID, r.SID, string(r.ClassName),
				nullable(r.LU), nullable(r.Logic), r.LUCode,
			},
		})
	}

	base := strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))
	if err := shapefile.WritePolygons(filepath.Join(stage, base+".shp"), shapefileFields, features); err != nil {
		return eris.Wrap(err, "output: write shapefile")
	}
	prefix := strings.TrimSuffix(dst, filepath.Ext(dst))
	for _, ext := range shapefileParts {
		if err := os.Rename(filepath.Join(stage, base+ext), prefix+ext); err != nil {
			return eris.Wrapf(err, "output: move %s", ext)
		}
	}
	zap.L().With(zap.String("component", "output.shapefile")).Info("shapefile exported",
		zap.String("path", dst), zap.Int("features", len(features)))
	return nil
}

func tempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "output: open %s", src)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "output: create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck
		return eris.Wrapf(err, "output: copy %s", src)
	}
	return eris.Wrapf(out.Close(), "output: close %s", dst)
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Debug("output: remove temp file", zap.String("path", path), zap.Error(err))
	}
}
