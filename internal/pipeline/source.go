package pipeline

import (
	"context"

	"github.com/chesapeake-lu/landuse/internal/gpkg"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// ReadSource loads the raw pseg layer from a GeoPackage.
func ReadSource(ctx context.Context, path, layer string) (pseg.Source, error) {
	db, err := gpkg.Open(path)
	if err != nil {
		return pseg.Source{}, err
	}
	defer db.Close() //nolint:errcheck

	l, err := db.ReadLayer(ctx, layer, spatial.Envelope{})
	if err != nil {
		return pseg.Source{}, err
	}
	src := pseg.Source{
		SRID:    l.SRID,
		Columns: l.ColumnNames(),
		Rows:    make([]pseg.Row, len(l.Features)),
	}
	for i, f := range l.Features {
		src.Rows[i] = pseg.Row{Attrs: f.Attrs, Geom: f.Geom}
	}
	return src, nil
}
