package output

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/chesapeake-lu/landuse/internal/gpkg"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// ReadLayer loads a finished layer back into records ordered by PSID.
func ReadLayer(ctx context.Context, path, layer string) ([]pseg.Record, error) {
	db, err := gpkg.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	l, err := db.ReadLayer(ctx, layer, spatial.Envelope{})
	if err != nil {
		return nil, err
	}
	recs := make([]pseg.Record, 0, len(l.Features))
	for _, f := range l.Features {
		r, err := pseg.Finished(pseg.Row{Attrs: f.Attrs, Geom: f.Geom})
		if err != nil {
			return nil, eris.Wrapf(err, "output: read %s", path)
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].PSID < recs[j].PSID })
	return recs, nil
}
