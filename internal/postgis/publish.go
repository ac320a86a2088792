// Package postgis publishes finished pseg layers to a PostGIS table, one
// county partition at a time.
package postgis

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/chesapeake-lu/landuse/internal/db"
	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/resilience"
)

// Columns is the COPY column order of the published table.
var Columns = []string{"county", "psid", "pid", "sid", "class_name", "lu", "logic", "lucode", "geom"}

// Target names the destination table.
type Target struct {
	Schema    string
	Table     string
	BatchSize int
	// Retry governs re-running the whole replace after a transient
	// failure. The zero value takes the resilience defaults.
	Retry resilience.Policy
}

// QualifiedName returns schema.table.
func (t Target) QualifiedName() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Result summarises one publish.
type Result struct {
	Deleted  int64
	Inserted int64
	Skipped  int
}

// EnsureTable creates the schema, table and spatial index when missing.
func EnsureTable(ctx context.Context, pool db.Pool, t Target) error {
	if t.Table == "" {
		return eris.New("postgis: table name is empty")
	}
	name := db.SanitizeTable(t.QualifiedName())
	stmts := []string{}
	if t.Schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", db.SanitizeTable(t.Schema)))
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	county text NOT NULL,
	psid bigint NOT NULL,
	pid bigint,
	sid bigint,
	class_name text NOT NULL,
	lu text NOT NULL,
	logic text,
	lucode integer NOT NULL,
	geom geometry(MultiPolygon, %d),
	PRIMARY KEY (county, psid)
)`, name, pseg.SRID),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
			db.SanitizeTable(t.Table+"_geom_idx"), name),
	)
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return eris.Wrapf(err, "postgis: ensure %s", t.QualifiedName())
		}
	}
	return nil
}

// Rows converts records to COPY rows. Geometry is EWKB with SRID 5070;
// rows without geometry publish a NULL geom. Unlabelled rows are skipped.
func Rows(county string, recs []pseg.Record) ([][]any, int, error) {
	out := make([][]any, 0, len(recs))
	skipped := 0
	for i := range recs {
		r := &recs[i]
		if r.LU == "" {
			skipped++
			continue
		}
		var g any
		if r.Geom != nil {
			b, err := EncodeEWKB(r.Geom)
			if err != nil {
				return nil, 0, eris.Wrapf(err, "postgis: psid %d", r.PSID)
			}
			g = b
		}
		var logic any
		if r.Logic != "" {
			logic = r.Logic
		}
		out = append(out, []any{
			county, r.PSID, r.PID, r.SID, string(r.ClassName), r.LU, logic, int32(r.LUCode), g,
		})
	}
	return out, skipped, nil
}

// EncodeEWKB marshals g as little-endian EWKB tagged with SRID 5070.
func EncodeEWKB(g *geom.MultiPolygon) ([]byte, error) {
	c := geom.NewMultiPolygonFlat(g.Layout(), g.FlatCoords(), g.Endss()).SetSRID(pseg.SRID)
	b, err := ewkb.Marshal(c, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: encode EWKB")
	}
	return b, nil
}

// Publish replaces the county's partition of the target table with recs.
func Publish(ctx context.Context, pool db.Pool, t Target, county string, recs []pseg.Record) (Result, error) {
	if county == "" {
		return Result{}, eris.New("postgis: county is empty")
	}
	rows, skipped, err := Rows(county, recs)
	if err != nil {
		return Result{}, err
	}
	rc := db.ReplaceConfig{
		Table:     t.QualifiedName(),
		Columns:   Columns,
		KeyColumn: "county",
		KeyValue:  county,
		BatchSize: t.BatchSize,
	}
	retry := t.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("postgis.publish", "replace "+county)
	}
	// The replace is one transaction, so a retry starts from a clean slate.
	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (Result, error) {
		deleted, inserted, err := db.ReplacePartition(ctx, pool, rc, rows)
		return Result{Deleted: deleted, Inserted: inserted}, err
	})
	if err != nil {
		return Result{}, eris.Wrapf(err, "postgis: publish %s", county)
	}
	res.Skipped = skipped
	zap.L().With(zap.String("component", "postgis.publish")).Info("county published",
		zap.String("county", county),
		zap.String("table", t.QualifiedName()),
		zap.Int64("deleted", res.Deleted),
		zap.Int64("inserted", res.Inserted),
		zap.Int("skipped", skipped),
	)
	return res, nil
}
