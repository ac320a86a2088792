// Package gpkg reads and writes OGC GeoPackage feature layers on top of
// modernc.org/sqlite.
package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chesapeake-lu/landuse/internal/spatial"
)

// applicationID is "GPKG" and userVersion is GeoPackage 1.3.0.
const (
	applicationID = 0x47504B47
	userVersion   = 10300
)

// ColumnType is the storage class of an attribute column.
type ColumnType string

// Attribute column types.
const (
	Integer ColumnType = "INTEGER"
	Real    ColumnType = "REAL"
	Text    ColumnType = "TEXT"
)

// Column is an attribute column definition.
type Column struct {
	Name string
	Type ColumnType
}

// Feature is one row of a feature table.
type Feature struct {
	FID   int64
	Attrs map[string]any
	Geom  geom.T
}

// Layer is a feature table with its attribute schema.
type Layer struct {
	Name       string
	SRID       int
	GeomColumn string
	GeomType   string
	Columns    []Column
	Features   []Feature
}

// ColumnNames returns the attribute column names in schema order.
func (l *Layer) ColumnNames() []string {
	out := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		out[i] = c.Name
	}
	return out
}

// DB is an open GeoPackage.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens an existing GeoPackage read-write.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	return open(path)
}

func open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "gpkg: exec %s", pragma)
		}
	}
	return &DB{db: db, path: path}, nil
}

// Create initialises a new GeoPackage at path with the required metadata
// tables and the spatial reference systems the engine uses.
func Create(ctx context.Context, path string) (*DB, error) {
	g, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := g.init(ctx); err != nil {
		g.Close() //nolint:errcheck
		return nil, err
	}
	return g, nil
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE IF NOT EXISTS gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
`

// EPSG:5070 NAD83 / Conus Albers.
const albersWKT = `PROJCS["NAD83 / Conus Albers",GEOGCS["NAD83",DATUM["North_American_Datum_1983",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Albers_Conic_Equal_Area"],PARAMETER["latitude_of_center",23],PARAMETER["longitude_of_center",-96],PARAMETER["standard_parallel_1",29.5],PARAMETER["standard_parallel_2",45.5],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","5070"]]`

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`

func (g *DB) init(ctx context.Context) error {
	for _, stmt := range []string{
		fmt.Sprintf("PRAGMA application_id=%d", applicationID),
		fmt.Sprintf("PRAGMA user_version=%d", userVersion),
		metadataSchema,
	} {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "gpkg: init schema")
		}
	}
	srs := []struct {
		name string
		id   int
		def  string
	}{
		{"Undefined cartesian SRS", -1, "undefined"},
		{"Undefined geographic SRS", 0, "undefined"},
		{"WGS 84 geodetic", 4326, wgs84WKT},
		{"NAD83 / Conus Albers", 5070, albersWKT},
	}
	for _, s := range srs {
		org, orgID := "EPSG", s.id
		if s.id <= 0 {
			org = "NONE"
		}
		if _, err := g.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
			 VALUES (?, ?, ?, ?, ?)`, s.name, s.id, org, orgID, s.def); err != nil {
			return eris.Wrapf(err, "gpkg: insert srs %d", s.id)
		}
	}
	return nil
}

// Close closes the database.
func (g *DB) Close() error {
	return g.db.Close()
}

// Path returns the file the GeoPackage was opened from.
func (g *DB) Path() string {
	return g.path
}

// Layers lists the feature tables registered in gpkg_contents.
func (g *DB) Layers(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: list layers")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan layer name")
		}
		out = append(out, name)
	}
	return out, eris.Wrap(rows.Err(), "gpkg: list layers")
}

// ReadLayer loads every feature of layer. A non-empty bbox keeps only
// features whose envelope intersects it.
func (g *DB) ReadLayer(ctx context.Context, layer string, bbox spatial.Envelope) (*Layer, error) {
	l := &Layer{Name: layer}
	err := g.db.QueryRowContext(ctx,
		`SELECT column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, layer,
	).Scan(&l.GeomColumn, &l.GeomType, &l.SRID)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: layer %s geometry column", layer)
	}

	cols, pk, err := g.tableColumns(ctx, layer)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		if c.Name == l.GeomColumn || c.Name == pk {
			continue
		}
		l.Columns = append(l.Columns, c)
	}

	selectCols := make([]string, 0, len(l.Columns)+2)
	selectCols = append(selectCols, quoteIdent(pk), quoteIdent(l.GeomColumn))
	for _, c := range l.Columns {
		selectCols = append(selectCols, quoteIdent(c.Name))
	}
	rows, err := g.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(selectCols, ", "), quoteIdent(layer), quoteIdent(pk)))
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: select %s", layer)
	}
	defer rows.Close() //nolint:errcheck

	log := zap.L().With(zap.String("component", "gpkg.read"), zap.String("layer", layer))
	vals := make([]any, len(selectCols))
	ptrs := make([]any, len(selectCols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	badGeom := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "gpkg: scan %s", layer)
		}
		f := Feature{Attrs: make(map[string]any, len(l.Columns))}
		if id, ok := vals[0].(int64); ok {
			f.FID = id
		}
		if blob, ok := vals[1].([]byte); ok && len(blob) > 0 {
			if !bbox.IsEmpty() {
				if minX, maxX, minY, maxY, ok := headerEnvelope(blob); ok &&
					!bbox.Intersects(spatial.NewEnvelope(minX, minY, maxX, maxY)) {
					continue
				}
			}
			gm, _, err := DecodeGeometry(blob)
			if err != nil {
				badGeom++
				log.Debug("undecodable geometry", zap.Int64("fid", f.FID), zap.Error(err))
			} else {
				f.Geom = gm
			}
		}
		if f.Geom != nil && !bbox.IsEmpty() && !bbox.Intersects(spatial.EnvelopeOf(f.Geom)) {
			continue
		}
		for i, c := range l.Columns {
			f.Attrs[c.Name] = normalizeValue(vals[i+2])
		}
		l.Features = append(l.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "gpkg: read %s", layer)
	}
	if badGeom > 0 {
		log.Warn("features with undecodable geometry", zap.Int("count", badGeom))
	}
	return l, nil
}

func (g *DB) tableColumns(ctx context.Context, table string) ([]Column, string, error) {
	rows, err := g.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, "", eris.Wrapf(err, "gpkg: table_info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var cols []Column
	pk := ""
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue any
			pkFlag   int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pkFlag); err != nil {
			return nil, "", eris.Wrapf(err, "gpkg: scan table_info %s", table)
		}
		if pkFlag > 0 && pk == "" {
			pk = name
		}
		cols = append(cols, Column{Name: name, Type: affinity(typ)})
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrapf(err, "gpkg: table_info %s", table)
	}
	if len(cols) == 0 {
		return nil, "", eris.Errorf("gpkg: table %s not found", table)
	}
	if pk == "" {
		pk = "rowid"
	}
	return cols, pk, nil
}

// WriteLayer creates layer and inserts every feature in one transaction.
// An existing table of the same name is replaced.
func (g *DB) WriteLayer(ctx context.Context, l *Layer) error {
	if l.GeomColumn == "" {
		l.GeomColumn = "geom"
	}
	if l.GeomType == "" {
		l.GeomType = "MULTIPOLYGON"
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	defs := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT", quoteIdent(l.GeomColumn) + " " + l.GeomType}
	for _, c := range l.Columns {
		defs = append(defs, quoteIdent(c.Name)+" "+string(c.Type))
	}
	for _, stmt := range []string{
		`DELETE FROM gpkg_geometry_columns WHERE table_name = ` + quoteLiteral(l.Name),
		`DELETE FROM gpkg_contents WHERE table_name = ` + quoteLiteral(l.Name),
		`DROP TABLE IF EXISTS ` + quoteIdent(l.Name),
		fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(l.Name), strings.Join(defs, ", ")),
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "gpkg: create %s", l.Name)
		}
	}

	names := []string{quoteIdent(l.GeomColumn)}
	marks := []string{"?"}
	for _, c := range l.Columns {
		names = append(names, quoteIdent(c.Name))
		marks = append(marks, "?")
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(l.Name), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return eris.Wrapf(err, "gpkg: prepare insert %s", l.Name)
	}
	defer stmt.Close() //nolint:errcheck

	env := spatial.Envelope{}
	args := make([]any, len(names))
	for _, f := range l.Features {
		blob, err := EncodeGeometry(f.Geom, l.SRID)
		if err != nil {
			return eris.Wrapf(err, "gpkg: encode feature %d", f.FID)
		}
		if blob != nil {
			args[0] = blob
			env = env.Union(spatial.EnvelopeOf(f.Geom))
		} else {
			args[0] = nil
		}
		for i, c := range l.Columns {
			args[i+1] = f.Attrs[c.Name]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert into %s", l.Name)
		}
	}

	var minX, minY, maxX, maxY any
	if !env.IsEmpty() {
		minX, minY, maxX, maxY = env.MinX, env.MinY, env.MaxX, env.MaxY
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		l.Name, l.Name, minX, minY, maxX, maxY, l.SRID); err != nil {
		return eris.Wrapf(err, "gpkg: register %s", l.Name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		l.Name, l.GeomColumn, l.GeomType, l.SRID); err != nil {
		return eris.Wrapf(err, "gpkg: register geometry column %s", l.Name)
	}
	return eris.Wrap(tx.Commit(), "gpkg: commit")
}

func affinity(declared string) ColumnType {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"), t == "BOOLEAN":
		return Integer
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return Real
	}
	return Text
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) {
			return nil
		}
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
