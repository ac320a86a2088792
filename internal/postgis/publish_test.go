package postgis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/chesapeake-lu/landuse/internal/pseg"
	"github.com/chesapeake-lu/landuse/internal/resilience"
)

func square(x, y, size float64) *geom.MultiPolygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{x, y, x + size, y, x + size, y + size, x, y + size, x, y}, []int{10})
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(p); err != nil {
		panic(err)
	}
	return mp
}

func records() []pseg.Record {
	return []pseg.Record{
		{PSID: 1, PID: 10, SID: 100, ClassName: pseg.Water, LU: "Water", Logic: "landcover", LUCode: 1000, Geom: square(0, 0, 10)},
		{PSID: 2, PID: 11, SID: 101, ClassName: pseg.Barren, LU: "Developed Barren", LUCode: 2220},
		{PSID: 3, PID: 12, SID: 102, ClassName: pseg.LowVegetation},
	}
}

var target = Target{Schema: "landuse", Table: "psegs"}

func TestRows(t *testing.T) {
	rows, skipped, err := Rows("24001", records())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], len(Columns))

	assert.Equal(t, "24001", rows[0][0])
	assert.Equal(t, int64(1), rows[0][1])
	assert.Equal(t, "Water", rows[0][5])
	assert.Equal(t, int32(1000), rows[0][7])

	g, err := ewkb.Unmarshal(rows[0][8].([]byte))
	require.NoError(t, err)
	assert.Equal(t, pseg.SRID, g.SRID())
	assert.InDelta(t, 100, g.(*geom.MultiPolygon).Area(), 1e-9)

	assert.Nil(t, rows[1][6], "empty logic publishes NULL")
	assert.Nil(t, rows[1][8], "missing geometry publishes NULL")
}

func TestEnsureTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "landuse"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "landuse"."psegs"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "psegs_geom_idx" ON "landuse"."psegs" USING GIST`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureTable(context.Background(), mock, target))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "psegs"`).WillReturnError(fmt.Errorf("type geometry does not exist"))

	err = EnsureTable(context.Background(), mock, Target{Table: "psegs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geometry does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, EnsureTable(context.Background(), mock, Target{}))
}

func TestPublish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "landuse"."psegs" WHERE "county" = \$1`).
		WithArgs("24001").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"landuse", "psegs"}, Columns).WillReturnResult(2)
	mock.ExpectCommit()

	res, err := Publish(context.Background(), mock, target, "24001", records())
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 5, Inserted: 2, Skipped: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("permission denied for schema landuse"))

	_, err = Publish(context.Background(), mock, target, "24001", records())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RetriesDeadlock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM`).WithArgs("24001").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"landuse", "psegs"}, Columns).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM`).WithArgs("24001").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"landuse", "psegs"}, Columns).WillReturnResult(2)
	mock.ExpectCommit()

	tgt := target
	tgt.Retry = resilience.Policy{Attempts: 2, Backoff: time.Millisecond}
	res, err := Publish(context.Background(), mock, tgt, "24001", records())
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 5, Inserted: 2, Skipped: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_EmptyCounty(t *testing.T) {
	_, err := Publish(context.Background(), nil, target, "", records())
	assert.Error(t, err)
}

func TestTargetQualifiedName(t *testing.T) {
	assert.Equal(t, "landuse.psegs", target.QualifiedName())
	assert.Equal(t, "psegs", Target{Table: "psegs"}.QualifiedName())
}
