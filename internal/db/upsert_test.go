package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replaceConfig() ReplaceConfig {
	return ReplaceConfig{
		Table:     "landuse.psegs",
		Columns:   []string{"county", "psid"},
		KeyColumn: "county",
		KeyValue:  "24001",
	}
}

func TestReplacePartition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "landuse"."psegs" WHERE "county" = \$1`).
		WithArgs("24001").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectCopyFrom(pgx.Identifier{"landuse", "psegs"}, []string{"county", "psid"}).WillReturnResult(2)
	mock.ExpectCommit()

	del, ins, err := ReplacePartition(context.Background(), mock, replaceConfig(), [][]any{{"24001", 1}, {"24001", 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), del)
	assert.Equal(t, int64(2), ins)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePartition_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM`).WithArgs("24001").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"landuse", "psegs"}, []string{"county", "psid"}).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, _, err = ReplacePartition(context.Background(), mock, replaceConfig(), [][]any{{"24001", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePartition_Validation(t *testing.T) {
	cfg := replaceConfig()
	cfg.Columns = nil
	_, _, err := ReplacePartition(context.Background(), nil, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	cfg = replaceConfig()
	cfg.KeyColumn = ""
	_, _, err = ReplacePartition(context.Background(), nil, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key column specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"landuse.psegs", `"landuse"."psegs"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"PSID", "lu", "logic"`, QuoteAndJoin([]string{"PSID", "lu", "logic"}))
}
