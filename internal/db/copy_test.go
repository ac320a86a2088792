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

func TestCopyBatches_EmptyRows(t *testing.T) {
	n, err := CopyBatches(context.TODO(), nil, pgx.Identifier{"psegs"}, []string{"a", "b"}, nil, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyBatches_Batches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ident := pgx.Identifier{"landuse", "psegs"}
	mock.ExpectCopyFrom(ident, []string{"a", "b"}).WillReturnResult(2)
	mock.ExpectCopyFrom(ident, []string{"a", "b"}).WillReturnResult(1)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyBatches(context.Background(), mock, ident, []string{"a", "b"}, rows, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyBatches_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ident := pgx.Identifier{"landuse", "psegs"}
	mock.ExpectCopyFrom(ident, []string{"a"}).WillReturnResult(1)
	mock.ExpectCopyFrom(ident, []string{"a"}).WillReturnError(fmt.Errorf("permission denied"))

	n, err := CopyBatches(context.Background(), mock, ident, []string{"a"}, [][]any{{1}, {2}}, 1)
	require.Error(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, err.Error(), "COPY INTO landuse.psegs (batch 1-2)")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_EmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	assert.Error(t, err)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
