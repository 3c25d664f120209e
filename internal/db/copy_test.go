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

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "landcover_raster_rows", []string{"y", "band"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var _ Pool = mock
	mock.ExpectCopyFrom(pgx.Identifier{"landcover_raster_rows"}, []string{"y", "band"}).WillReturnResult(3)

	rows := [][]any{{1, "NDVI"}, {2, "NDVI"}, {3, "NDVI"}}
	n, err := CopyFrom(context.Background(), mock, "landcover_raster_rows", []string{"y", "band"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"landcover_raster_rows"}, []string{"y", "band"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{1, "NDVI"}}
	_, err = CopyFrom(context.Background(), mock, "landcover_raster_rows", []string{"y", "band"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO landcover_raster_rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
