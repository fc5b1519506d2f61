package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"run_id", "facility_name", "population_served"}
	rows := [][]any{
		{"run-1", "Central Hospital", 12500.0},
		{"run-1", "North Clinic", 4100.0},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "staging_run_metrics"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging_run_metrics"}, columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "run_metrics"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, "run_metrics", columns,
		[]string{"run_id", "facility_name"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkUpsert(context.Background(), mock, "run_metrics",
		[]string{"run_id"}, []string{"run_id"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"run_id", "facility_name"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging_run_metrics"}, columns).
		WillReturnError(eris.New("copy rejected"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, "run_metrics", columns,
		[]string{"run_id"}, [][]any{{"run-1", "Central Hospital"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, "run_metrics", sanitizeTable("run_metrics"))
	assert.Equal(t, "runmetrics", sanitizeTable(`Run:Metrics`))
	assert.Equal(t, "t1droptable", sanitizeTable(`t1; DROP "TABLE"`))
}
