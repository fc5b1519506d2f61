package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/geohealth/access-cli/internal/db"
	"github.com/geohealth/access-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, input, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, input, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_phase":      `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":    `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	input      JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_cells (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	hex_id          TEXT NOT NULL,
	centroid_lat    DOUBLE PRECISION NOT NULL,
	centroid_lng    DOUBLE PRECISION NOT NULL,
	area_km2        DOUBLE PRECISION NOT NULL,
	population      DOUBLE PRECISION NOT NULL,
	facility_id     INTEGER NOT NULL DEFAULT 0,
	facility_name   TEXT NOT NULL DEFAULT '',
	facility_lat    DOUBLE PRECISION NOT NULL DEFAULT 0,
	facility_lng    DOUBLE PRECISION NOT NULL DEFAULT 0,
	straight_km     DOUBLE PRECISION NOT NULL DEFAULT 0,
	route_km        DOUBLE PRECISION NOT NULL DEFAULT 0,
	travel_time_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	route_source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, hex_id)
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id                   TEXT NOT NULL REFERENCES runs(id),
	district                 TEXT NOT NULL,
	facility_name            TEXT NOT NULL,
	cells_served             INTEGER NOT NULL,
	population_served        DOUBLE PRECISION NOT NULL,
	mean_distance_km         DOUBLE PRECISION NOT NULL,
	median_distance_km       DOUBLE PRECISION NOT NULL,
	min_distance_km          DOUBLE PRECISION NOT NULL,
	max_distance_km          DOUBLE PRECISION NOT NULL,
	pop_weighted_distance_km DOUBLE PRECISION NOT NULL,
	pop_weighted_time_min    DOUBLE PRECISION NOT NULL,
	bands                    JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, facility_name)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_run_cells_run_id ON run_cells(run_id);
CREATE INDEX IF NOT EXISTS idx_run_metrics_run_id ON run_metrics(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal input")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, input, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, inputJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Input:     input,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var inputJSON []byte
	var resultNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, input, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &inputJSON, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(inputJSON, &r.Input); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal input")
	}
	if resultNull != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.District != "" {
		query += fmt.Sprintf(` AND input->>'district' = $%d`, argIdx)
		args = append(args, filter.District)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var inputJSON []byte
		var resultNull *[]byte

		if err := rows.Scan(&r.ID, &inputJSON, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(inputJSON, &r.Input); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal input")
		}
		if resultNull != nil {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(*resultNull, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) SaveCells(ctx context.Context, runID string, cells []model.GridCell) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_cells WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear cells for run %s", runID)
	}

	rows := make([][]any, len(cells))
	for i := range cells {
		c := &cells[i]
		rows[i] = []any{
			runID, c.HexID, c.CentroidLat, c.CentroidLng, c.AreaKm2, c.Population,
			c.FacilityID, c.FacilityName, c.FacilityLat, c.FacilityLng,
			c.StraightKm, c.RouteKm, c.TravelTimeMin, string(c.RouteSource),
		}
	}

	_, err := db.CopyFrom(ctx, s.pool, "run_cells", cellColumns, rows)
	return err
}

func (s *PostgresStore) GetCells(ctx context.Context, runID string) ([]model.GridCell, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT hex_id, centroid_lat, centroid_lng, area_km2, population,
		 facility_id, facility_name, facility_lat, facility_lng,
		 straight_km, route_km, travel_time_min, route_source
		 FROM run_cells WHERE run_id = $1 ORDER BY hex_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cells for run %s", runID)
	}
	defer rows.Close()

	var cells []model.GridCell
	for rows.Next() {
		var c model.GridCell
		var source string
		err := rows.Scan(&c.HexID, &c.CentroidLat, &c.CentroidLng, &c.AreaKm2, &c.Population,
			&c.FacilityID, &c.FacilityName, &c.FacilityLat, &c.FacilityLng,
			&c.StraightKm, &c.RouteKm, &c.TravelTimeMin, &source)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan cell")
		}
		c.RouteSource = model.RouteSource(source)
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "postgres: get cells iterate")
}

func (s *PostgresStore) SaveMetrics(ctx context.Context, runID string, metricRows []model.FacilityMetrics) error {
	rows := make([][]any, len(metricRows))
	for i := range metricRows {
		m := &metricRows[i]
		bandsJSON, err := marshalBands(m)
		if err != nil {
			return err
		}
		rows[i] = []any{
			runID, m.District, m.FacilityName, m.CellsServed, m.PopulationServed,
			m.MeanDistanceKm, m.MedianDistanceKm, m.MinDistanceKm, m.MaxDistanceKm,
			m.PopWeightedDistanceKm, m.PopWeightedTimeMin, bandsJSON,
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, "run_metrics", metricColumns,
		[]string{"run_id", "facility_name"}, rows)
	return err
}

func (s *PostgresStore) GetMetrics(ctx context.Context, runID string) ([]model.FacilityMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT district, facility_name, cells_served, population_served,
		 mean_distance_km, median_distance_km, min_distance_km, max_distance_km,
		 pop_weighted_distance_km, pop_weighted_time_min, bands
		 FROM run_metrics WHERE run_id = $1
		 ORDER BY facility_name = $2, facility_name`,
		runID, model.DistrictTotalName,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get metrics for run %s", runID)
	}
	defer rows.Close()

	var out []model.FacilityMetrics
	for rows.Next() {
		var m model.FacilityMetrics
		var bandsJSON []byte
		err := rows.Scan(&m.District, &m.FacilityName, &m.CellsServed, &m.PopulationServed,
			&m.MeanDistanceKm, &m.MedianDistanceKm, &m.MinDistanceKm, &m.MaxDistanceKm,
			&m.PopWeightedDistanceKm, &m.PopWeightedTimeMin, &bandsJSON)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan metrics")
		}
		if err := unmarshalBands(bandsJSON, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get metrics iterate")
}
