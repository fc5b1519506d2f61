package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geohealth/access-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_cells (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	hex_id          TEXT NOT NULL,
	centroid_lat    REAL NOT NULL,
	centroid_lng    REAL NOT NULL,
	area_km2        REAL NOT NULL,
	population      REAL NOT NULL,
	facility_id     INTEGER NOT NULL DEFAULT 0,
	facility_name   TEXT NOT NULL DEFAULT '',
	facility_lat    REAL NOT NULL DEFAULT 0,
	facility_lng    REAL NOT NULL DEFAULT 0,
	straight_km     REAL NOT NULL DEFAULT 0,
	route_km        REAL NOT NULL DEFAULT 0,
	travel_time_min REAL NOT NULL DEFAULT 0,
	route_source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, hex_id)
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id                   TEXT NOT NULL REFERENCES runs(id),
	district                 TEXT NOT NULL,
	facility_name            TEXT NOT NULL,
	cells_served             INTEGER NOT NULL,
	population_served        REAL NOT NULL,
	mean_distance_km         REAL NOT NULL,
	median_distance_km       REAL NOT NULL,
	min_distance_km          REAL NOT NULL,
	max_distance_km          REAL NOT NULL,
	pop_weighted_distance_km REAL NOT NULL,
	pop_weighted_time_min    REAL NOT NULL,
	bands                    TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, facility_name)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_run_cells_run_id ON run_cells(run_id);
CREATE INDEX IF NOT EXISTS idx_run_metrics_run_id ON run_metrics(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal input")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(inputJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Input:     input,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.District != "" {
		query += ` AND json_extract(input, '$.district') = ?`
		args = append(args, filter.District)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) SaveCells(ctx context.Context, runID string, cells []model.GridCell) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save cells")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_cells WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear cells for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_cells (run_id, hex_id, centroid_lat, centroid_lng, area_km2, population,
		 facility_id, facility_name, facility_lat, facility_lng,
		 straight_km, route_km, travel_time_min, route_source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert cell")
	}
	defer stmt.Close()

	for i := range cells {
		c := &cells[i]
		_, err := stmt.ExecContext(ctx,
			runID, c.HexID, c.CentroidLat, c.CentroidLng, c.AreaKm2, c.Population,
			c.FacilityID, c.FacilityName, c.FacilityLat, c.FacilityLng,
			c.StraightKm, c.RouteKm, c.TravelTimeMin, string(c.RouteSource),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert cell %s", c.HexID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save cells")
}

func (s *SQLiteStore) GetCells(ctx context.Context, runID string) ([]model.GridCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hex_id, centroid_lat, centroid_lng, area_km2, population,
		 facility_id, facility_name, facility_lat, facility_lng,
		 straight_km, route_km, travel_time_min, route_source
		 FROM run_cells WHERE run_id = ? ORDER BY hex_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cells for run %s", runID)
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
			return nil, eris.Wrap(err, "sqlite: scan cell")
		}
		c.RouteSource = model.RouteSource(source)
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: get cells iterate")
}

func (s *SQLiteStore) SaveMetrics(ctx context.Context, runID string, rows []model.FacilityMetrics) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save metrics")
	}
	defer tx.Rollback()

	for i := range rows {
		m := &rows[i]
		bandsJSON, err := marshalBands(m)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_metrics (run_id, district, facility_name, cells_served, population_served,
			 mean_distance_km, median_distance_km, min_distance_km, max_distance_km,
			 pop_weighted_distance_km, pop_weighted_time_min, bands)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, facility_name) DO UPDATE SET
			   district = excluded.district, cells_served = excluded.cells_served,
			   population_served = excluded.population_served,
			   mean_distance_km = excluded.mean_distance_km,
			   median_distance_km = excluded.median_distance_km,
			   min_distance_km = excluded.min_distance_km,
			   max_distance_km = excluded.max_distance_km,
			   pop_weighted_distance_km = excluded.pop_weighted_distance_km,
			   pop_weighted_time_min = excluded.pop_weighted_time_min,
			   bands = excluded.bands`,
			runID, m.District, m.FacilityName, m.CellsServed, m.PopulationServed,
			m.MeanDistanceKm, m.MedianDistanceKm, m.MinDistanceKm, m.MaxDistanceKm,
			m.PopWeightedDistanceKm, m.PopWeightedTimeMin, string(bandsJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert metrics for %s", m.FacilityName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save metrics")
}

func (s *SQLiteStore) GetMetrics(ctx context.Context, runID string) ([]model.FacilityMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT district, facility_name, cells_served, population_served,
		 mean_distance_km, median_distance_km, min_distance_km, max_distance_km,
		 pop_weighted_distance_km, pop_weighted_time_min, bands
		 FROM run_metrics WHERE run_id = ?
		 ORDER BY facility_name = ?, facility_name`,
		runID, model.DistrictTotalName,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get metrics for run %s", runID)
	}
	defer rows.Close()

	var out []model.FacilityMetrics
	for rows.Next() {
		var m model.FacilityMetrics
		var bandsJSON string
		err := rows.Scan(&m.District, &m.FacilityName, &m.CellsServed, &m.PopulationServed,
			&m.MeanDistanceKm, &m.MedianDistanceKm, &m.MinDistanceKm, &m.MaxDistanceKm,
			&m.PopWeightedDistanceKm, &m.PopWeightedTimeMin, &bandsJSON)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metrics")
		}
		if err := unmarshalBands([]byte(bandsJSON), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get metrics iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var inputJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &inputJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(inputJSON), &r.Input); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal input")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

// bandValues is the JSON shape of the bands column in run_metrics.
type bandValues struct {
	Pop []float64 `json:"pop"`
	Pct []float64 `json:"pct"`
}

func marshalBands(m *model.FacilityMetrics) ([]byte, error) {
	data, err := json.Marshal(bandValues{Pop: m.PopWithinBands, Pct: m.PctWithinBands})
	return data, eris.Wrap(err, "store: marshal bands")
}

func unmarshalBands(data []byte, m *model.FacilityMetrics) error {
	var b bandValues
	if err := json.Unmarshal(data, &b); err != nil {
		return eris.Wrap(err, "store: unmarshal bands")
	}
	m.PopWithinBands = b.Pop
	m.PctWithinBands = b.Pct
	return nil
}
