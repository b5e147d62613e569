// Package sqlite persists odometry trajectories: one row per registered
// scan, grouped into runs. The schema is self-contained and created on
// open, so a store works against any SQLite database file (or :memory:).
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry.engine/internal/odometry"
)

// ScanRecord is one registered scan of a trajectory run.
type ScanRecord struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	ScanIndex       int       `json:"scan_index"`
	X               float64   `json:"x"`
	Y               float64   `json:"y"`
	Z               float64   `json:"z"`
	QW              float64   `json:"qw"`
	QX              float64   `json:"qx"`
	QY              float64   `json:"qy"`
	QZ              float64   `json:"qz"`
	Iterations      int       `json:"iterations"`
	Correspondences int       `json:"correspondences"`
	Converged       bool      `json:"converged"`
	TwistNorm       float64   `json:"twist_norm"`
	SourcePoints    int       `json:"source_points"`
	MapPoints       int       `json:"map_points"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// NewScanRecord builds a record from a registration result. mapPoints is
// the map's point count after the scan was merged.
func NewScanRecord(runID string, scanIndex int, pose odometry.Pose, diag odometry.Diagnostics, mapPoints int) ScanRecord {
	return ScanRecord{
		RunID:           runID,
		ScanIndex:       scanIndex,
		X:               pose.T.X,
		Y:               pose.T.Y,
		Z:               pose.T.Z,
		QW:              pose.R.Real,
		QX:              pose.R.Imag,
		QY:              pose.R.Jmag,
		QZ:              pose.R.Kmag,
		Iterations:      diag.Iterations,
		Correspondences: diag.Correspondences,
		Converged:       diag.Converged,
		TwistNorm:       diag.TwistNorm,
		SourcePoints:    diag.SourcePoints,
		MapPoints:       mapPoints,
		RecordedAt:      time.Now().UTC(),
	}
}

// Pose reconstructs the record's pose estimate.
func (r ScanRecord) Pose() odometry.Pose {
	p := odometry.IdentityPose()
	p.R.Real, p.R.Imag, p.R.Jmag, p.R.Kmag = r.QW, r.QX, r.QY, r.QZ
	p.T.X, p.T.Y, p.T.Z = r.X, r.Y, r.Z
	return p
}

// NewRunID returns a fresh identifier for a trajectory run.
func NewRunID() string {
	return uuid.New().String()
}

// TrajectoryStore provides persistence for odometry trajectory runs.
type TrajectoryStore struct {
	db *sql.DB
}

// NewTrajectoryStore creates a store on db, creating the schema if needed.
func NewTrajectoryStore(db *sql.DB) (*TrajectoryStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS odometry_scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			scan_index INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			qw REAL NOT NULL,
			qx REAL NOT NULL,
			qy REAL NOT NULL,
			qz REAL NOT NULL,
			iterations INTEGER NOT NULL,
			correspondences INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			twist_norm REAL NOT NULL,
			source_points INTEGER NOT NULL,
			map_points INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			UNIQUE(run_id, scan_index)
		);
		CREATE INDEX IF NOT EXISTS idx_odometry_scans_run ON odometry_scans(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating odometry_scans schema: %w", err)
	}
	return &TrajectoryStore{db: db}, nil
}

// InsertScan persists one scan record and returns its row ID.
func (s *TrajectoryStore) InsertScan(record ScanRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO odometry_scans (
			run_id, scan_index, x, y, z, qw, qx, qy, qz,
			iterations, correspondences, converged, twist_norm,
			source_points, map_points, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.ScanIndex,
		record.X, record.Y, record.Z,
		record.QW, record.QX, record.QY, record.QZ,
		record.Iterations,
		record.Correspondences,
		record.Converged,
		record.TwistNorm,
		record.SourcePoints,
		record.MapPoints,
		record.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting scan %d of run %s: %w", record.ScanIndex, record.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	return id, nil
}

// ScansForRun returns a run's scans ordered by scan index.
func (s *TrajectoryStore) ScansForRun(runID string) ([]ScanRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, scan_index, x, y, z, qw, qx, qy, qz,
		       iterations, correspondences, converged, twist_norm,
		       source_points, map_points, recorded_at
		FROM odometry_scans WHERE run_id = ? ORDER BY scan_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying scans for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var r ScanRecord
		var recordedAt string
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.ScanIndex,
			&r.X, &r.Y, &r.Z, &r.QW, &r.QX, &r.QY, &r.QZ,
			&r.Iterations, &r.Correspondences, &r.Converged, &r.TwistNorm,
			&r.SourcePoints, &r.MapPoints, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		r.RecordedAt = t
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scans for run %s: %w", runID, err)
	}
	return records, nil
}

// RunIDs lists the distinct runs in the store, most recent first.
func (s *TrajectoryStore) RunIDs() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT run_id FROM odometry_scans
		GROUP BY run_id ORDER BY MAX(recorded_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRun removes every scan of a run and reports how many rows went.
func (s *TrajectoryStore) DeleteRun(runID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM odometry_scans WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("deleting run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}
