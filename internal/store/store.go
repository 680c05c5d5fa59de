// Package store keeps scan history and observations in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrScanNotFound is returned when a scan id is unknown.
var ErrScanNotFound = errors.New("scan not found")

// Store manages the PostgreSQL connection.
type Store struct {
	conn *pgx.Conn
}

// Scan is one run of the pipeline over a source.
type Scan struct {
	ID        string
	VideoID   string // empty for cameras
	Source    string
	Threshold float64
	FrameRate float64
	Frames    int
	Cancelled bool
	StartedAt time.Time
}

// ScanSummary is a Scan as listed, with its observation count.
type ScanSummary struct {
	Scan
	FinishedAt   time.Time
	Observations int
}

// NewScan returns a Scan with a fresh id and the current start time.
func NewScan(source string, threshold float64) Scan {
	return Scan{
		ID:        uuid.NewString(),
		Source:    source,
		Threshold: threshold,
		StartedAt: time.Now().UTC(),
	}
}

// New connects to the database and creates missing tables.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			frame_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			frames INT NOT NULL DEFAULT 0,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_observations (
			id BIGSERIAL PRIMARY KEY,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			x1 DOUBLE PRECISION NOT NULL,
			y1 DOUBLE PRECISION NOT NULL,
			x2 DOUBLE PRECISION NOT NULL,
			y2 DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			age INT NOT NULL,
			gender SMALLINT NOT NULL,
			time_sec DOUBLE PRECISION
		);
		CREATE INDEX IF NOT EXISTS face_observations_scan_idx ON face_observations (scan_id, seq);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video. If it exists, the path and
// timestamp are refreshed.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// SaveScan stores the scan and its observations in one transaction. The
// observation order is kept in the seq column.
func (s *Store) SaveScan(ctx context.Context, scan Scan, obs []types.FaceObservation) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var videoID any
	if scan.VideoID != "" {
		videoID = scan.VideoID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO scans (id, video_id, source, threshold, frame_rate, frames, cancelled, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, scan.ID, videoID, scan.Source, scan.Threshold, scan.FrameRate, scan.Frames, scan.Cancelled, scan.StartedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	rows := make([][]any, len(obs))
	for i, o := range obs {
		var ts any
		if o.Time != nil {
			ts = *o.Time
		}
		rows[i] = []any{scan.ID, i, o.BBox.X1, o.BBox.Y1, o.BBox.X2, o.BBox.Y2, o.Confidence, o.Age, int16(o.Gender), ts}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"face_observations"},
		[]string{"scan_id", "seq", "x1", "y1", "x2", "y2", "confidence", "age", "gender", "time_sec"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy observations: %w", err)
	}
	return tx.Commit(ctx)
}

// ListScans returns every scan, newest first.
func (s *Store) ListScans(ctx context.Context) ([]ScanSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, COALESCE(s.video_id, ''), s.source, s.threshold, s.frame_rate, s.frames,
		       s.cancelled, s.started_at, s.finished_at, COUNT(o.id)
		FROM scans s
		LEFT JOIN face_observations o ON o.scan_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanSummary
	for rows.Next() {
		var sc ScanSummary
		if err := rows.Scan(&sc.ID, &sc.VideoID, &sc.Source, &sc.Threshold, &sc.FrameRate, &sc.Frames,
			&sc.Cancelled, &sc.StartedAt, &sc.FinishedAt, &sc.Observations); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ScanObservations returns the observations of a scan matching f, in the
// order they were first seen.
func (s *Store) ScanObservations(ctx context.Context, scanID string, f results.Filter) ([]types.FaceObservation, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, scanID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}

	var gender *int16
	if f.Gender != nil {
		g := int16(*f.Gender)
		gender = &g
	}
	rows, err := s.conn.Query(ctx, `
		SELECT x1, y1, x2, y2, confidence, age, gender, time_sec
		FROM face_observations
		WHERE scan_id = $1 AND age BETWEEN $2 AND $3 AND ($4::smallint IS NULL OR gender = $4)
		ORDER BY seq
	`, scanID, f.MinAge, f.MaxAge, gender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FaceObservation
	for rows.Next() {
		var o types.FaceObservation
		var g int16
		if err := rows.Scan(&o.BBox.X1, &o.BBox.Y1, &o.BBox.X2, &o.BBox.Y2, &o.Confidence, &o.Age, &g, &o.Time); err != nil {
			return nil, err
		}
		o.Gender = types.Gender(g)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Reset drops all application tables. The schema is recreated on the next
// connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS face_observations CASCADE;
		DROP TABLE IF EXISTS scans CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

// Recorder saves the results of a run as a scan.
type Recorder struct {
	Store *Store
	Scan  Scan
	// Complete fills in what is only known once streaming ended, such as the
	// frame count. Optional.
	Complete func(*Scan)
}

func (r *Recorder) Name() string { return "postgres:" + r.Scan.ID }

func (r *Recorder) Record(ctx context.Context, obs []types.FaceObservation) error {
	scan := r.Scan
	if r.Complete != nil {
		r.Complete(&scan)
	}
	return r.Store.SaveScan(ctx, scan, obs)
}
