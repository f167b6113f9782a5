// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package catalog persists handled detections: one row per detection in
// DuckDB plus the detected waveform snippet on disk, laid out by year and
// julian day so a day's detections sit in one directory.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/waveform"
)

// Store is the DuckDB-backed detection catalog.
type Store struct {
	db        *sql.DB
	detectDir string
}

// Record is one catalogued detection row.
type Record struct {
	ID           string    `json:"id"`
	Template     string    `json:"template"`
	Time         time.Time `json:"time"`
	Threshold    float64   `json:"threshold"`
	CorSum       float64   `json:"cor_sum"`
	Channels     int       `json:"channels"`
	WaveformPath string    `json:"waveform_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open opens (or creates) a catalog. dbPath may be ":memory:" for tests;
// detectDir is where waveform snippets are written.
func Open(ctx context.Context, dbPath, detectDir string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog db at %s: %w", dbPath, err)
	}
	s := &Store{db: db, detectDir: detectDir}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			template TEXT NOT NULL,
			detect_time TIMESTAMP NOT NULL,
			threshold DOUBLE NOT NULL,
			cor_sum DOUBLE NOT NULL,
			chans INTEGER NOT NULL,
			picks JSON,
			waveform_path TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_template ON detections(template)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(detect_time DESC)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("catalog schema: %w", err)
		}
	}

	// Checkpoint so a crash right after startup does not replay the WAL.
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after catalog schema initialization")
	}
	return nil
}

// Write catalogues one detection and, when a snippet is supplied, writes the
// detected waveform window to disk. Returns the assigned detection id.
func (s *Store) Write(ctx context.Context, d *detect.Detection, snippet *waveform.Stream) (string, error) {
	id := uuid.NewString()

	var path string
	if snippet != nil && len(snippet.Traces) > 0 {
		p, err := s.writeSnippet(d, snippet)
		if err != nil {
			// The row is still worth keeping without its snippet.
			logging.Warn().Err(err).Str("template", d.Template).Msg("Failed to write waveform snippet")
		} else {
			path = p
		}
	}

	picks, err := json.Marshal(d.Picks)
	if err != nil {
		return "", fmt.Errorf("marshal picks: %w", err)
	}

	query := `INSERT INTO detections
		(id, template, detect_time, threshold, cor_sum, chans, picks, waveform_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		id,
		d.Template,
		d.Time,
		d.Threshold,
		d.CorSum,
		len(d.Picks),
		picks,
		path,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert detection: %w", err)
	}
	return id, nil
}

// writeSnippet stores the detection's waveform window under
// detectDir/<year>/<julian day>/<template>_<timestamp>.json.
func (s *Store) writeSnippet(d *detect.Detection, snippet *waveform.Stream) (string, error) {
	at := d.Time.UTC()
	dir := filepath.Join(s.detectDir, at.Format("2006"), fmt.Sprintf("%03d", at.YearDay()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snippet dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", sanitizeName(d.Template), at.Format("20060102T150405"))
	path := filepath.Join(dir, name)

	data, err := json.Marshal(snippet)
	if err != nil {
		return "", fmt.Errorf("marshal snippet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snippet: %w", err)
	}
	return path, nil
}

// List returns catalogued detections at or after since, newest first.
// A non-positive limit defaults to 100.
func (s *Store) List(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, template, detect_time, threshold, cor_sum, chans,
		COALESCE(waveform_path, ''), created_at
		FROM detections WHERE detect_time >= ?
		ORDER BY detect_time DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Template, &r.Time, &r.Threshold, &r.CorSum,
			&r.Channels, &r.WaveformPath, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the total number of catalogued detections.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}

// sanitizeName makes a template name safe as a file name component.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
