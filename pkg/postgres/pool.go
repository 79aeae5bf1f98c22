// Package postgres provides PostgreSQL connection pooling and the track and
// sighting persistence queries.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seaward-systems/thebox/pkg/detection"
	"github.com/seaward-systems/thebox/pkg/track"
)

// Pool wraps pgxpool.Pool with domain-specific query methods.
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "thebox",
		User:        "thebox",
		Password:    "thebox",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	return NewPoolFromURL(ctx, cfg.ConnectionString())
}

// NewPoolFromURL creates a pool from a connection URL.
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// TrackRow represents a track row as stored.
type TrackRow struct {
	TrackID    string    `json:"track_id"`
	Confidence float64   `json:"confidence"`
	RangeKM    float64   `json:"range_km"`
	SigmaKM    float64   `json:"sigma_km"`
	RangeMode  string    `json:"range_mode"`
	BearingDeg float64   `json:"bearing_deg"`
	Status     string    `json:"status"`
	LastReason string    `json:"last_reason"`
	Detections int       `json:"detections"`
	FirstSeen  time.Time `json:"first_seen"`
	LastUpdate time.Time `json:"last_update"`
}

// UpsertTrack writes one fused snapshot, creating the row on first sight.
func (p *Pool) UpsertTrack(ctx context.Context, snap track.Snapshot) error {
	_, err := p.Exec(ctx, `
		INSERT INTO tracks (
			track_id, confidence, range_km, sigma_km, range_mode,
			bearing_deg, status, last_reason, detections, first_seen, last_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (track_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			range_km = EXCLUDED.range_km,
			sigma_km = EXCLUDED.sigma_km,
			range_mode = EXCLUDED.range_mode,
			bearing_deg = EXCLUDED.bearing_deg,
			status = EXCLUDED.status,
			last_reason = EXCLUDED.last_reason,
			detections = EXCLUDED.detections,
			last_update = EXCLUDED.last_update
	`, snap.TrackID, snap.Confidence, snap.RangeKM, snap.SigmaKM, string(snap.RangeMode),
		snap.BearingDeg, string(snap.Status), string(snap.LastReason), snap.Detections, snap.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", snap.TrackID, err)
	}
	return nil
}

// GetTrack retrieves one track row.
func (p *Pool) GetTrack(ctx context.Context, trackID string) (*TrackRow, error) {
	row := p.QueryRow(ctx, `
		SELECT track_id, confidence, range_km, sigma_km, range_mode,
		       bearing_deg, status, last_reason, detections, first_seen, last_update
		FROM tracks WHERE track_id = $1
	`, trackID)

	var t TrackRow
	err := row.Scan(&t.TrackID, &t.Confidence, &t.RangeKM, &t.SigmaKM, &t.RangeMode,
		&t.BearingDeg, &t.Status, &t.LastReason, &t.Detections, &t.FirstSeen, &t.LastUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track %s: %w", trackID, err)
	}
	return &t, nil
}

// TrackFilter defines filter options for track queries.
type TrackFilter struct {
	Status string
	Since  *time.Time
	Limit  int
}

// ListTracks retrieves track rows with optional filtering.
func (p *Pool) ListTracks(ctx context.Context, filter TrackFilter) ([]TrackRow, error) {
	query := `
		SELECT track_id, confidence, range_km, sigma_km, range_mode,
		       bearing_deg, status, last_reason, detections, first_seen, last_update
		FROM tracks WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND last_update >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY last_update DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackRow
	for rows.Next() {
		var t TrackRow
		if err := rows.Scan(&t.TrackID, &t.Confidence, &t.RangeKM, &t.SigmaKM, &t.RangeMode,
			&t.BearingDeg, &t.Status, &t.LastReason, &t.Detections, &t.FirstSeen, &t.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// InsertSighting archives one planner-corrected sighting.
func (p *Pool) InsertSighting(ctx context.Context, s *detection.CorrectedSighting) error {
	_, err := p.Exec(ctx, `
		INSERT INTO sightings (
			object_id, time_utc, distance_m, distance_error_m,
			bearing_deg_true, bearing_error_deg, altitude_m, altitude_error_m,
			confidence, range_is_synthetic, range_method
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ObjectID, s.TimeUTC, s.DistanceM, s.DistanceErrorM,
		s.BearingDegTrue, s.BearingErrorDeg, s.AltitudeM, s.AltitudeErrorM,
		s.Confidence, s.RangeIsSynthetic, s.RangeMethod)
	if err != nil {
		return fmt.Errorf("failed to insert sighting for %s: %w", s.ObjectID, err)
	}
	return nil
}

// SightingRow represents an archived corrected sighting.
type SightingRow struct {
	ID               int64     `json:"id"`
	ObjectID         string    `json:"object_id"`
	TimeUTC          time.Time `json:"time_utc"`
	DistanceM        float64   `json:"distance_m"`
	DistanceErrorM   float64   `json:"distance_error_m"`
	BearingDegTrue   float64   `json:"bearing_deg_true"`
	BearingErrorDeg  float64   `json:"bearing_error_deg"`
	AltitudeM        float64   `json:"altitude_m"`
	AltitudeErrorM   float64   `json:"altitude_error_m"`
	Confidence       float64   `json:"confidence"`
	RangeIsSynthetic bool      `json:"range_is_synthetic"`
	RangeMethod      string    `json:"range_method"`
}

// ListSightings returns the most recent sightings, optionally for one object.
func (p *Pool) ListSightings(ctx context.Context, objectID string, limit int) ([]SightingRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, object_id, time_utc, distance_m, distance_error_m,
		       bearing_deg_true, bearing_error_deg, altitude_m, altitude_error_m,
		       confidence, range_is_synthetic, range_method
		FROM sightings`
	args := []interface{}{}
	if objectID != "" {
		query += ` WHERE object_id = $1`
		args = append(args, objectID)
	}
	query += fmt.Sprintf(` ORDER BY time_utc DESC LIMIT %d`, limit)

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []SightingRow
	for rows.Next() {
		var s SightingRow
		if err := rows.Scan(
			&s.ID, &s.ObjectID, &s.TimeUTC, &s.DistanceM, &s.DistanceErrorM,
			&s.BearingDegTrue, &s.BearingErrorDeg, &s.AltitudeM, &s.AltitudeErrorM,
			&s.Confidence, &s.RangeIsSynthetic, &s.RangeMethod,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sighting row: %w", err)
		}
		sightings = append(sightings, s)
	}
	return sightings, rows.Err()
}

// ClearResult reports how many rows a ClearAll removed.
type ClearResult struct {
	Tracks    int64
	Sightings int64
}

// ClearAll deletes all tracks and sightings. Used by the gateway's reset
// endpoint between simulation runs.
func (p *Pool) ClearAll(ctx context.Context) (ClearResult, error) {
	var result ClearResult

	tag, err := p.Exec(ctx, `DELETE FROM sightings`)
	if err != nil {
		return result, fmt.Errorf("failed to clear sightings: %w", err)
	}
	result.Sightings = tag.RowsAffected()

	tag, err = p.Exec(ctx, `DELETE FROM tracks`)
	if err != nil {
		return result, fmt.Errorf("failed to clear tracks: %w", err)
	}
	result.Tracks = tag.RowsAffected()

	return result, nil
}

// Schema is the DDL applied by deployments. Kept here so the gateway can
// bootstrap a fresh database.
const Schema = `
CREATE TABLE IF NOT EXISTS tracks (
	track_id     TEXT PRIMARY KEY,
	confidence   DOUBLE PRECISION NOT NULL,
	range_km     DOUBLE PRECISION NOT NULL,
	sigma_km     DOUBLE PRECISION NOT NULL,
	range_mode   TEXT NOT NULL,
	bearing_deg  DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	last_reason  TEXT NOT NULL DEFAULT '',
	detections   INTEGER NOT NULL DEFAULT 0,
	first_seen   TIMESTAMPTZ NOT NULL,
	last_update  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sightings (
	id                 BIGSERIAL PRIMARY KEY,
	object_id          TEXT NOT NULL,
	time_utc           TIMESTAMPTZ NOT NULL,
	distance_m         DOUBLE PRECISION NOT NULL,
	distance_error_m   DOUBLE PRECISION NOT NULL,
	bearing_deg_true   DOUBLE PRECISION NOT NULL,
	bearing_error_deg  DOUBLE PRECISION NOT NULL,
	altitude_m         DOUBLE PRECISION NOT NULL,
	altitude_error_m   DOUBLE PRECISION NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	range_is_synthetic BOOLEAN NOT NULL,
	range_method       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sightings_object ON sightings (object_id, time_utc DESC);
`

// EnsureSchema applies the DDL.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	_, err := p.Exec(ctx, Schema)
	return err
}
