// Package store persists the last known frame state, confirmed offsets,
// importer bookkeeping and the power schedule
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aouyang1/framectl/api/models"
	mapset "github.com/deckarep/golang-set/v2"
	_ "modernc.org/sqlite"
)

const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

var DefaultSchedule = Schedule{
	Enabled: false,
	Start:   "06:00",
	End:     "23:00",
}

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{db: db}

	if err := database.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return database, nil
}

func (d *Database) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		singleton INTEGER NOT NULL DEFAULT 1 CHECK (singleton = 1),
		state_json TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		PRIMARY KEY (singleton)
	);
	CREATE TABLE IF NOT EXISTS saved_offsets (
		image_id TEXT NOT NULL,
		offset_x REAL NOT NULL,
		offset_y REAL NOT NULL,
		saved_at TEXT NOT NULL,
		PRIMARY KEY (image_id)
	);
	CREATE TABLE IF NOT EXISTS uploads (
		source      TEXT NOT NULL,
		name        TEXT NOT NULL,
		image_id    TEXT NOT NULL,
		size        INTEGER NOT NULL,
		uploaded_at TEXT NOT NULL,
		PRIMARY KEY (source, name)
	);
	CREATE TABLE IF NOT EXISTS schedule (
		singleton INTEGER NOT NULL DEFAULT 1 CHECK (singleton = 1),
		enabled INTEGER NOT NULL,
		start   TEXT NOT NULL,
		end     TEXT NOT NULL,
		PRIMARY KEY (singleton)
	);
	`
	_, err := d.db.Exec(query)
	return err
}

// SaveSnapshot replaces the stored state.
func (d *Database) SaveSnapshot(state models.State, fetchedAt time.Time) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	const stmt = `
		INSERT INTO snapshots (singleton, state_json, fetched_at)
		VALUES (1, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			state_json = excluded.state_json,
			fetched_at = excluded.fetched_at
	`
	if _, err := d.db.Exec(stmt, string(data), formatTime(fetchedAt)); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored state, or nil when none was saved yet.
func (d *Database) LoadSnapshot() (*models.State, time.Time, error) {
	const query = `SELECT state_json, fetched_at FROM snapshots WHERE singleton = 1`

	var data, fetchedAtStr string
	err := d.db.QueryRow(query).Scan(&data, &fetchedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get snapshot: %w", err)
	}

	var state models.State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	fetchedAt, err := parseTime(fetchedAtStr)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &state, fetchedAt, nil
}

func (d *Database) SaveOffset(imageID string, offsetX, offsetY float64, savedAt time.Time) error {
	const stmt = `
		INSERT INTO saved_offsets (image_id, offset_x, offset_y, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			offset_x = excluded.offset_x,
			offset_y = excluded.offset_y,
			saved_at = excluded.saved_at
	`
	if _, err := d.db.Exec(stmt, imageID, offsetX, offsetY, formatTime(savedAt)); err != nil {
		return fmt.Errorf("upsert saved offset: %w", err)
	}
	return nil
}

// GetSavedOffset returns nil when the image has no confirmed offset.
func (d *Database) GetSavedOffset(imageID string) (*models.SavedOffset, error) {
	const query = `SELECT image_id, offset_x, offset_y, saved_at FROM saved_offsets WHERE image_id = ?`

	var so models.SavedOffset
	var savedAt string
	err := d.db.QueryRow(query, imageID).Scan(&so.ImageID, &so.OffsetX, &so.OffsetY, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get saved offset: %w", err)
	}
	if so.SavedAt, err = parseTime(savedAt); err != nil {
		return nil, err
	}
	return &so, nil
}

func (d *Database) RecordUpload(u Upload) error {
	const stmt = `
		INSERT INTO uploads (source, name, image_id, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, name) DO UPDATE SET
			image_id    = excluded.image_id,
			size        = excluded.size,
			uploaded_at = excluded.uploaded_at
	`
	if _, err := d.db.Exec(stmt, u.Source, u.Name, u.ImageID, u.Size, formatTime(u.UploadedAt)); err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// UploadedNames returns every name already uploaded from source.
func (d *Database) UploadedNames(source string) (mapset.Set[string], error) {
	rows, err := d.db.Query(`SELECT name FROM uploads WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	names := mapset.NewSet[string]()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		names.Add(name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return names, nil
}

// GetUploadCount returns how many files source has sent to the frame.
func (d *Database) GetUploadCount(source string) (int, error) {
	query := `SELECT COUNT(*) FROM uploads WHERE source = ?`
	var count int
	err := d.db.QueryRow(query, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get upload count: %w", err)
	}
	return count, nil
}

func (d *Database) GetSchedule() (*Schedule, error) {
	const query = `
		SELECT enabled,
		       start,
		       end
		FROM schedule
		WHERE singleton = 1
	`

	var enabled bool
	var start, end string

	err := d.db.QueryRow(query).Scan(&enabled, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		// Bootstrap defaults if no schedule row exists yet
		defaults := DefaultSchedule
		if err := d.UpsertSchedule(&defaults); err != nil {
			return nil, err
		}
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	schedule := &Schedule{
		Enabled: enabled,
		Start:   start,
		End:     end,
	}
	return schedule, nil
}

func (d *Database) UpsertSchedule(s *Schedule) error {
	const stmt = `
		INSERT INTO schedule (
			singleton,
			enabled,
			start,
			end
		) VALUES (1, ?, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			enabled = excluded.enabled,
			start   = excluded.start,
			end     = excluded.end
	`

	_, err := d.db.Exec(
		stmt,
		boolToInt(s.Enabled),
		s.Start,
		s.End,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
