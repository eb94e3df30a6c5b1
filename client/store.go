// Package client holds the client half of the photo map: the local record
// store and the uploader that talks to the ingestion server.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"photo-map/model"

	_ "modernc.org/sqlite"
)

const (
	// TitleKey names the trip title setting.
	TitleKey = "title"
	// DefaultTitle is the title a fresh store starts with.
	DefaultTitle = "Trip"
)

// ErrNotFound is returned when a record or setting does not exist.
var ErrNotFound = errors.New("not found")

// RecordStore is the durable client-side store for photo records and
// settings. Records are never updated in place.
type RecordStore interface {
	Add(ctx context.Context, photo model.PhotoData) (int64, error)
	All(ctx context.Context) ([]model.PhotoRecord, error)
	Delete(ctx context.Context, id int64) error
	Setting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
	Close() error
}

// migrations upgrade the schema one version at a time; index i brings the
// database to version i+1. Upgrades only ever add.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		has_gps INTEGER NOT NULL DEFAULT 0,
		lat REAL,
		lon REAL,
		location_name TEXT NOT NULL,
		taken_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// SchemaVersion is the version a store is at after Open.
var SchemaVersion = len(migrations)

// SQLiteStore implements RecordStore on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ RecordStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the store at path, upgrades the
// schema and seeds the default title.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureDefaultTitle(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Version returns the schema version recorded in the database.
func (s *SQLiteStore) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for v := current; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ensureDefaultTitle(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING;`,
		TitleKey, DefaultTitle,
	)
	if err != nil {
		return fmt.Errorf("seed title: %w", err)
	}
	return nil
}

// Add stores a new record and returns its id.
func (s *SQLiteStore) Add(ctx context.Context, photo model.PhotoData) (int64, error) {
	var lat, lon sql.NullFloat64
	if photo.HasGPS && photo.Lat != nil && photo.Lon != nil {
		lat = sql.NullFloat64{Float64: *photo.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: *photo.Lon, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (url, has_gps, lat, lon, location_name, taken_at) VALUES (?, ?, ?, ?, ?, ?);`,
		photo.URL,
		lat.Valid,
		lat,
		lon,
		photo.LocationName,
		photo.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert photo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert photo: %w", err)
	}
	return id, nil
}

// All returns every record in id order.
func (s *SQLiteStore) All(ctx context.Context) ([]model.PhotoRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, has_gps, lat, lon, location_name, taken_at FROM photos ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var photos []model.PhotoRecord
	for rows.Next() {
		var (
			rec      model.PhotoRecord
			lat, lon sql.NullFloat64
			takenAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.HasGPS, &lat, &lon, &rec.LocationName, &takenAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		if lat.Valid && lon.Valid {
			rec.Lat = &lat.Float64
			rec.Lon = &lon.Float64
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, takenAt)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of photo %d: %w", rec.ID, err)
		}
		photos = append(photos, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// Delete removes the record with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete photo %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete photo %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("photo %d: %w", id, ErrNotFound)
	}
	return nil
}

// Setting returns the value stored under key.
func (s *SQLiteStore) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read setting %q: %w", key, err)
	}
	return value, nil
}

// PutSetting overwrites the value stored under key.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value;`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write setting %q: %w", key, err)
	}
	return nil
}
