// Package calibration persists versioned calibration parameters in SQLite.
package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/flowbot/internal/domain"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calibration_versions (
		version_id  TEXT PRIMARY KEY,
		model_id    TEXT NOT NULL,
		method      TEXT NOT NULL,
		params_json TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calibration_versions_model
		ON calibration_versions (model_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS active_calibration (
		model_id   TEXT PRIMARY KEY,
		version_id TEXT NOT NULL REFERENCES calibration_versions (version_id)
	)`,
}

// Repo stores every calibration version and one active pointer per model.
type Repo struct {
	db *sql.DB
}

// Open connects to the SQLite database at path and applies migrations.
func Open(ctx context.Context, path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	for _, m := range migrations {
		if _, execErr := db.ExecContext(ctx, m); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration: %w", execErr)
		}
	}

	return &Repo{db: db}, nil
}

// Close closes the underlying connection.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Save inserts a version and points the model at it in one transaction.
func (r *Repo) Save(ctx context.Context, p domcal.Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO calibration_versions (version_id, model_id, method, params_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Version, p.ModelID, string(p.Method), string(data), p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version %s: %w", p.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_calibration (model_id, version_id) VALUES (?, ?)
		 ON CONFLICT (model_id) DO UPDATE SET version_id = excluded.version_id`,
		p.ModelID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("activate version %s: %w", p.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadActive returns the active version of every model, ordered by model id.
func (r *Repo) LoadActive(ctx context.Context) ([]domcal.Params, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT v.params_json
		   FROM active_calibration a
		   JOIN calibration_versions v ON v.version_id = a.version_id
		  ORDER BY a.model_id`)
	if err != nil {
		return nil, fmt.Errorf("query active: %w", err)
	}
	return scanParams(rows)
}

// Versions returns a model's history in save order, oldest first.
// An unknown model yields domain.ErrUnknownModel.
func (r *Repo) Versions(ctx context.Context, modelID string) ([]domcal.Params, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT params_json FROM calibration_versions
		  WHERE model_id = ?
		  ORDER BY rowid`, modelID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	out, err := scanParams(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model %q: %w", modelID, domain.ErrUnknownModel)
	}
	return out, nil
}

func scanParams(rows *sql.Rows) ([]domcal.Params, error) {
	defer func() { _ = rows.Close() }()

	var out []domcal.Params
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan params: %w", err)
		}
		var p domcal.Params
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterate params: %w", err)
	}
	return out, nil
}
