package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS geofences (
	code       TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// GeofenceRepository implements domain.GeofenceRepository using PostgreSQL.
// Each fence is stored as a GeoJSON document keyed by its code.
type GeofenceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewGeofenceRepository creates a new PostgreSQL geofence repository.
func NewGeofenceRepository(db *sql.DB, logger *slog.Logger) *GeofenceRepository {
	return &GeofenceRepository{db: db, logger: logger.With("component", "postgres_geofence_repository")}
}

// EnsureSchema creates the geofences table if it does not exist.
func (r *GeofenceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create geofences table: %w", err)
	}
	return nil
}

// GetByCode returns the fence stored under code, or domain.ErrGeofenceNotFound.
func (r *GeofenceRepository) GetByCode(ctx context.Context, code string) (*domain.Geofence, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, `SELECT document FROM geofences WHERE code = $1`, code).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGeofenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query geofence %s: %w", code, err)
	}

	var fence domain.Geofence
	if err := json.Unmarshal(doc, &fence); err != nil {
		return nil, fmt.Errorf("failed to decode geofence %s: %w", code, err)
	}
	return &fence, nil
}

func (r *GeofenceRepository) List(ctx context.Context) ([]domain.Geofence, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, document FROM geofences ORDER BY created_at, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}
	defer rows.Close()

	fences := []domain.Geofence{}
	for rows.Next() {
		var (
			code string
			doc  []byte
		)
		if err := rows.Scan(&code, &doc); err != nil {
			return nil, err
		}
		var fence domain.Geofence
		if err := json.Unmarshal(doc, &fence); err != nil {
			r.logger.Warn("skipping undecodable geofence", "geofence_code", code, "error", err)
			continue
		}
		fences = append(fences, fence)
	}
	return fences, rows.Err()
}

const upsertQuery = `
	INSERT INTO geofences (code, document) VALUES ($1, $2)
	ON CONFLICT (code) DO UPDATE SET
		document = EXCLUDED.document,
		updated_at = NOW()`

// Save inserts or replaces the fence stored under code.
func (r *GeofenceRepository) Save(ctx context.Context, code string, fence domain.Geofence) error {
	doc, err := json.Marshal(fence)
	if err != nil {
		return fmt.Errorf("failed to encode geofence: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertQuery, code, doc); err != nil {
		return fmt.Errorf("failed to save geofence %s: %w", code, err)
	}
	return nil
}

// SaveAll upserts every fence under its properties id in one transaction.
func (r *GeofenceRepository) SaveAll(ctx context.Context, fences []domain.Geofence) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, fence := range fences {
		doc, err := json.Marshal(fence)
		if err != nil {
			return fmt.Errorf("failed to encode geofence: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, fence.Properties.ID, doc); err != nil {
			return fmt.Errorf("failed to save geofence %s: %w", fence.Properties.ID, err)
		}
	}
	return tx.Commit()
}

// Update rewrites the document stored under code while holding its row lock.
func (r *GeofenceRepository) Update(ctx context.Context, code string, apply func(domain.Geofence) (domain.Geofence, error)) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT document FROM geofences WHERE code = $1 FOR UPDATE`, code).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrGeofenceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query geofence %s: %w", code, err)
	}

	var cur domain.Geofence
	if err := json.Unmarshal(doc, &cur); err != nil {
		return fmt.Errorf("failed to decode geofence %s: %w", code, err)
	}
	next, err := apply(cur)
	if err != nil {
		return err
	}
	if doc, err = json.Marshal(next); err != nil {
		return fmt.Errorf("failed to encode geofence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE geofences SET document = $2, updated_at = NOW() WHERE code = $1`, code, doc); err != nil {
		return fmt.Errorf("failed to update geofence %s: %w", code, err)
	}
	return tx.Commit()
}

func (r *GeofenceRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM geofences WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete geofence %s: %w", code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrGeofenceNotFound
	}
	return nil
}

func (r *GeofenceRepository) Close() error {
	return r.db.Close()
}
