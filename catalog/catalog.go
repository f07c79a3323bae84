// Package catalog persists artifacts and their image assets in SQLite.
//
// An Artifact is a cataloged physical item under conservation treatment.
// An Asset is one stored file (original, preview, thumbnail, or exported
// byproduct) owned by exactly one artifact; deleting the artifact cascades
// to its assets. Asset insertion order is display order.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrArtifactNotFound marks operations targeting an absent artifact row.
	// Lookups return nil, nil; services writing against an artifact return
	// this instead of letting the foreign key violation surface.
	ErrArtifactNotFound = errors.New("catalog: artifact not found")

	// ErrAssetNotFound marks operations targeting an absent asset row.
	ErrAssetNotFound = errors.New("catalog: asset not found")
)

// Status values for an artifact's treatment state.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// ValidStatus reports whether s is an accepted artifact status.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted
}

// Store wraps the SQLite catalog database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path with production
// pragmas (WAL, busy_timeout, foreign_keys) and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("catalog: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: %s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory catalog for testing. MaxOpenConns(1)
// keeps every query on the same in-memory database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("catalog.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// DB returns the underlying *sql.DB for sharing with the event logger.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS artifacts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    catalog_number  TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL,
    site            TEXT,
    era             TEXT,
    category        TEXT,
    project         TEXT,
    status          TEXT NOT NULL DEFAULT 'pending'
                    CHECK (status IN ('pending','processing','completed')),
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact_id     INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
    file_path       TEXT NOT NULL,
    file_name       TEXT NOT NULL,
    size_bytes      INTEGER NOT NULL DEFAULT 0,
    media_type      TEXT,
    is_primary      INTEGER NOT NULL DEFAULT 0,
    annotation      TEXT,
    created_at      TEXT NOT NULL,
    UNIQUE (artifact_id, file_path)
);

CREATE TABLE IF NOT EXISTS integration_tokens (
    provider        TEXT PRIMARY KEY,
    payload         TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assets_artifact  ON assets(artifact_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
`
	_, err := s.db.Exec(ddl)
	return err
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// --- Artifacts ---

// Artifact represents an artifacts row. Images is the ordered list of
// asset paths (insertion order), populated by Get/List.
type Artifact struct {
	ID            int64    `json:"id"`
	CatalogNumber string   `json:"catalog_number"`
	Name          string   `json:"name"`
	Site          string   `json:"site,omitempty"`
	Era           string   `json:"era,omitempty"`
	Category      string   `json:"category,omitempty"`
	Project       string   `json:"project,omitempty"`
	Status        string   `json:"status"`
	Images        []string `json:"images"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// CreateArtifact inserts a new artifact and returns it with its ID set.
func (s *Store) CreateArtifact(ctx context.Context, a *Artifact) error {
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !ValidStatus(a.Status) {
		return fmt.Errorf("catalog: invalid status %q", a.Status)
	}
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (catalog_number, name, site, era, category, project, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CatalogNumber, a.Name, a.Site, a.Era, a.Category, a.Project, a.Status, ts, ts)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	a.CreatedAt, a.UpdatedAt = ts, ts
	return err
}

// GetArtifact returns an artifact by ID with its ordered image paths.
// Returns nil, nil if not found.
func (s *Store) GetArtifact(ctx context.Context, id int64) (*Artifact, error) {
	a := &Artifact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, catalog_number, name, site, era, category, project, status, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id).
		Scan(&a.ID, &a.CatalogNumber, &a.Name, &a.Site, &a.Era, &a.Category, &a.Project,
			&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Images, err = s.listImagePaths(ctx, id)
	return a, err
}

func (s *Store) listImagePaths(ctx context.Context, artifactID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path FROM assets WHERE artifact_id = ? ORDER BY id`, artifactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ListArtifacts returns all artifacts ordered by creation time (image
// paths are not populated; use GetArtifact for the full record).
func (s *Store) ListArtifacts(ctx context.Context) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, catalog_number, name, site, era, category, project, status, created_at, updated_at
		 FROM artifacts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.ID, &a.CatalogNumber, &a.Name, &a.Site, &a.Era, &a.Category,
			&a.Project, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// UpdateArtifact overwrites the mutable descriptive fields of an artifact.
func (s *Store) UpdateArtifact(ctx context.Context, a *Artifact) error {
	if !ValidStatus(a.Status) {
		return fmt.Errorf("catalog: invalid status %q", a.Status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET name = ?, site = ?, era = ?, category = ?, project = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Site, a.Era, a.Category, a.Project, a.Status, now(), a.ID)
	return err
}

// DeleteArtifact deletes an artifact. CASCADE removes its asset rows;
// the caller is responsible for removing files from disk.
func (s *Store) DeleteArtifact(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	return err
}

// TouchArtifact bumps updated_at, used after ingestion mutates the image list.
func (s *Store) TouchArtifact(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE artifacts SET updated_at = ? WHERE id = ?`, now(), id)
	return err
}

// --- Assets ---

// Asset represents an assets row. Annotation is the opaque serialized
// annotation payload ("" when absent).
type Asset struct {
	ID         int64  `json:"id"`
	ArtifactID int64  `json:"artifact_id"`
	FilePath   string `json:"file_path"`
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
	MediaType  string `json:"media_type,omitempty"`
	IsPrimary  bool   `json:"is_primary"`
	Annotation string `json:"-"`
	CreatedAt  string `json:"created_at"`
}

// InsertAsset inserts a new asset row and sets its ID.
func (s *Store) InsertAsset(ctx context.Context, a *Asset) error {
	primary := 0
	if a.IsPrimary {
		primary = 1
	}
	var annotation any
	if a.Annotation != "" {
		annotation = a.Annotation
	}
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (artifact_id, file_path, file_name, size_bytes, media_type, is_primary, annotation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.FilePath, a.FileName, a.SizeBytes, a.MediaType, primary, annotation, ts)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	a.CreatedAt = ts
	return err
}

// GetAsset returns an asset by (artifactID, filePath). Returns nil, nil
// if not found.
func (s *Store) GetAsset(ctx context.Context, artifactID int64, filePath string) (*Asset, error) {
	a := &Asset{}
	var primary int
	var annotation sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_id, file_path, file_name, size_bytes, media_type, is_primary, annotation, created_at
		 FROM assets WHERE artifact_id = ? AND file_path = ?`, artifactID, filePath).
		Scan(&a.ID, &a.ArtifactID, &a.FilePath, &a.FileName, &a.SizeBytes, &a.MediaType,
			&primary, &annotation, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsPrimary = primary == 1
	a.Annotation = annotation.String
	return a, nil
}

// ListAssets returns all assets of an artifact in insertion order.
func (s *Store) ListAssets(ctx context.Context, artifactID int64) ([]*Asset, error) {
	return s.queryAssets(ctx,
		`SELECT id, artifact_id, file_path, file_name, size_bytes, media_type, is_primary, annotation, created_at
		 FROM assets WHERE artifact_id = ? ORDER BY id`, artifactID)
}

// ListAnnotatedAssets returns assets of an artifact carrying a non-null
// annotation payload, in insertion order.
func (s *Store) ListAnnotatedAssets(ctx context.Context, artifactID int64) ([]*Asset, error) {
	return s.queryAssets(ctx,
		`SELECT id, artifact_id, file_path, file_name, size_bytes, media_type, is_primary, annotation, created_at
		 FROM assets WHERE artifact_id = ? AND annotation IS NOT NULL ORDER BY id`, artifactID)
}

func (s *Store) queryAssets(ctx context.Context, query string, args ...any) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a := &Asset{}
		var primary int
		var annotation sql.NullString
		if err := rows.Scan(&a.ID, &a.ArtifactID, &a.FilePath, &a.FileName, &a.SizeBytes,
			&a.MediaType, &primary, &annotation, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IsPrimary = primary == 1
		a.Annotation = annotation.String
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// SetAssetAnnotation updates the annotation payload of an existing asset.
func (s *Store) SetAssetAnnotation(ctx context.Context, artifactID int64, filePath, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE assets SET annotation = ? WHERE artifact_id = ? AND file_path = ?`,
		payload, artifactID, filePath)
	return err
}

// DeleteAsset removes an asset row by (artifactID, filePath).
func (s *Store) DeleteAsset(ctx context.Context, artifactID int64, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assets WHERE artifact_id = ? AND file_path = ?`, artifactID, filePath)
	return err
}

// --- Integration tokens ---

// SaveIntegrationToken upserts the (already encrypted) token payload for a
// provider. The catalog never sees plaintext token material.
func (s *Store) SaveIntegrationToken(ctx context.Context, provider, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integration_tokens (provider, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		provider, payload, now())
	return err
}

// LoadIntegrationToken returns the stored payload for a provider.
// Returns "", nil if absent.
func (s *Store) LoadIntegrationToken(ctx context.Context, provider string) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM integration_tokens WHERE provider = ?`, provider).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return payload, err
}
