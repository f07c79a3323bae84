// Package observability records domain-level business events (uploads,
// annotation writes, protect/unprotect, timelapse captures) in the
// catalog database for later inspection. Event writes are non-blocking:
// a failing event store never fails the operation it describes.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the catalog API.
const (
	EventUpload     = "image_upload"
	EventAnnotation = "annotation_write"
	EventProtect    = "protect"
	EventUnprotect  = "unprotect"
	EventTimelapse  = "timelapse_frame"
	EventRotate     = "image_rotate"
	EventDelete     = "image_delete"
)

// Event is one domain-level event to record.
type Event struct {
	Type       string
	ArtifactID int64
	AssetPath  string
	Details    string // optional JSON
	Success    bool
}

// EventLogger writes business events and manages retention cleanup.
type EventLogger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventLogger creates a logger backed by db and ensures its schema.
func NewEventLogger(db *sql.DB, logger *slog.Logger) (*EventLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS business_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    artifact_id INTEGER,
    asset_path  TEXT,
    details     TEXT,
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON business_events(event_type, created_at);
`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("observability: schema: %w", err)
	}
	return &EventLogger{db: db, logger: logger}, nil
}

// Log records a business event. Errors are logged, not propagated.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	success := 0
	if event.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_events (event_id, event_type, artifact_id, asset_path, details, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"evt_"+uuid.NewString(), event.Type, event.ArtifactID, event.AssetPath,
		event.Details, success, time.Now().Unix())
	if err != nil {
		l.logger.Error("business event log failed", "error", err, "event_type", event.Type)
	}
}

// Cleanup deletes events older than the retention window. Zero days means
// no cleanup.
func (l *EventLogger) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM business_events WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("observability: cleanup: %w", err)
	}
	return nil
}

// StartCleanup runs Cleanup once a day until done is closed.
func (l *EventLogger) StartCleanup(done <-chan struct{}, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	tick := time.NewTicker(24 * time.Hour)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if err := l.Cleanup(context.Background(), retentionDays); err != nil {
					l.logger.Warn("event cleanup failed", "error", err)
				}
			}
		}
	}()
}
