package observability

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogEvent(t *testing.T) {
	db := openMemory(t)
	l, err := NewEventLogger(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventUpload, ArtifactID: 7, AssetPath: "/data/uploads/x.png", Success: true})
	l.Log(ctx, Event{Type: EventProtect, ArtifactID: 7, Success: false})

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM business_events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	var eventType string
	var success int
	err = db.QueryRow(`SELECT event_type, success FROM business_events WHERE event_type = ?`, EventProtect).
		Scan(&eventType, &success)
	if err != nil {
		t.Fatal(err)
	}
	if success != 0 {
		t.Fatalf("success = %d, want 0", success)
	}
}

func TestCleanup(t *testing.T) {
	db := openMemory(t)
	l, err := NewEventLogger(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// One fresh event and one planted far in the past.
	l.Log(ctx, Event{Type: EventUpload, Success: true})
	if _, err := db.Exec(`
		INSERT INTO business_events (event_id, event_type, success, created_at)
		VALUES ('evt_old', ?, 1, 1000000)`, EventUpload); err != nil {
		t.Fatal(err)
	}

	if err := l.Cleanup(ctx, 30); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM business_events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count after cleanup = %d, want 1", count)
	}

	// Zero retention is a no-op.
	if err := l.Cleanup(ctx, 0); err != nil {
		t.Fatal(err)
	}
}
